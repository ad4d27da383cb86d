// Package parser decodes and structurally validates webhook event batches.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chatrelay/chatrelay/internal/models"
)

// Batch-level parse failures. Event-level problems never surface here; they
// are handled per event downstream.
var (
	ErrEmptyBody     = errors.New("empty request body")
	ErrInvalidJSON   = errors.New("request body is not valid JSON")
	ErrMissingEvents = errors.New("request body has no events array")
)

type envelope struct {
	Destination string             `json:"destination"`
	Events      *[]json.RawMessage `json:"events"`
}

// Parse decodes rawBody into an EventBatch. Only batch-level shape is
// validated: a batch with zero events is a valid no-op, and an element that
// fails to decode is kept as a zero-value event (it fails per-event structural
// validation later) rather than aborting the batch.
func Parse(rawBody []byte) (*models.EventBatch, error) {
	if len(rawBody) == 0 {
		return nil, ErrEmptyBody
	}

	var env envelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if env.Events == nil {
		return nil, ErrMissingEvents
	}

	batch := &models.EventBatch{
		Destination: env.Destination,
		Events:      make([]models.InboundEvent, len(*env.Events)),
		Raw:         *env.Events,
	}

	for i, raw := range *env.Events {
		var ev models.InboundEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			// Undecodable element: keep the raw bytes so the event can
			// still be failed and audited individually.
			ev = models.InboundEvent{Raw: raw}
		}
		batch.Events[i] = ev
	}

	return batch, nil
}
