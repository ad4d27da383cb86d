package models

// Per-event terminal actions and failure codes.
const (
	ActionStored     = "stored"
	ActionProcessed  = "processed"
	ActionLoggedOnly = "logged_only"

	ErrInvalidEventStructure = "invalid_event_structure"
	ErrMissingUserID         = "missing_user_id"
	ErrMessageStorageFailed  = "message_storage_failed"
	ErrHandlerPanic          = "handler_panic"
)

// EventResult is the terminal state of one event's processing.
type EventResult struct {
	Index     int    `json:"eventIndex"`
	EventType string `json:"eventType"`
	Succeeded bool   `json:"succeeded"`
	Action    string `json:"action,omitempty"`
	Error     string `json:"error,omitempty"`

	// MembersProcessed counts roster members handled for
	// memberJoined/memberLeft events.
	MembersProcessed int `json:"membersProcessed,omitempty"`
}

// BatchResult aggregates the outcomes of one webhook batch. Per-event failures
// never abort the batch.
type BatchResult struct {
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Errors     []EventResult `json:"errors,omitempty"`
	Results    []EventResult `json:"-"`
}

// Record appends an event result and updates the counters.
func (b *BatchResult) Record(r EventResult) {
	b.Results = append(b.Results, r)
	if r.Succeeded {
		b.Successful++
		return
	}
	b.Failed++
	b.Errors = append(b.Errors, r)
}
