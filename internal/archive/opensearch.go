// Package archive keeps a best-effort forensic copy of stored messages in
// OpenSearch. The Postgres partitions remain the source of truth; archive
// failures are logged and never surfaced to webhook processing.
package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/chatrelay/chatrelay/internal/logging"
	"github.com/chatrelay/chatrelay/internal/metrics"
	"github.com/chatrelay/chatrelay/internal/models"
	"github.com/chatrelay/chatrelay/internal/partition"
)

// Config holds OpenSearch connection settings.
type Config struct {
	URL         string
	Username    string
	Password    string
	Insecure    bool
	IndexPrefix string
}

// Archiver indexes stored message records into monthly indices named
// <prefix>-<yearMonth>. Document IDs are event IDs, so redeliveries
// overwrite rather than duplicate.
type Archiver struct {
	client *opensearch.Client
	prefix string
	logger *logging.Logger
}

// NewArchiver connects to OpenSearch and verifies the cluster responds.
func NewArchiver(cfg Config, logger *logging.Logger) (*Archiver, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("ping opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = "chatrelay-messages"
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Archiver{client: client, prefix: prefix, logger: logger}, nil
}

// document is the indexed shape. Content stays the normalized JSON string so
// the index mirrors exactly what Postgres holds.
type document struct {
	EventID           string          `json:"eventId"`
	SenderID          string          `json:"senderId"`
	SourceType        string          `json:"sourceType"`
	GroupID           string          `json:"groupId,omitempty"`
	MessageType       string          `json:"messageType"`
	Content           string          `json:"content"`
	RawPayload        json.RawMessage `json:"rawPayload,omitempty"`
	SentAt            time.Time       `json:"sentAt"`
	ArchivedAt        time.Time       `json:"archivedAt"`
	PlatformMessageID string          `json:"platformMessageId,omitempty"`
}

// ArchiveRecord indexes one stored record. Implements the message store's
// archiver port.
func (a *Archiver) ArchiveRecord(ctx context.Context, rec *models.MessageRecord) {
	if rec == nil {
		return
	}

	doc := document{
		EventID:           rec.EventID,
		SenderID:          rec.SenderID,
		SourceType:        rec.SourceType,
		GroupID:           rec.GroupID,
		MessageType:       rec.MessageType,
		Content:           rec.Content,
		RawPayload:        rec.RawPayload,
		SentAt:            rec.SentAt,
		ArchivedAt:        time.Now().UTC(),
		PlatformMessageID: rec.PlatformMessageID,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		a.logger.Warn("archive marshal failed", logging.EventID(rec.EventID), logging.Err(err))
		return
	}

	indexName := a.prefix + "-" + partition.KeyFromTime(rec.SentAt)
	req := opensearchapi.IndexRequest{
		Index:      indexName,
		DocumentID: rec.EventID,
		Body:       bytes.NewReader(data),
	}

	res, err := req.Do(ctx, a.client)
	if err != nil {
		metrics.CollaboratorErrors.WithLabelValues("archive").Inc()
		a.logger.Warn("archive index failed", logging.EventID(rec.EventID), logging.Err(err))
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		metrics.CollaboratorErrors.WithLabelValues("archive").Inc()
		a.logger.Warn("archive index rejected",
			logging.EventID(rec.EventID),
			logging.Partition(partition.KeyFromTime(rec.SentAt)))
		return
	}

	a.logger.Debug("record archived", logging.EventID(rec.EventID))
}
