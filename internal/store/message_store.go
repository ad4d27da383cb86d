// Package store implements the message persistence path: validation,
// deduplication, partition provisioning, normalization, and insert.
package store

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/chatrelay/chatrelay/internal/logging"
	"github.com/chatrelay/chatrelay/internal/metrics"
	"github.com/chatrelay/chatrelay/internal/models"
	"github.com/chatrelay/chatrelay/internal/partition"
)

// DefaultMaxTextLength bounds stored text in code points.
const DefaultMaxTextLength = 5000

// LedgerPort is the idempotency ledger surface the store depends on.
type LedgerPort interface {
	Seen(ctx context.Context, eventID string, sentAt time.Time) (bool, error)
	Record(ctx context.Context, eventID string, sentAt time.Time) error
}

// PartitionProvisioner ensures monthly partitions exist before writes.
type PartitionProvisioner interface {
	EnsurePartition(ctx context.Context, yearMonth string) error
}

// MessageWriter inserts records into a monthly partition. inserted=false with
// a nil error means a duplicate key, i.e. a lost check-then-insert race.
type MessageWriter interface {
	InsertMessage(ctx context.Context, yearMonth string, rec *models.MessageRecord) (bool, error)
}

// ContentNormalizer produces the canonical content for a message payload.
type ContentNormalizer interface {
	Normalize(ctx context.Context, msg *models.EventMessage) (string, error)
}

// Archiver receives stored records for forensic indexing. Best-effort;
// failures never affect the store outcome.
type Archiver interface {
	ArchiveRecord(ctx context.Context, rec *models.MessageRecord)
}

// MessageStore persists message events exactly once per event identifier.
type MessageStore struct {
	ledger     LedgerPort
	partitions PartitionProvisioner
	messages   MessageWriter
	normalizer ContentNormalizer
	archive    Archiver
	maxTextLen int
	logger     *logging.Logger
}

// New creates a MessageStore. archive may be nil. maxTextLen <= 0 selects
// DefaultMaxTextLength.
func New(l LedgerPort, p PartitionProvisioner, w MessageWriter, n ContentNormalizer, archive Archiver, maxTextLen int, logger *logging.Logger) *MessageStore {
	if maxTextLen <= 0 {
		maxTextLen = DefaultMaxTextLength
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MessageStore{
		ledger:     l,
		partitions: p,
		messages:   w,
		normalizer: n,
		archive:    archive,
		maxTextLen: maxTextLen,
		logger:     logger,
	}
}

// Store persists the message event. It returns true when the event is
// durably stored or was already stored by an earlier delivery, false on any
// failure. Callers must not retry within the same request; redelivery by the
// platform is safe because of the dedup check.
func (s *MessageStore) Store(ctx context.Context, ev *models.InboundEvent) bool {
	start := time.Now()
	defer func() {
		metrics.StorageDuration.Observe(time.Since(start).Seconds())
	}()

	if !s.validate(ctx, ev) {
		metrics.StorageErrors.Inc()
		return false
	}

	eventID := ev.EventID()
	if eventID == "" {
		// No derivable identifier means no dedup, so the message must not
		// be stored at all.
		s.logger.WarnContext(ctx, "message has no derivable event id, refusing to store",
			logging.SenderID(ev.Source.UserID))
		metrics.StorageErrors.Inc()
		return false
	}

	sentAt := time.UnixMilli(ev.Timestamp).UTC()

	seen, err := s.ledger.Seen(ctx, eventID, sentAt)
	if err != nil {
		s.logger.ErrorContext(ctx, "ledger query failed",
			logging.EventID(eventID), logging.Err(err))
		metrics.StorageErrors.Inc()
		return false
	}
	if seen {
		metrics.DedupHitsTotal.Inc()
		s.logger.InfoContext(ctx, "event already processed, skipping",
			logging.EventID(eventID))
		return true
	}

	key := partition.KeyFromTime(sentAt)
	if err := s.partitions.EnsurePartition(ctx, key); err != nil {
		s.logger.ErrorContext(ctx, "partition provisioning failed",
			logging.EventID(eventID), logging.Partition(key), logging.Err(err))
		metrics.StorageErrors.Inc()
		return false
	}

	content, err := s.normalizer.Normalize(ctx, ev.Message)
	if err != nil {
		s.logger.ErrorContext(ctx, "content normalization failed",
			logging.EventID(eventID), logging.Err(err))
		metrics.StorageErrors.Inc()
		return false
	}

	rec := s.buildRecord(ev, eventID, sentAt, content)

	inserted, err := s.messages.InsertMessage(ctx, key, rec)
	if err != nil {
		s.logger.ErrorContext(ctx, "message insert failed",
			logging.EventID(eventID), logging.Partition(key), logging.Err(err))
		metrics.StorageErrors.Inc()
		return false
	}
	if !inserted {
		// Lost the race against a concurrent redelivery. Already
		// processed, not an error.
		metrics.DedupHitsTotal.Inc()
	}

	if err := s.ledger.Record(ctx, eventID, sentAt); err != nil {
		// The message row is the durable fact; a missed marker only costs
		// one extra dedup probe on redelivery (the insert conflicts).
		s.logger.WarnContext(ctx, "recording idempotency marker failed",
			logging.EventID(eventID), logging.Err(err))
	}

	if s.archive != nil && inserted {
		s.archive.ArchiveRecord(ctx, rec)
	}

	return true
}

func (s *MessageStore) validate(ctx context.Context, ev *models.InboundEvent) bool {
	if ev == nil || ev.Message == nil || ev.Source == nil || ev.Source.UserID == "" || ev.Timestamp <= 0 {
		s.logger.WarnContext(ctx, "message event missing required fields")
		return false
	}
	if !models.SupportedMessageTypes[ev.Message.Type] {
		s.logger.WarnContext(ctx, "unsupported message type",
			logging.EventType(ev.Message.Type))
		return false
	}
	if ev.Message.Type == models.MessageTypeText &&
		utf8.RuneCountInString(ev.Message.Text) > s.maxTextLen {
		s.logger.WarnContext(ctx, "text message over length limit",
			logging.SenderID(ev.Source.UserID))
		return false
	}
	return true
}

func (s *MessageStore) buildRecord(ev *models.InboundEvent, eventID string, sentAt time.Time, content string) *models.MessageRecord {
	rec := &models.MessageRecord{
		EventID:           eventID,
		SenderID:          ev.Source.UserID,
		SourceType:        ev.Source.Type,
		GroupID:           ev.Source.ContextID(),
		SentAt:            sentAt,
		ReplyToken:        ev.ReplyToken,
		QuoteToken:        ev.Message.QuoteToken,
		QuotedMessageID:   ev.Message.QuotedMessageID,
		PlatformMessageID: ev.Message.ID,
		MessageType:       ev.Message.Type,
		Content:           content,
		RawPayload:        ev.Raw,
		CreatedAt:         time.Now().UTC(),
	}
	if len(rec.RawPayload) == 0 {
		rec.RawPayload = []byte("{}")
	}
	return rec
}
