package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatrelay/chatrelay/internal/models"
	"github.com/chatrelay/chatrelay/internal/partition"
)

// fakeBackend acts as ledger, provisioner and writer at once, mimicking the
// partitioned database.
type fakeBackend struct {
	mu          sync.Mutex
	partitions  map[string]bool
	markers     map[string]bool // key: yearMonth/eventID
	messages    map[string]*models.MessageRecord
	ensureErr   error
	insertErr   error
	seenErr     error
	insertCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		partitions: make(map[string]bool),
		markers:    make(map[string]bool),
		messages:   make(map[string]*models.MessageRecord),
	}
}

func (f *fakeBackend) Seen(ctx context.Context, eventID string, sentAt time.Time) (bool, error) {
	if f.seenErr != nil {
		return false, f.seenErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := partition.KeyFromTime(sentAt)
	prev, _ := partition.PreviousKey(key)
	return f.markers[key+"/"+eventID] || f.markers[prev+"/"+eventID], nil
}

func (f *fakeBackend) Record(ctx context.Context, eventID string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markers[partition.KeyFromTime(sentAt)+"/"+eventID] = true
	return nil
}

func (f *fakeBackend) EnsurePartition(ctx context.Context, yearMonth string) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partitions[yearMonth] = true
	return nil
}

func (f *fakeBackend) InsertMessage(ctx context.Context, yearMonth string, rec *models.MessageRecord) (bool, error) {
	if f.insertErr != nil {
		return false, f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	id := yearMonth + "/" + rec.EventID
	if _, dup := f.messages[id]; dup {
		return false, nil
	}
	f.messages[id] = rec
	return true, nil
}

type passNormalizer struct{}

func (passNormalizer) Normalize(ctx context.Context, msg *models.EventMessage) (string, error) {
	return msg.Text, nil
}

type failNormalizer struct{}

func (failNormalizer) Normalize(ctx context.Context, msg *models.EventMessage) (string, error) {
	return "", errors.New("normalize failed")
}

func textEvent(replyToken, text string, ts int64) *models.InboundEvent {
	return &models.InboundEvent{
		Type:       models.EventTypeMessage,
		Timestamp:  ts,
		Source:     &models.EventSource{Type: models.SourceTypeUser, UserID: "U1"},
		ReplyToken: replyToken,
		Message:    &models.EventMessage{ID: "M1", Type: models.MessageTypeText, Text: text},
		Raw:        json.RawMessage(`{"type":"message"}`),
	}
}

const nov14Millis = int64(1700000000000) // 2023-11-14T22:13:20Z

func newStore(f *fakeBackend, n ContentNormalizer) *MessageStore {
	return New(f, f, f, n, nil, 0, nil)
}

func TestStore_HappyPath(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f, passNormalizer{})

	ok := s.Store(context.Background(), textEvent("R1", "hello", nov14Millis))
	require.True(t, ok)

	rec, found := f.messages["202311/R1"]
	require.True(t, found, "record lands in the content-time partition")
	assert.Equal(t, "hello", rec.Content)
	assert.Equal(t, "U1", rec.SenderID)
	assert.True(t, f.markers["202311/R1"], "marker recorded after insert")
}

func TestStore_IdempotentOnRedelivery(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f, passNormalizer{})
	ev := textEvent("R1", "hello", nov14Millis)

	require.True(t, s.Store(context.Background(), ev))
	require.True(t, s.Store(context.Background(), ev), "redelivery returns true")

	assert.Len(t, f.messages, 1, "exactly one record after duplicate delivery")
	assert.Equal(t, 1, f.insertCalls, "second delivery short-circuits at the ledger")
}

func TestStore_LostInsertRaceIsSuccess(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f, passNormalizer{})

	// Simulate a concurrent writer that inserted the row but whose marker
	// write has not happened yet: ledger misses, insert conflicts.
	f.messages["202311/R1"] = &models.MessageRecord{EventID: "R1"}

	ok := s.Store(context.Background(), textEvent("R1", "hello", nov14Millis))
	assert.True(t, ok, "duplicate-key insert treated as already processed")
}

func TestStore_ContentTimePlacement(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f, passNormalizer{})

	// Content timestamp in July, processed "now": partition follows content.
	july := time.Date(2023, 7, 2, 10, 0, 0, 0, time.UTC).UnixMilli()
	require.True(t, s.Store(context.Background(), textEvent("R-old", "late", july)))

	_, found := f.messages["202307/R-old"]
	assert.True(t, found)
	assert.True(t, f.partitions["202307"], "July partition provisioned on demand")
}

func TestStore_EventIDFallback(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f, passNormalizer{})

	ev := textEvent("", "hi", nov14Millis)
	ev.WebhookEventID = "W42"
	require.True(t, s.Store(context.Background(), ev))

	_, found := f.messages["202311/W42"]
	assert.True(t, found)
}

func TestStore_NoIdentifierFailsClosed(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f, passNormalizer{})

	ok := s.Store(context.Background(), textEvent("", "hi", nov14Millis))
	assert.False(t, ok)
	assert.Empty(t, f.messages)
	assert.Empty(t, f.markers)
}

func TestStore_ValidationFailures(t *testing.T) {
	f := newFakeBackend()
	s := newStore(f, passNormalizer{})
	ctx := context.Background()

	t.Run("nil message", func(t *testing.T) {
		ev := textEvent("R1", "x", nov14Millis)
		ev.Message = nil
		assert.False(t, s.Store(ctx, ev))
	})

	t.Run("missing sender", func(t *testing.T) {
		ev := textEvent("R1", "x", nov14Millis)
		ev.Source.UserID = ""
		assert.False(t, s.Store(ctx, ev))
	})

	t.Run("unsupported message type", func(t *testing.T) {
		ev := textEvent("R1", "x", nov14Millis)
		ev.Message.Type = "hologram"
		assert.False(t, s.Store(ctx, ev))
	})

	t.Run("text over limit", func(t *testing.T) {
		ev := textEvent("R1", strings.Repeat("x", DefaultMaxTextLength+1), nov14Millis)
		assert.False(t, s.Store(ctx, ev))
	})

	t.Run("zero timestamp", func(t *testing.T) {
		ev := textEvent("R1", "x", 0)
		assert.False(t, s.Store(ctx, ev))
	})
}

func TestStore_FailurePaths(t *testing.T) {
	ctx := context.Background()

	t.Run("ledger error", func(t *testing.T) {
		f := newFakeBackend()
		f.seenErr = errors.New("db down")
		assert.False(t, newStore(f, passNormalizer{}).Store(ctx, textEvent("R1", "x", nov14Millis)))
	})

	t.Run("provisioning error is fatal", func(t *testing.T) {
		f := newFakeBackend()
		f.ensureErr = errors.New("ddl denied")
		assert.False(t, newStore(f, passNormalizer{}).Store(ctx, textEvent("R1", "x", nov14Millis)))
	})

	t.Run("normalization error", func(t *testing.T) {
		f := newFakeBackend()
		assert.False(t, newStore(f, failNormalizer{}).Store(ctx, textEvent("R1", "x", nov14Millis)))
		assert.Empty(t, f.messages)
	})

	t.Run("insert error", func(t *testing.T) {
		f := newFakeBackend()
		f.insertErr = errors.New("disk full")
		assert.False(t, newStore(f, passNormalizer{}).Store(ctx, textEvent("R1", "x", nov14Millis)))
	})
}
