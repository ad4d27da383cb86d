// Package ledger answers "has this event already been processed" over a
// rolling two-partition window.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/chatrelay/chatrelay/internal/partition"
)

// MarkerStore persists and queries idempotency markers per monthly partition.
type MarkerStore interface {
	MarkerExists(ctx context.Context, yearMonth, eventID string) (bool, error)
	InsertMarker(ctx context.Context, yearMonth, eventID string) error
}

// PartitionChecker reports whether a monthly partition has been provisioned.
type PartitionChecker interface {
	PartitionExists(ctx context.Context, yearMonth string) (bool, error)
}

// Ledger is the sole authority on "already processed". Markers live in the
// partition of the event's content month and expire with partition retention;
// queries cover that month and the one before it.
type Ledger struct {
	markers    MarkerStore
	partitions PartitionChecker
}

// New creates a Ledger.
func New(markers MarkerStore, partitions PartitionChecker) *Ledger {
	return &Ledger{markers: markers, partitions: partitions}
}

// Seen reports whether eventID was already recorded in the partition of
// sentAt or the immediately preceding one. Unprovisioned partitions count as
// "not seen".
func (l *Ledger) Seen(ctx context.Context, eventID string, sentAt time.Time) (bool, error) {
	key := partition.KeyFromTime(sentAt)
	prev, err := partition.PreviousKey(key)
	if err != nil {
		return false, err
	}

	for _, ym := range []string{key, prev} {
		exists, err := l.partitions.PartitionExists(ctx, ym)
		if err != nil {
			return false, fmt.Errorf("check partition %s: %w", ym, err)
		}
		if !exists {
			continue
		}
		seen, err := l.markers.MarkerExists(ctx, ym, eventID)
		if err != nil {
			return false, fmt.Errorf("query ledger %s: %w", ym, err)
		}
		if seen {
			return true, nil
		}
	}
	return false, nil
}

// Record writes the marker for eventID into the partition of sentAt. Called
// only after the corresponding message insert succeeded.
func (l *Ledger) Record(ctx context.Context, eventID string, sentAt time.Time) error {
	key := partition.KeyFromTime(sentAt)
	if err := l.markers.InsertMarker(ctx, key, eventID); err != nil {
		return fmt.Errorf("record marker %s/%s: %w", key, eventID, err)
	}
	return nil
}
