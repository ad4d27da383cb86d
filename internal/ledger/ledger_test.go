package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	partitions map[string]bool
	markers    map[string]map[string]bool
	failQuery  bool
}

func newFakeStore(partitions ...string) *fakeStore {
	f := &fakeStore{
		partitions: make(map[string]bool),
		markers:    make(map[string]map[string]bool),
	}
	for _, p := range partitions {
		f.partitions[p] = true
		f.markers[p] = make(map[string]bool)
	}
	return f
}

func (f *fakeStore) PartitionExists(ctx context.Context, ym string) (bool, error) {
	return f.partitions[ym], nil
}

func (f *fakeStore) MarkerExists(ctx context.Context, ym, eventID string) (bool, error) {
	if f.failQuery {
		return false, errors.New("db down")
	}
	return f.markers[ym][eventID], nil
}

func (f *fakeStore) InsertMarker(ctx context.Context, ym, eventID string) error {
	if f.markers[ym] == nil {
		f.markers[ym] = make(map[string]bool)
	}
	f.markers[ym][eventID] = true
	return nil
}

var nov14 = time.Date(2023, 11, 14, 12, 0, 0, 0, time.UTC)

func TestSeen_NotRecorded(t *testing.T) {
	store := newFakeStore("202311", "202310")
	l := New(store, store)

	seen, err := l.Seen(context.Background(), "R1", nov14)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRecordThenSeen(t *testing.T) {
	store := newFakeStore("202311", "202310")
	l := New(store, store)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "R1", nov14))

	seen, err := l.Seen(ctx, "R1", nov14)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSeen_CoversPreviousPartition(t *testing.T) {
	store := newFakeStore("202311", "202310")
	l := New(store, store)
	ctx := context.Background()

	// Marker recorded in October; a redelivery arriving with a November
	// content timestamp must still be caught.
	oct31 := time.Date(2023, 10, 31, 23, 59, 0, 0, time.UTC)
	require.NoError(t, l.Record(ctx, "R-late", oct31))

	seen, err := l.Seen(ctx, "R-late", nov14)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestSeen_IgnoresOlderPartitions(t *testing.T) {
	store := newFakeStore("202311", "202310", "202309")
	l := New(store, store)
	ctx := context.Background()

	sep := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.Record(ctx, "R-ancient", sep))

	seen, err := l.Seen(ctx, "R-ancient", nov14)
	require.NoError(t, err)
	assert.False(t, seen, "window is two partitions, not three")
}

func TestSeen_UnprovisionedPartitionIsNotSeen(t *testing.T) {
	store := newFakeStore("202311") // previous month never provisioned
	l := New(store, store)

	seen, err := l.Seen(context.Background(), "R1", nov14)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSeen_QueryErrorPropagates(t *testing.T) {
	store := newFakeStore("202311")
	store.failQuery = true
	l := New(store, store)

	_, err := l.Seen(context.Background(), "R1", nov14)
	assert.Error(t, err)
}
