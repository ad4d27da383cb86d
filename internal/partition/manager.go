// Package partition owns the monthly message partitions: it derives partition
// keys from content timestamps and provisions tables on demand.
package partition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/chatrelay/internal/metrics"
)

const (
	messagesTablePrefix = "messages_"
	markersTablePrefix  = "event_markers_"
)

// Manager provisions and resolves monthly partitions. Provisioning is
// idempotent; concurrent deliveries racing on the same new month both succeed.
type Manager struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	known map[string]bool
}

// NewManager creates a Manager over the given connection pool.
func NewManager(pool *pgxpool.Pool) *Manager {
	return &Manager{
		pool:  pool,
		known: make(map[string]bool),
	}
}

// ResolveMessagesTable returns the message table name for a partition key.
func ResolveMessagesTable(yearMonth string) string {
	return messagesTablePrefix + yearMonth
}

// ResolveMarkersTable returns the idempotency marker table name for a
// partition key.
func ResolveMarkersTable(yearMonth string) string {
	return markersTablePrefix + yearMonth
}

// PartitionExists reports whether the partition for yearMonth has been
// provisioned.
func (m *Manager) PartitionExists(ctx context.Context, yearMonth string) (bool, error) {
	if !ValidKey(yearMonth) {
		return false, fmt.Errorf("invalid partition key %q", yearMonth)
	}

	m.mu.RLock()
	cached := m.known[yearMonth]
	m.mu.RUnlock()
	if cached {
		return true, nil
	}

	var exists bool
	err := m.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM partition_registry WHERE year_month = $1)`,
		yearMonth,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query partition registry: %w", err)
	}

	if exists {
		m.mu.Lock()
		m.known[yearMonth] = true
		m.mu.Unlock()
	}
	return exists, nil
}

// EnsurePartition provisions the monthly message and marker tables for
// yearMonth if they do not exist yet.
func (m *Manager) EnsurePartition(ctx context.Context, yearMonth string) error {
	if !ValidKey(yearMonth) {
		return fmt.Errorf("invalid partition key %q", yearMonth)
	}

	exists, err := m.PartitionExists(ctx, yearMonth)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	messagesTable := ResolveMessagesTable(yearMonth)
	markersTable := ResolveMarkersTable(yearMonth)

	// Key shape is validated above; identifiers are safe to interpolate.
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			event_id            TEXT PRIMARY KEY,
			sender_id           TEXT NOT NULL,
			source_type         TEXT NOT NULL,
			group_id            TEXT,
			sent_at             TIMESTAMPTZ NOT NULL,
			reply_token         TEXT,
			quote_token         TEXT,
			quoted_message_id   TEXT,
			platform_message_id TEXT,
			message_type        TEXT NOT NULL,
			content             TEXT NOT NULL,
			raw_payload         JSONB NOT NULL,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, messagesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sender
			ON %s (sender_id, sent_at)`, messagesTable, messagesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			event_id   TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, markersTable),
	}

	for _, stmt := range ddl {
		if _, err := m.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("provision partition %s: %w", yearMonth, err)
		}
	}

	_, err = m.pool.Exec(ctx,
		`INSERT INTO partition_registry (year_month, messages_table, markers_table)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (year_month) DO NOTHING`,
		yearMonth, messagesTable, markersTable,
	)
	if err != nil {
		return fmt.Errorf("register partition %s: %w", yearMonth, err)
	}

	m.mu.Lock()
	m.known[yearMonth] = true
	m.mu.Unlock()

	metrics.PartitionsProvisioned.Inc()
	slog.Info("provisioned partition",
		slog.String("partition", yearMonth),
		slog.String("messages_table", messagesTable),
		slog.String("markers_table", markersTable),
	)
	return nil
}
