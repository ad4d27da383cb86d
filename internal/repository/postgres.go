// Package repository is the pgx data access layer: message inserts into
// monthly partitions, idempotency markers, and the signature audit trail.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatrelay/chatrelay/internal/models"
	"github.com/chatrelay/chatrelay/internal/partition"
)

// PostgresRepository wraps a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to Postgres and verifies the connection.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() { r.pool.Close() }

// Pool exposes the underlying pool for components sharing the connection,
// such as the partition manager.
func (r *PostgresRepository) Pool() *pgxpool.Pool { return r.pool }

// Ping verifies database connectivity, used by the readiness probe.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// InsertMessage inserts rec into the given monthly table. A duplicate
// event_id is not an error: the insert is skipped and false is returned,
// which callers treat as "already processed" (lost check-then-insert race
// under concurrent redelivery).
func (r *PostgresRepository) InsertMessage(ctx context.Context, yearMonth string, rec *models.MessageRecord) (bool, error) {
	if !partition.ValidKey(yearMonth) {
		return false, fmt.Errorf("invalid partition key %q", yearMonth)
	}
	table := partition.ResolveMessagesTable(yearMonth)

	q := fmt.Sprintf(`INSERT INTO %s (
            event_id, sender_id, source_type, group_id, sent_at,
            reply_token, quote_token, quoted_message_id, platform_message_id,
            message_type, content, raw_payload, created_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (event_id) DO NOTHING`, table)

	tag, err := r.pool.Exec(ctx, q,
		rec.EventID, rec.SenderID, rec.SourceType, nullable(rec.GroupID), rec.SentAt,
		nullable(rec.ReplyToken), nullable(rec.QuoteToken), nullable(rec.QuotedMessageID),
		nullable(rec.PlatformMessageID), rec.MessageType, rec.Content,
		[]byte(rec.RawPayload), rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkerExists reports whether eventID has a marker in the given month's
// ledger table.
func (r *PostgresRepository) MarkerExists(ctx context.Context, yearMonth, eventID string) (bool, error) {
	if !partition.ValidKey(yearMonth) {
		return false, fmt.Errorf("invalid partition key %q", yearMonth)
	}
	table := partition.ResolveMarkersTable(yearMonth)

	var exists bool
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE event_id = $1)`, table)
	if err := r.pool.QueryRow(ctx, q, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("query marker: %w", err)
	}
	return exists, nil
}

// InsertMarker records an idempotency marker. Re-inserting the same marker is
// a no-op.
func (r *PostgresRepository) InsertMarker(ctx context.Context, yearMonth, eventID string) error {
	if !partition.ValidKey(yearMonth) {
		return fmt.Errorf("invalid partition key %q", yearMonth)
	}
	table := partition.ResolveMarkersTable(yearMonth)

	q := fmt.Sprintf(`INSERT INTO %s (event_id) VALUES ($1)
        ON CONFLICT (event_id) DO NOTHING`, table)
	if _, err := r.pool.Exec(ctx, q, eventID); err != nil {
		return fmt.Errorf("insert marker: %w", err)
	}
	return nil
}

// SignatureAttempt is one row of the signature verification audit trail.
// Only lengths are recorded, never signature or secret material.
type SignatureAttempt struct {
	At             time.Time
	ClientIP       string
	BodyLength     int
	SignatureLen   int
	Reason         string
	Valid          bool
	Duration       time.Duration
	SkipConfigured bool
}

// InsertSignatureAttempt appends one verification attempt to the audit trail.
func (r *PostgresRepository) InsertSignatureAttempt(ctx context.Context, a SignatureAttempt) error {
	q := `INSERT INTO signature_audit (
            attempted_at, client_ip, body_length, signature_len,
            reason, valid, duration_us, skip_configured
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.pool.Exec(ctx, q,
		a.At, a.ClientIP, a.BodyLength, a.SignatureLen,
		a.Reason, a.Valid, a.Duration.Microseconds(), a.SkipConfigured,
	)
	if err != nil {
		return fmt.Errorf("insert signature attempt: %w", err)
	}
	return nil
}

// PartitionInfo is one registry row, listed by the operator CLI.
type PartitionInfo struct {
	YearMonth     string    `json:"yearMonth"`
	MessagesTable string    `json:"messagesTable"`
	MarkersTable  string    `json:"markersTable"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ListPartitions returns all provisioned partitions, newest first.
func (r *PostgresRepository) ListPartitions(ctx context.Context) ([]PartitionInfo, error) {
	q := `SELECT year_month, messages_table, markers_table, created_at
          FROM partition_registry ORDER BY year_month DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var out []PartitionInfo
	for rows.Next() {
		var p PartitionInfo
		if err := rows.Scan(&p.YearMonth, &p.MessagesTable, &p.MarkersTable, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan partition row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetMessage fetches one stored record by event ID from the given month.
func (r *PostgresRepository) GetMessage(ctx context.Context, yearMonth, eventID string) (*models.MessageRecord, error) {
	if !partition.ValidKey(yearMonth) {
		return nil, fmt.Errorf("invalid partition key %q", yearMonth)
	}
	table := partition.ResolveMessagesTable(yearMonth)

	q := fmt.Sprintf(`SELECT event_id, sender_id, source_type, COALESCE(group_id,''),
            sent_at, COALESCE(reply_token,''), COALESCE(quote_token,''),
            COALESCE(quoted_message_id,''), COALESCE(platform_message_id,''),
            message_type, content, raw_payload, created_at
        FROM %s WHERE event_id = $1`, table)

	var rec models.MessageRecord
	var raw []byte
	err := r.pool.QueryRow(ctx, q, eventID).Scan(
		&rec.EventID, &rec.SenderID, &rec.SourceType, &rec.GroupID,
		&rec.SentAt, &rec.ReplyToken, &rec.QuoteToken,
		&rec.QuotedMessageID, &rec.PlatformMessageID,
		&rec.MessageType, &rec.Content, &raw, &rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	rec.RawPayload = raw
	return &rec, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
