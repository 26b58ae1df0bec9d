package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is how many publish failures an event survives before it
	// is parked as dead letter.
	MaxRetryCount = 5

	DefaultStream = "stream:price_batches"
)

// OutboxEvent is a pending message written in the same transaction as the
// rows it describes and relayed to Redis afterwards.
type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS outbox_event (
			id             UUID PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			aggregate_id   TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			payload        JSONB NOT NULL,
			target_stream  TEXT NOT NULL,
			status         TEXT NOT NULL,
			retry_count    INT NOT NULL DEFAULT 0,
			error_message  TEXT,
			created_at     TIMESTAMPTZ NOT NULL,
			processed_at   TIMESTAMPTZ,
			next_retry_at  TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS outbox_event_pending_idx
			ON outbox_event (status, next_retry_at);`

	if _, err := r.db.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create outbox table: %w", err)
	}
	return nil
}

// InsertWithTx stores event as part of tx. Missing ID, status and stream are
// filled in.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if event.AggregateType == "" || event.AggregateID == "" || event.EventType == "" {
		return fmt.Errorf("outbox event needs aggregate type, aggregate id and event type")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultStream
	}

	now := time.Now()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	query := `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			created_at, next_retry_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)`

	_, err := tx.Exec(ctx, query,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// GetPending returns up to limit events due for (re)delivery, oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query := `
		SELECT
			id, aggregate_type, aggregate_id, event_type,
			payload, target_stream, status, retry_count,
			error_message, created_at, processed_at, next_retry_at
		FROM outbox_event
		WHERE status IN ($1, $2)
			AND next_retry_at <= $3
		ORDER BY created_at ASC
		LIMIT $4`

	rows, err := r.db.pool.Query(ctx, query,
		OutboxStatusPending, OutboxStatusFailed,
		time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		event := &OutboxEvent{}
		err := rows.Scan(
			&event.ID, &event.AggregateType, &event.AggregateID, &event.EventType,
			&event.Payload, &event.TargetStream, &event.Status, &event.RetryCount,
			&event.ErrorMessage, &event.CreatedAt, &event.ProcessedAt, &event.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox_event
		SET status = $1, processed_at = $2
		WHERE id = $3`

	result, err := r.db.pool.Exec(ctx, query, OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("event not found: %s", id)
	}

	return nil
}

// MarkFailed records the publish error and schedules the next attempt, or
// parks the event once MaxRetryCount is reached.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	var retryCount int
	err := r.db.pool.QueryRow(ctx,
		"SELECT retry_count FROM outbox_event WHERE id = $1", id).Scan(&retryCount)
	if err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	retryCount++
	status, nextRetryAt := nextAttempt(retryCount, time.Now())

	query := `
		UPDATE outbox_event
		SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
		WHERE id = $5`

	_, err = r.db.pool.Exec(ctx, query, status, retryCount, processErr.Error(), nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}

	return nil
}

func (r *OutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM outbox_event WHERE status = ANY($1)", statuses).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return count, nil
}

// nextAttempt backs off exponentially (2s, 4s, 8s, ...) capped at five
// minutes.
func nextAttempt(retryCount int, now time.Time) (string, time.Time) {
	status := OutboxStatusFailed
	if retryCount >= MaxRetryCount {
		status = OutboxStatusDeadLetter
	}

	backoffSeconds := 300
	if retryCount < 9 && 1<<retryCount < backoffSeconds {
		backoffSeconds = 1 << retryCount
	}
	return status, now.Add(time.Duration(backoffSeconds) * time.Second)
}
