package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	// OutboxStatusPending indicates the event is waiting to be published
	OutboxStatusPending = "pending"
	// OutboxStatusProcessed indicates the event reached its stream
	OutboxStatusProcessed = "processed"
	// OutboxStatusFailed indicates publishing failed and will be retried
	OutboxStatusFailed = "failed"
	// OutboxStatusDeadLetter indicates the event failed too many times
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the maximum number of retries before moving to dead letter
	MaxRetryCount = 5

	// DefaultStream receives extraction events unless configured otherwise
	DefaultStream = "stream:order_extraction"

	EventPageExtracted = "PAGE_EXTRACTED"
	EventRunCompleted  = "RUN_COMPLETED"
)

var ErrInvalidEvent = errors.New("invalid outbox event")

// OutboxEvent is one row of the transactional outbox
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

// OutboxStats counts events that still need attention.
type OutboxStats struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

// execer is satisfied by both pgx.Tx and the pool.
type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// prepare fills in defaults and rejects events the relay could not route.
func (e *OutboxEvent) prepare(now time.Time) error {
	if e.AggregateType == "" || e.AggregateID == "" || e.EventType == "" {
		return fmt.Errorf("%w: aggregate type, aggregate id and event type are required", ErrInvalidEvent)
	}
	if len(e.Payload) == 0 || !json.Valid(e.Payload) {
		return fmt.Errorf("%w: payload must be valid JSON", ErrInvalidEvent)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = OutboxStatusPending
	}
	if e.TargetStream == "" {
		e.TargetStream = DefaultStream
	}
	e.CreatedAt = now
	if e.NextRetryAt == nil {
		e.NextRetryAt = &now
	}
	return nil
}

const insertOutboxEvent = `
	INSERT INTO outbox_event (
		id, aggregate_type, aggregate_id, event_type,
		payload, target_stream, status, retry_count,
		created_at, next_retry_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
	)`

// InsertWithTx stores the event as part of the caller's transaction, so it is only published
// when the data it describes was committed.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx execer, event *OutboxEvent) error {
	if err := event.prepare(time.Now()); err != nil {
		return err
	}

	_, err := tx.Exec(ctx, insertOutboxEvent,
		event.ID, event.AggregateType, event.AggregateID, event.EventType,
		event.Payload, event.TargetStream, event.Status, event.RetryCount,
		event.CreatedAt, event.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// Insert stores a standalone event.
func (r *OutboxRepository) Insert(ctx context.Context, event *OutboxEvent) error {
	return r.InsertWithTx(ctx, r.db, event)
}

// GetPending retrieves events that are due for (re)publishing, oldest first
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

	result, err := r.db.Exec(ctx, query, OutboxStatusProcessed, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("event not found: %s", id)
	}

	return nil
}

// MarkFailed bumps the retry count and schedules the next attempt, or dead-letters the event
// once MaxRetryCount is reached.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	var retryCount int
	err := r.db.QueryRow(ctx,
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

	_, err = r.db.Exec(ctx, query, status, retryCount, processErr.Error(), nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}

	return nil
}

func (r *OutboxRepository) Stats(ctx context.Context) (OutboxStats, error) {
	var stats OutboxStats
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM outbox_event`

	err := r.db.QueryRow(ctx, query,
		OutboxStatusPending, OutboxStatusFailed, OutboxStatusDeadLetter,
	).Scan(&stats.Pending, &stats.DeadLetter)
	if err != nil {
		return OutboxStats{}, fmt.Errorf("failed to count outbox events: %w", err)
	}

	return stats, nil
}

// nextAttempt decides the status after a failed publish and when to try again.
// Backoff doubles from 2s and is capped at 5 minutes.
func nextAttempt(retryCount int, now time.Time) (string, time.Time) {
	status := OutboxStatusFailed
	if retryCount >= MaxRetryCount {
		status = OutboxStatusDeadLetter
	}

	backoffSeconds := 300
	if retryCount < 9 {
		backoffSeconds = 1 << retryCount
	}
	if backoffSeconds > 300 {
		backoffSeconds = 300
	}
	return status, now.Add(time.Duration(backoffSeconds) * time.Second)
}
