package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/shop-image-collector/internal/models"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount publish attempts before an event is parked as dead letter.
	MaxRetryCount = 5
	maxBackoff    = 5 * time.Minute

	DefaultRunStream = "stream:collection_runs"

	runAggregate = "collection_run"

	EventCollectionSucceeded = "COLLECTION_SUCCEEDED"
	EventCollectionFailed    = "COLLECTION_FAILED"
	EventErrorPageDetected   = "ERROR_PAGE_DETECTED"
)

var ErrInvalidEvent = errors.New("invalid outbox event")

// OutboxEvent is one run notification waiting to be published to a stream.
type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
	TargetStream  string
	RetryCount    int
	CreatedAt     time.Time
}

// runEventType classifies a run for stream consumers. Error pages are
// reported separately from ordinary failures.
func runEventType(run *models.CollectionRun) string {
	switch {
	case run.IsErrorPage:
		return EventErrorPageDetected
	case run.Success:
		return EventCollectionSucceeded
	default:
		return EventCollectionFailed
	}
}

// runEvent wraps run as an outbox event for stream. The payload is the run
// record itself.
func runEvent(run *models.CollectionRun, stream string) (*OutboxEvent, error) {
	payload, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run: %w", err)
	}
	if stream == "" {
		stream = DefaultRunStream
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: runAggregate,
		AggregateID:   run.ID.String(),
		EventType:     runEventType(run),
		Payload:       payload,
		TargetStream:  stream,
		CreatedAt:     createdAt,
	}, nil
}

func (e *OutboxEvent) validate() error {
	switch {
	case e.AggregateType == "":
		return fmt.Errorf("%w: missing aggregate type", ErrInvalidEvent)
	case e.EventType == "":
		return fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	case len(e.Payload) == 0:
		return fmt.Errorf("%w: missing payload", ErrInvalidEvent)
	}
	return nil
}

type OutboxRepository struct {
	db *DB
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// InsertWithTx queues event inside tx so it commits together with its run.
// The event is due immediately.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if err := event.validate(); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultRunStream
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_event (
			id, aggregate_type, aggregate_id, event_type, payload,
			target_stream, status, created_at, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		event.ID, event.AggregateType, event.AggregateID, event.EventType, event.Payload,
		event.TargetStream, OutboxStatusPending, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// GetPending returns up to limit due events, oldest first. Failed events
// come back once their backoff has elapsed.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload,
			target_stream, retry_count, created_at
		FROM outbox_event
		WHERE status IN ($1, $2) AND next_retry_at <= NOW()
		ORDER BY created_at, id
		LIMIT $3`,
		OutboxStatusPending, OutboxStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	events := make([]*OutboxEvent, 0, limit)
	for rows.Next() {
		e := &OutboxEvent{}
		if err := rows.Scan(
			&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload,
			&e.TargetStream, &e.RetryCount, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE outbox_event SET status = $1, processed_at = NOW(), error_message = NULL
		WHERE id = $2`,
		OutboxStatusProcessed, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event not found: %s", id)
	}
	return nil
}

// MarkFailed records a failed publish and schedules the next attempt. The
// row is locked while the retry count is read so concurrent relays cannot
// lose an attempt.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, publishErr error) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		var attempts int
		err := tx.QueryRow(ctx,
			"SELECT retry_count FROM outbox_event WHERE id = $1 FOR UPDATE", id).Scan(&attempts)
		if err != nil {
			return fmt.Errorf("failed to get retry count: %w", err)
		}
		attempts++

		status := OutboxStatusFailed
		if attempts >= MaxRetryCount {
			status = OutboxStatusDeadLetter
		}

		_, err = tx.Exec(ctx, `
			UPDATE outbox_event
			SET status = $1, retry_count = $2, error_message = $3, next_retry_at = $4
			WHERE id = $5`,
			status, attempts, publishErr.Error(), time.Now().Add(retryBackoff(attempts)), id)
		if err != nil {
			return fmt.Errorf("failed to mark event as failed: %w", err)
		}
		return nil
	})
}

// retryBackoff doubles per attempt, capped at maxBackoff.
func retryBackoff(attempts int) time.Duration {
	if attempts > 9 {
		return maxBackoff
	}
	d := time.Duration(1<<attempts) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
