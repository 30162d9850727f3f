package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is a row of the outbox table. An event is ready to send when
// delivered_at is null and next_attempt_at has passed.
type OutboxEvent struct {
	ID            uuid.UUID
	EventType     string
	PartitionKey  *uuid.UUID
	Receivers     json.RawMessage
	Payload       json.RawMessage
	CreatedAt     time.Time
	DeliveredAt   *time.Time
	NextAttemptAt time.Time
	AttemptCount  int32
	LastError     *string
}

// InsertOutboxParams carries a new outbox event, enqueued inside the same
// transaction as the business state change.
type InsertOutboxParams struct {
	ID           uuid.UUID
	EventType    string
	PartitionKey *uuid.UUID
	Receivers    []uuid.UUID
	Payload      []byte
}

const insertOutbox = `
INSERT INTO outbox_events
  (id, event_type, partition_key, receivers_json, payload_json, created_at, next_attempt_at, attempt_count)
VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, now(), now(), 0)
`

// InsertOutbox enqueues an event for the notifier.
func (q *Queries) InsertOutbox(ctx context.Context, arg InsertOutboxParams) error {
	receivers, err := json.Marshal(arg.Receivers)
	if err != nil {
		return fmt.Errorf("marshal receivers: %w", err)
	}
	_, err = q.db.Exec(ctx, insertOutbox,
		arg.ID, arg.EventType, arg.PartitionKey, string(receivers), string(arg.Payload))
	return err
}

const claimReadyOutbox = `
SELECT id, event_type, partition_key, receivers_json, payload_json,
       created_at, delivered_at, next_attempt_at, attempt_count, last_error
FROM outbox_events
WHERE delivered_at IS NULL AND next_attempt_at <= now()
ORDER BY created_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED
`

// ClaimReadyOutbox locks up to limit ready events for this transaction.
// SKIP LOCKED keeps concurrent notifiers off each other's claims.
func (q *Queries) ClaimReadyOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := q.db.Query(ctx, claimReadyOutbox, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.PartitionKey, &e.Receivers, &e.Payload,
			&e.CreatedAt, &e.DeliveredAt, &e.NextAttemptAt, &e.AttemptCount, &e.LastError); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

const markOutboxDelivered = `
UPDATE outbox_events SET delivered_at = $2 WHERE id = $1
`

// MarkOutboxDelivered records a successful publish; the event is never
// attempted again.
func (q *Queries) MarkOutboxDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := q.db.Exec(ctx, markOutboxDelivered, id, at)
	return err
}

const rescheduleOutbox = `
UPDATE outbox_events
SET next_attempt_at = $2, attempt_count = attempt_count + 1, last_error = $3
WHERE id = $1
`

// RescheduleOutbox pushes a failed event to a later attempt.
func (q *Queries) RescheduleOutbox(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, lastError string) error {
	_, err := q.db.Exec(ctx, rescheduleOutbox, id, nextAttemptAt, lastError)
	return err
}
