// Package outbox publishes committed events to the broker. Events are
// written in the same transaction as the state change they announce; the
// notifier's loop is the only component that moves them out.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"chat-backend/internal/repository"
)

const (
	// DefaultBatchSize caps the events claimed per tick.
	DefaultBatchSize = 256

	// DefaultIdleSleep is the pause after a tick that claimed nothing.
	DefaultIdleSleep = 200 * time.Millisecond

	// DefaultBackoff delays a failed event's next attempt. Fixed and
	// non-decreasing.
	DefaultBackoff = 2 * time.Second

	// maxLastErrorLen truncates the stored publish error.
	maxLastErrorLen = 1024
)

// Publisher sends one payload to the broker under a routing key.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// NotifierConfig tunes the notifier loop.
type NotifierConfig struct {
	BatchSize int
	IdleSleep time.Duration
	Backoff   time.Duration
}

// Notifier claims ready outbox events, publishes them, and marks them
// delivered or reschedules them. Claim and acknowledgement share one
// transaction, so no two notifiers ever hold the same event.
type Notifier struct {
	db        *pgxpool.Pool
	publisher Publisher
	logger    *zap.Logger
	metrics   *Metrics
	batchSize int
	idleSleep time.Duration
	backoff   time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}

	// Injectable functions for testing.
	beginTxFn       func(ctx context.Context) (notifierTx, error)
	claimFn         func(ctx context.Context, qtx *repository.Queries, limit int32) ([]repository.OutboxEvent, error)
	markDeliveredFn func(ctx context.Context, qtx *repository.Queries, id uuid.UUID, at time.Time) error
	rescheduleFn    func(ctx context.Context, qtx *repository.Queries, id uuid.UUID, next time.Time, lastError string) error
	nowFn           func() time.Time
}

type notifierTx struct {
	qtx      *repository.Queries
	commit   func(context.Context) error
	rollback func(context.Context) error
}

// NewNotifier creates a Notifier with the default metrics registry.
func NewNotifier(db *pgxpool.Pool, publisher Publisher, logger *zap.Logger, cfg NotifierConfig) *Notifier {
	return NewNotifierWithMetrics(db, publisher, logger, cfg, DefaultMetrics)
}

// NewNotifierWithMetrics creates a Notifier with custom metrics.
func NewNotifierWithMetrics(db *pgxpool.Pool, publisher Publisher, logger *zap.Logger, cfg NotifierConfig, metrics *Metrics) *Notifier {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	idleSleep := cfg.IdleSleep
	if idleSleep <= 0 {
		idleSleep = DefaultIdleSleep
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	if metrics == nil {
		metrics = DefaultMetrics
	}

	n := &Notifier{
		db:        db,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
		idleSleep: idleSleep,
		backoff:   backoff,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		nowFn:     time.Now,
	}
	n.beginTxFn = func(ctx context.Context) (notifierTx, error) {
		tx, err := db.Begin(ctx)
		if err != nil {
			return notifierTx{}, err
		}
		return notifierTx{qtx: repository.New(tx), commit: tx.Commit, rollback: tx.Rollback}, nil
	}
	n.claimFn = func(ctx context.Context, qtx *repository.Queries, limit int32) ([]repository.OutboxEvent, error) {
		return qtx.ClaimReadyOutbox(ctx, limit)
	}
	n.markDeliveredFn = func(ctx context.Context, qtx *repository.Queries, id uuid.UUID, at time.Time) error {
		return qtx.MarkOutboxDelivered(ctx, id, at)
	}
	n.rescheduleFn = func(ctx context.Context, qtx *repository.Queries, id uuid.UUID, next time.Time, lastError string) error {
		return qtx.RescheduleOutbox(ctx, id, next, lastError)
	}
	return n
}

// Run drives the notifier loop until ctx is cancelled or Stop is called.
func (n *Notifier) Run(ctx context.Context) {
	n.logger.Info("starting outbox notifier",
		zap.Int("batch_size", n.batchSize),
		zap.Duration("idle_sleep", n.idleSleep),
		zap.Duration("backoff", n.backoff),
	)
	defer close(n.doneCh)

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("outbox notifier stopped")
			return
		case <-n.stopCh:
			n.logger.Info("outbox notifier stopped")
			return
		default:
		}

		claimed, err := n.tickOnce(ctx)
		if err != nil {
			n.logger.Error("notifier tick failed", zap.Error(err))
		}
		if claimed == 0 {
			select {
			case <-ctx.Done():
			case <-n.stopCh:
			case <-time.After(n.idleSleep):
			}
		}
	}
}

// Stop signals the loop to stop and waits for it to finish.
func (n *Notifier) Stop() {
	close(n.stopCh)
	<-n.doneCh
}

// tickOnce claims one batch and resolves every claimed event. It returns
// the number of events claimed.
func (n *Notifier) tickOnce(ctx context.Context) (int, error) {
	start := n.nowFn()

	tx, err := n.beginTxFn(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.rollback(ctx); err != nil {
			n.logger.Debug("rollback", zap.Error(err))
		}
	}()

	events, err := n.claimFn(ctx, tx.qtx, int32(n.batchSize))
	if err != nil {
		return 0, fmt.Errorf("claim outbox batch: %w", err)
	}
	n.metrics.BatchSize.Observe(float64(len(events)))
	if len(events) == 0 {
		return 0, nil
	}

	// Sequential publish keeps per-partition order: all events of one
	// conversation share a routing key.
	for _, event := range events {
		if err := n.resolveEvent(ctx, tx.qtx, event); err != nil {
			return len(events), err
		}
	}

	if err := tx.commit(ctx); err != nil {
		return len(events), fmt.Errorf("commit: %w", err)
	}
	n.metrics.TickDuration.Observe(time.Since(start).Seconds())
	return len(events), nil
}

// resolveEvent publishes one claimed event and records the outcome.
func (n *Notifier) resolveEvent(ctx context.Context, qtx *repository.Queries, event repository.OutboxEvent) error {
	envelope, err := json.Marshal(struct {
		Receivers json.RawMessage `json:"receivers"`
		Body      json.RawMessage `json:"body"`
	}{
		Receivers: event.Receivers,
		Body:      event.Payload,
	})
	if err != nil {
		// The row is unpublishable; park it with the error instead of
		// hot-looping on it.
		n.logger.Error("malformed outbox event",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)
		return n.reschedule(ctx, qtx, event, err)
	}

	if err := n.publisher.Publish(ctx, routingKey(event), envelope); err != nil {
		n.metrics.PublishErrorsTotal.Inc()
		n.logger.Warn("publish failed, rescheduling",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.EventType),
			zap.Int32("attempt_count", event.AttemptCount),
			zap.Error(err),
		)
		return n.reschedule(ctx, qtx, event, err)
	}

	if err := n.markDeliveredFn(ctx, qtx, event.ID, n.nowFn()); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	n.metrics.PublishedTotal.Inc()
	return nil
}

func (n *Notifier) reschedule(ctx context.Context, qtx *repository.Queries, event repository.OutboxEvent, cause error) error {
	n.metrics.ReschedulesTotal.Inc()
	if err := n.rescheduleFn(ctx, qtx, event.ID, n.nowFn().Add(n.backoff), truncateErr(cause)); err != nil {
		return fmt.Errorf("reschedule: %w", err)
	}
	return nil
}

// routingKey is the partition key when set, otherwise the event id.
func routingKey(event repository.OutboxEvent) []byte {
	if event.PartitionKey != nil {
		return []byte(event.PartitionKey.String())
	}
	return []byte(event.ID.String())
}

func truncateErr(err error) string {
	msg := err.Error()
	if len(msg) > maxLastErrorLen {
		return msg[:maxLastErrorLen]
	}
	return msg
}
