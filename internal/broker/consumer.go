package broker

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// HandleOutcome tells the consumer what to do with the message offset.
type HandleOutcome int

const (
	// OutcomeCommit marks the message consumed.
	OutcomeCommit HandleOutcome = iota

	// OutcomeSkipCommit moves on without committing. The message will be
	// seen again after a rebalance or restart.
	OutcomeSkipCommit

	// OutcomeRetry re-runs the handler on the same message after a short
	// sleep, without committing.
	OutcomeRetry
)

// EventHandler processes one message from the events topic.
type EventHandler interface {
	Handle(ctx context.Context, value []byte) HandleOutcome
}

// DefaultRetrySleep paces handler retries on the same message.
const DefaultRetrySleep = 50 * time.Millisecond

// fetcher is the kafka.Reader surface the consumer uses.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer subscribes to the events topic with auto-commit disabled and
// drives the handler with outcome-based commit semantics.
type Consumer struct {
	reader     fetcher
	handler    EventHandler
	logger     *zap.Logger
	retrySleep time.Duration
}

// NewConsumer creates a group consumer on the events topic. New groups
// start from the earliest offset so no committed event is skipped.
func NewConsumer(brokers []string, topic, groupID string, handler EventHandler, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})
	return &Consumer{
		reader:     reader,
		handler:    handler,
		logger:     logger,
		retrySleep: DefaultRetrySleep,
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("starting broker consumer")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				c.logger.Info("broker consumer stopped")
				return nil
			}
			return err
		}

		outcome := c.handler.Handle(ctx, msg.Value)
		for outcome == OutcomeRetry {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retrySleep):
			}
			outcome = c.handler.Handle(ctx, msg.Value)
		}

		if outcome == OutcomeCommit {
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Error("commit failed",
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
