package hub

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"chat-backend/internal/broker"
	"chat-backend/internal/model"
)

// Fanout routes broker envelopes to online receivers' mailboxes. It is the
// EventHandler plugged into the broker consumer.
type Fanout struct {
	hub    *Hub
	logger *zap.Logger
}

// NewFanout creates a Fanout over the hub.
func NewFanout(h *Hub, logger *zap.Logger) *Fanout {
	return &Fanout{hub: h, logger: logger}
}

// Handle enqueues the envelope body to every receiver. Offline receivers
// are logged and skipped; a full mailbox asks the consumer to retry the
// whole envelope without committing.
func (f *Fanout) Handle(ctx context.Context, value []byte) broker.HandleOutcome {
	var env model.BrokerEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		f.logger.Error("malformed broker envelope", zap.Error(err))
		return broker.OutcomeSkipCommit
	}

	retry := false
	for _, receiver := range env.Receivers {
		switch err := f.hub.Enqueue(receiver, env.Body); {
		case err == nil:
		case errors.Is(err, ErrNotConnected):
			f.logger.Debug("receiver offline",
				zap.String("receiver", receiver.String()),
			)
		case errors.Is(err, ErrBackpressure):
			retry = true
			f.logger.Warn("receiver mailbox full",
				zap.String("receiver", receiver.String()),
			)
		default:
			f.logger.Error("enqueue failed",
				zap.String("receiver", receiver.String()),
				zap.Error(err),
			)
		}
	}

	if retry {
		return broker.OutcomeRetry
	}
	return broker.OutcomeCommit
}
