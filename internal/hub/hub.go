// Package hub owns the per-client actors. Each connection gets a control
// channel (acks, pongs, notices), a mailbox (fan-out events), and three
// goroutines sharing one cancellation: outbound sender, inbound receiver,
// supervisor.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-backend/internal/model"
)

// Enqueue errors. The broker consumer retries on ErrBackpressure and logs
// ErrNotConnected.
var (
	ErrNotConnected = errors.New("user not connected")
	ErrBackpressure = errors.New("mailbox full, retry")
)

// Defaults for Config.
const (
	DefaultMailboxCap          = 256
	DefaultControlCap          = 16
	DefaultMaxInflightMessages = 64
	DefaultMaxInflightResults  = 1024
	DefaultHandlerTimeout      = time.Second
)

// Control notices sent to the client as plain text frames.
const (
	noticeMalformed = "malformed message"
	noticeThrottled = "too many inflight commands"
	noticeBinary    = "binary frames not supported"
)

// Config tunes per-client channel capacities and command handling.
type Config struct {
	MailboxCap          int
	ControlCap          int
	MaxInflightMessages int
	MaxInflightResults  int
	HandlerTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MailboxCap <= 0 {
		c.MailboxCap = DefaultMailboxCap
	}
	if c.ControlCap <= 0 {
		c.ControlCap = DefaultControlCap
	}
	if c.MaxInflightMessages <= 0 {
		c.MaxInflightMessages = DefaultMaxInflightMessages
	}
	if c.MaxInflightResults <= 0 {
		c.MaxInflightResults = DefaultMaxInflightResults
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
	return c
}

// CommandSink executes inbound client commands.
type CommandSink interface {
	SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string, messageID uuid.UUID) (model.MessageRecord, error)
}

// client is one connected user's record.
type client struct {
	userID  uuid.UUID
	control chan Frame
	mailbox chan []byte
	cancel  context.CancelFunc
	done    chan struct{}
}

// Hub maps online users to their client records.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*client

	sink    CommandSink
	logger  *zap.Logger
	metrics *Metrics
	cfg     Config
}

// New creates a Hub with the default metrics registry.
func New(sink CommandSink, logger *zap.Logger, cfg Config) *Hub {
	return NewWithMetrics(sink, logger, cfg, DefaultMetrics())
}

// NewWithMetrics creates a Hub with custom metrics.
func NewWithMetrics(sink CommandSink, logger *zap.Logger, cfg Config, metrics *Metrics) *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*client),
		sink:    sink,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg.withDefaults(),
	}
}

// Accept runs the actor for one connection and blocks until it ends. A
// second connection for the same user cancels the first actor before
// taking its map slot.
func (h *Hub) Accept(ctx context.Context, userID uuid.UUID, conn Conn) {
	cctx, cancel := context.WithCancel(ctx)
	c := &client{
		userID:  userID,
		control: make(chan Frame, h.cfg.ControlCap),
		mailbox: make(chan []byte, h.cfg.MailboxCap),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.register(c)
	h.metrics.ConnectionOpened()
	h.logger.Info("client connected", zap.String("user_id", userID.String()))

	senderDone := make(chan struct{})
	receiverDone := make(chan struct{})
	go h.runSender(cctx, c, conn, senderDone)
	go h.runReceiver(cctx, c, conn, receiverDone)

	h.supervise(c, conn, senderDone, receiverDone)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	prev, replaced := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()

	if replaced {
		prev.cancel()
		h.metrics.Replacements.Inc()
		h.logger.Info("replacing previous connection", zap.String("user_id", c.userID.String()))
	}
}

// unregister removes the record only if it is still the current one; a
// replacement must not evict its successor.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.userID]; ok && cur == c {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()
}

// supervise waits for either pump to end, cancels the shared token, closes
// the transport, and removes the record once both pumps finished.
func (h *Hub) supervise(c *client, conn Conn, senderDone, receiverDone <-chan struct{}) {
	select {
	case <-senderDone:
	case <-receiverDone:
	}
	c.cancel()
	if err := conn.Close(); err != nil {
		h.logger.Debug("close connection", zap.Error(err))
	}
	<-senderDone
	<-receiverDone

	h.unregister(c)
	close(c.done)
	h.metrics.ConnectionClosed()
	h.logger.Info("client disconnected", zap.String("user_id", c.userID.String()))
}

// runSender writes outbound frames, draining control before mailbox so
// acks and pongs cannot be starved by fan-out backlog.
func (h *Hub) runSender(ctx context.Context, c *client, conn Conn, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case f := <-c.control:
			if !h.writeFrame(c, conn, f) {
				return
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			// Best effort; the peer may already be gone.
			_ = conn.Write(Frame{Kind: FrameClose})
			return
		case f := <-c.control:
			if !h.writeFrame(c, conn, f) {
				return
			}
		case b := <-c.mailbox:
			if !h.writeFrame(c, conn, Frame{Kind: FrameText, Data: b}) {
				return
			}
			h.metrics.Delivered.Inc()
		}
	}
}

func (h *Hub) writeFrame(c *client, conn Conn, f Frame) bool {
	if err := conn.Write(f); err != nil {
		h.logger.Debug("write failed",
			zap.String("user_id", c.userID.String()),
			zap.Error(err),
		)
		c.cancel()
		return false
	}
	return true
}

// runReceiver reads client frames and dispatches commands. Permits are
// try-acquired; a saturated client gets a throttle notice instead of a
// blocked socket.
func (h *Hub) runReceiver(ctx context.Context, c *client, conn Conn, done chan<- struct{}) {
	defer close(done)

	workerSem := make(chan struct{}, h.cfg.MaxInflightMessages)
	resultsSem := make(chan struct{}, h.cfg.MaxInflightResults)
	var handlers sync.WaitGroup
	defer handlers.Wait()

	for {
		f, err := conn.Read()
		if err != nil {
			c.cancel()
			return
		}
		if ctx.Err() != nil {
			return
		}

		switch f.Kind {
		case FramePing:
			h.sendControl(c, Frame{Kind: FramePong, Data: f.Data})
		case FrameClose:
			c.cancel()
			return
		case FrameBinary:
			h.sendControl(c, textNotice(noticeBinary))
		case FrameText:
			h.dispatch(ctx, c, f.Data, workerSem, resultsSem, &handlers)
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, c *client, data []byte, workerSem, resultsSem chan struct{}, handlers *sync.WaitGroup) {
	frame, err := model.DecodeFrame(data)
	if err != nil {
		h.sendControl(c, textNotice(noticeMalformed))
		return
	}

	switch frame.Type {
	case model.TagChatMessageSend:
		var cmd model.ChatMessageSend
		if err := json.Unmarshal(frame.Content, &cmd); err != nil {
			h.sendControl(c, textNotice(noticeMalformed))
			return
		}
		h.dispatchSend(ctx, c, cmd, workerSem, resultsSem, handlers)
	default:
		h.logger.Warn("unknown command type",
			zap.String("user_id", c.userID.String()),
			zap.String("type", frame.Type),
		)
	}
}

func (h *Hub) dispatchSend(ctx context.Context, c *client, cmd model.ChatMessageSend, workerSem, resultsSem chan struct{}, handlers *sync.WaitGroup) {
	select {
	case workerSem <- struct{}{}:
	default:
		h.metrics.Throttled.Inc()
		h.sendControl(c, textNotice(noticeThrottled))
		return
	}
	select {
	case resultsSem <- struct{}{}:
	default:
		<-workerSem
		h.metrics.Throttled.Inc()
		h.sendControl(c, textNotice(noticeThrottled))
		return
	}

	handlers.Add(1)
	go func() {
		defer handlers.Done()
		// The handler releases its own results permit on completion
		// instead of a separate join loop observing finished tasks. The
		// results backlog bound is unchanged; there is just no collector
		// goroutine between completion and release.
		defer func() {
			<-workerSem
			<-resultsSem
		}()

		hctx, cancel := context.WithTimeout(ctx, h.cfg.HandlerTimeout)
		defer cancel()

		record, err := h.sink.SendMessage(hctx, cmd.ConversationID, c.userID, cmd.Content, cmd.MessageID)
		if err != nil {
			// Dropped silently on the wire; absence of an ack is the
			// client's retry signal.
			h.logger.Warn("send command failed",
				zap.String("user_id", c.userID.String()),
				zap.String("conversation_id", cmd.ConversationID.String()),
				zap.String("message_id", cmd.MessageID.String()),
				zap.Error(err),
			)
			return
		}

		ack, err := model.EncodeFrame(model.TagChatMessageAck, model.ChatMessageAck{
			ConversationID: record.ConversationID,
			MessageID:      record.MessageID,
			MessageOffset:  record.MessageOffset,
			CreatedAt:      record.CreatedAt,
		})
		if err != nil {
			h.logger.Error("encode ack", zap.Error(err))
			return
		}
		h.sendControl(c, Frame{Kind: FrameText, Data: ack})
	}()
}

// sendControl never blocks; a full control channel drops the frame.
func (h *Hub) sendControl(c *client, f Frame) {
	select {
	case c.control <- f:
	default:
		h.logger.Warn("control channel full, dropping frame",
			zap.String("user_id", c.userID.String()),
		)
	}
}

// Enqueue delivers a serialized event to the receiver's mailbox without
// blocking.
func (h *Hub) Enqueue(receiver uuid.UUID, event []byte) error {
	h.mu.RLock()
	c, ok := h.clients[receiver]
	h.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}

	select {
	case c.mailbox <- event:
		h.metrics.Enqueued.Inc()
		return nil
	default:
		h.metrics.Dropped.Inc()
		return ErrBackpressure
	}
}

// Online reports whether the user currently has a record.
func (h *Hub) Online(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Shutdown cancels every actor and waits for them, bounded by ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.RLock()
	snapshot := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		c.cancel()
	}
	for _, c := range snapshot {
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func textNotice(msg string) Frame {
	return Frame{Kind: FrameText, Data: []byte(msg)}
}
