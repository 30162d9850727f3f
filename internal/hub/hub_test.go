package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-backend/internal/model"
)

type fakeConn struct {
	in        chan Frame
	closed    chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes []Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan Frame, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read() (Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return Frame{}, errors.New("connection closed")
	}
}

func (c *fakeConn) Write(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) hasTextWrite(data string) bool {
	for _, f := range c.written() {
		if f.Kind == FrameText && string(f.Data) == data {
			return true
		}
	}
	return false
}

type fakeSink struct {
	mu      sync.Mutex
	calls   int
	record  model.MessageRecord
	err     error
	blockCh chan struct{}
}

func (s *fakeSink) SendMessage(ctx context.Context, conversationID, senderID uuid.UUID, content string, messageID uuid.UUID) (model.MessageRecord, error) {
	s.mu.Lock()
	s.calls++
	block := s.blockCh
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return model.MessageRecord{}, ctx.Err()
		}
	}
	if s.err != nil {
		return model.MessageRecord{}, s.err
	}
	rec := s.record
	rec.ConversationID = conversationID
	rec.MessageID = messageID
	rec.Sender = senderID
	rec.Content = content
	return rec, nil
}

func newTestHub(sink CommandSink, cfg Config) *Hub {
	return NewWithMetrics(sink, zap.NewNop(), cfg, NewMetrics(prometheus.NewRegistry()))
}

func acceptAsync(t *testing.T, h *Hub, userID uuid.UUID, conn Conn) chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Accept(context.Background(), userID, conn)
	}()
	require.Eventually(t, func() bool { return h.Online(userID) }, time.Second, time.Millisecond)
	return done
}

func sendCommand(conn *fakeConn, cmd model.ChatMessageSend) error {
	data, err := model.EncodeFrame(model.TagChatMessageSend, cmd)
	if err != nil {
		return err
	}
	conn.in <- Frame{Kind: FrameText, Data: data}
	return nil
}

func TestEnqueue_Offline(t *testing.T) {
	h := newTestHub(&fakeSink{}, Config{})
	err := h.Enqueue(uuid.New(), []byte("event"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEnqueue_DeliversToConnection(t *testing.T) {
	h := newTestHub(&fakeSink{}, Config{})
	userID := uuid.New()
	conn := newFakeConn()
	done := acceptAsync(t, h, userID, conn)

	require.NoError(t, h.Enqueue(userID, []byte(`{"type":"friendshipnew"}`)))
	require.Eventually(t, func() bool {
		return conn.hasTextWrite(`{"type":"friendshipnew"}`)
	}, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	<-done
	assert.False(t, h.Online(userID))
}

func TestEnqueue_Backpressure(t *testing.T) {
	h := newTestHub(&fakeSink{}, Config{})
	userID := uuid.New()

	// A record with a full single-slot mailbox and no sender draining it.
	c := &client{
		userID:  userID,
		control: make(chan Frame, 1),
		mailbox: make(chan []byte, 1),
		cancel:  func() {},
		done:    make(chan struct{}),
	}
	c.mailbox <- []byte("stuck")
	h.clients[userID] = c

	err := h.Enqueue(userID, []byte("event"))
	assert.ErrorIs(t, err, ErrBackpressure)
}

func TestSendCommand_Acked(t *testing.T) {
	sink := &fakeSink{record: model.MessageRecord{MessageOffset: 7}}
	h := newTestHub(sink, Config{})
	userID := uuid.New()
	conn := newFakeConn()
	done := acceptAsync(t, h, userID, conn)

	cmd := model.ChatMessageSend{
		ConversationID: uuid.New(),
		MessageID:      uuid.New(),
		Content:        "hello",
	}
	require.NoError(t, sendCommand(conn, cmd))

	require.Eventually(t, func() bool {
		for _, f := range conn.written() {
			if f.Kind != FrameText {
				continue
			}
			frame, err := model.DecodeFrame(f.Data)
			if err != nil || frame.Type != model.TagChatMessageAck {
				continue
			}
			var ack model.ChatMessageAck
			if json.Unmarshal(frame.Content, &ack) != nil {
				continue
			}
			return ack.MessageID == cmd.MessageID && ack.MessageOffset == 7
		}
		return false
	}, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	<-done
}

func TestSendCommand_FailureHasNoAck(t *testing.T) {
	sink := &fakeSink{err: errors.New("db down")}
	h := newTestHub(sink, Config{})
	userID := uuid.New()
	conn := newFakeConn()
	done := acceptAsync(t, h, userID, conn)

	require.NoError(t, sendCommand(conn, model.ChatMessageSend{
		ConversationID: uuid.New(),
		MessageID:      uuid.New(),
		Content:        "hello",
	}))

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.calls == 1
	}, time.Second, time.Millisecond)

	// No ack and no error frame on the wire.
	time.Sleep(20 * time.Millisecond)
	for _, f := range conn.written() {
		if f.Kind == FrameText {
			frame, err := model.DecodeFrame(f.Data)
			require.True(t, err != nil || frame.Type != model.TagChatMessageAck)
		}
	}

	require.NoError(t, conn.Close())
	<-done
}

func TestMalformedFrameNotice(t *testing.T) {
	h := newTestHub(&fakeSink{}, Config{})
	userID := uuid.New()
	conn := newFakeConn()
	done := acceptAsync(t, h, userID, conn)

	conn.in <- Frame{Kind: FrameText, Data: []byte("not json")}
	require.Eventually(t, func() bool {
		return conn.hasTextWrite(noticeMalformed)
	}, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	<-done
}

func TestBinaryFrameNotice(t *testing.T) {
	h := newTestHub(&fakeSink{}, Config{})
	userID := uuid.New()
	conn := newFakeConn()
	done := acceptAsync(t, h, userID, conn)

	conn.in <- Frame{Kind: FrameBinary, Data: []byte{0x01}}
	require.Eventually(t, func() bool {
		return conn.hasTextWrite(noticeBinary)
	}, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	<-done
}

func TestPingGetsPong(t *testing.T) {
	h := newTestHub(&fakeSink{}, Config{})
	userID := uuid.New()
	conn := newFakeConn()
	done := acceptAsync(t, h, userID, conn)

	conn.in <- Frame{Kind: FramePing, Data: []byte("ts")}
	require.Eventually(t, func() bool {
		for _, f := range conn.written() {
			if f.Kind == FramePong && string(f.Data) == "ts" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())
	<-done
}

func TestThrottleNotice(t *testing.T) {
	sink := &fakeSink{blockCh: make(chan struct{})}
	h := newTestHub(sink, Config{MaxInflightMessages: 1})
	userID := uuid.New()
	conn := newFakeConn()
	done := acceptAsync(t, h, userID, conn)

	cmd := model.ChatMessageSend{ConversationID: uuid.New(), MessageID: uuid.New(), Content: "x"}
	require.NoError(t, sendCommand(conn, cmd))
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.calls == 1
	}, time.Second, time.Millisecond)

	// The single permit is held; the next command is refused.
	require.NoError(t, sendCommand(conn, cmd))
	require.Eventually(t, func() bool {
		return conn.hasTextWrite(noticeThrottled)
	}, time.Second, time.Millisecond)

	close(sink.blockCh)
	require.NoError(t, conn.Close())
	<-done
}

func TestReplacementCancelsPrevious(t *testing.T) {
	h := newTestHub(&fakeSink{}, Config{})
	userID := uuid.New()

	first := newFakeConn()
	firstDone := acceptAsync(t, h, userID, first)

	second := newFakeConn()
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		h.Accept(context.Background(), userID, second)
	}()

	select {
	case <-firstDone:
	case <-time.After(time.Second):
		t.Fatal("first connection was not replaced")
	}
	assert.True(t, h.Online(userID))

	require.NoError(t, second.Close())
	<-secondDone
	assert.False(t, h.Online(userID))
}

func TestShutdown(t *testing.T) {
	h := newTestHub(&fakeSink{}, Config{})
	userID := uuid.New()
	conn := newFakeConn()
	done := acceptAsync(t, h, userID, conn)

	require.NoError(t, h.Shutdown(context.Background()))
	<-done
	assert.False(t, h.Online(userID))
}
