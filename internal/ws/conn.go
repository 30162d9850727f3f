// Package ws adapts gorilla/websocket connections to the session hub's
// transport interface.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-backend/internal/hub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 * 1024
)

// Conn wraps a websocket connection as a hub.Conn. A pump goroutine owns
// the websocket read side and surfaces ping and close control frames,
// which gorilla only delivers through handlers.
type Conn struct {
	ws        *websocket.Conn
	frames    chan hub.Frame
	errCh     chan error
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConn wraps the websocket connection and starts its read pump.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:     ws,
		frames: make(chan hub.Frame, 1),
		errCh:  make(chan error, 1),
		closed: make(chan struct{}),
	}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		c.deliver(hub.Frame{Kind: hub.FramePing, Data: []byte(appData)})
		return nil
	})
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	ws.SetCloseHandler(func(code int, text string) error {
		c.deliver(hub.Frame{Kind: hub.FrameClose})
		return nil
	})

	go c.readPump()
	return c
}

func (c *Conn) readPump() {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case c.errCh <- err:
			case <-c.closed:
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		kind := hub.FrameText
		if messageType == websocket.BinaryMessage {
			kind = hub.FrameBinary
		}
		c.deliver(hub.Frame{Kind: kind, Data: data})
	}
}

// deliver hands a frame to the reader without outliving the connection.
func (c *Conn) deliver(f hub.Frame) {
	select {
	case c.frames <- f:
	case <-c.closed:
	}
}

// Read returns the next frame from the pump.
func (c *Conn) Read() (hub.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case err := <-c.errCh:
		return hub.Frame{}, err
	case <-c.closed:
		return hub.Frame{}, websocket.ErrCloseSent
	}
}

// Write sends one frame with a write deadline. Only the hub's sender
// goroutine calls Write, so no write lock is needed.
func (c *Conn) Write(f hub.Frame) error {
	deadline := time.Now().Add(writeWait)
	switch f.Kind {
	case hub.FramePong:
		return c.ws.WriteControl(websocket.PongMessage, f.Data, deadline)
	case hub.FramePing:
		return c.ws.WriteControl(websocket.PingMessage, f.Data, deadline)
	case hub.FrameClose:
		return c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	case hub.FrameBinary:
		_ = c.ws.SetWriteDeadline(deadline)
		return c.ws.WriteMessage(websocket.BinaryMessage, f.Data)
	default:
		_ = c.ws.SetWriteDeadline(deadline)
		return c.ws.WriteMessage(websocket.TextMessage, f.Data)
	}
}

// Close closes the websocket; the pump's pending read fails and the hub's
// receiver unblocks.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return c.ws.Close()
}
