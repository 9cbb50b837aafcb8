package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4096
)

var ErrConnClosed = errors.New("websocket connection closed")

// Conn is one connected client. Writes are serialized because gorilla allows
// a single concurrent writer; reads happen only in readLoop.
type Conn struct {
	id      uuid.UUID
	ws      *websocket.Conn
	clock   clockwork.Clock
	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, clock clockwork.Clock) *Conn {
	return &Conn{
		id:    uuid.New(),
		ws:    ws,
		clock: clock,
		done:  make(chan struct{}),
	}
}

func (c *Conn) ID() uuid.UUID { return c.id }

// Send writes payload as one text message. The write deadline is the earlier
// of ctx's deadline and writeWait from now.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := c.clock.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close sends a close frame (best effort) and closes the socket. Safe to call
// more than once and from any goroutine.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, c.clock.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

// readLoop consumes client frames until the peer goes away. Client messages
// carry no meaning and are discarded; any frame or pong extends the read
// deadline.
func (c *Conn) readLoop() error {
	c.ws.SetReadLimit(maxMessageSize)
	c.extendReadDeadline()
	c.ws.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return err
		}
		c.extendReadDeadline()
	}
}

func (c *Conn) pingLoop() {
	ticker := c.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, c.clock.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) extendReadDeadline() {
	_ = c.ws.SetReadDeadline(c.clock.Now().Add(pongWait))
}
