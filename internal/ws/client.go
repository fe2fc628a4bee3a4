package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/talkwave/realtime/internal/errs"
	"github.com/talkwave/realtime/internal/wire"
)

// Client is one realtime connection. Frames pushed to it are drained by a
// single write pump, so delivery order matches enqueue order.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte

	mu     sync.Mutex
	closed bool

	pingInterval  time.Duration
	writeDeadline time.Duration
}

func NewClient(id, userID string, conn *websocket.Conn, buffer int, pingInterval, writeDeadline time.Duration) *Client {
	return &Client{
		id:            id,
		userID:        userID,
		conn:          conn,
		send:          make(chan []byte, buffer),
		pingInterval:  pingInterval,
		writeDeadline: writeDeadline,
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }

// Push enqueues a frame without blocking. A full or closed queue is a
// transient delivery failure; the caller decides whether to retry.
func (c *Client) Push(frame []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errs.ErrTransientDelivery
	}
	c.mu.Unlock()
	select {
	case c.send <- frame:
		return nil
	default:
		return errs.ErrTransientDelivery
	}
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(time.Second))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeDeadline))
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}

// PushError reports a frame-level failure back to the client, best effort.
func (c *Client) PushError(code string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	_ = c.Push(wire.Error(code, detail))
}

func decodeInbound(data []byte) (*wire.Inbound, error) {
	var in wire.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	return &in, nil
}
