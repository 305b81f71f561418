package chat

import (
	"context"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client is one live websocket connection. It starts anonymous; userID is
// set once by the identify handshake and never reverts. A dedicated write
// goroutine drains send so broadcasts never block on a slow connection.
type Client struct {
	conn   *websocket.Conn
	send   chan Event
	userID string

	ctx    context.Context
	cancel context.CancelFunc
}

func newClient(conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		conn:   conn,
		send:   make(chan Event, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

// push enqueues an event for delivery. A full buffer drops the event:
// live push is best effort, persistence is the source of truth.
func (c *Client) push(ev Event) {
	select {
	case c.send <- ev:
	default:
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.send:
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = wsjson.Write(writeCtx, c.conn, ev)
			cancel()
		}
	}
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = c.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (c *Client) close() {
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
}
