package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is one live websocket connection. Outbound frames go through a
// bounded buffer drained by writePump, the connection's only writer.
type Client struct {
	conn      *websocket.Conn
	sessionID string // empty for observers
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	opts      Options
	onFail    func(*Client)
}

func newClient(conn *websocket.Conn, sessionID string, opts Options, onFail func(*Client)) *Client {
	return &Client{
		conn:      conn,
		sessionID: sessionID,
		send:      make(chan []byte, opts.SendBuffer),
		done:      make(chan struct{}),
		opts:      opts,
		onFail:    onFail,
	}
}

func (c *Client) audience() string {
	if c.sessionID == "" {
		return audienceObserver
	}
	return audienceVisitor
}

// enqueue never blocks. It reports false when the client is closed or its
// buffer is full; both count as a failed send.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.fail()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) fail() {
	if c.onFail != nil {
		c.onFail(c)
	}
	c.close()
}

// close is safe to call more than once and from any goroutine.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
