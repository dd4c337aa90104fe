package realtime

import (
	"sync"
	"time"

	"chat-server/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Identity is the authenticated user a connection belongs to. Username
// and avatar are captured at handshake time and reused as the sender
// snapshot on messages sent over this connection.
type Identity struct {
	ID       int
	Username string
	Avatar   string
}

// Client is one live transport session. It belongs to exactly one
// Identity and is owned by the ConnectionRegistry for its whole life.
type Client struct {
	server    *Server
	conn      *websocket.Conn
	identity  Identity
	sessionID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	sendOnce  sync.Once
}

func newClient(server *Server, conn *websocket.Conn, identity Identity, sendBuffer int) *Client {
	return &Client{
		server:   server,
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Client) SessionID() string { return c.sessionID }
func (c *Client) Identity() Identity { return c.identity }

// trySend enqueues a frame without blocking. False means the client is
// closed or its buffer is full.
func (c *Client) trySend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// close tears down the transport. The read pump then exits and runs the
// full disconnect sequence; nothing else is cleaned up here.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// closeSend is called by the registry on deregistration, after which
// the write pump sends a close frame and returns.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() { close(c.send) })
}

func (c *Client) sendError(message string) {
	frame, err := encodeFrame(EventError, ErrorEvent{Message: message})
	if err != nil {
		return
	}
	c.trySend(frame)
}

func (c *Client) readPump() {
	defer func() {
		c.server.disconnect(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket read error for user %d: %v", c.identity.ID, err)
			}
			break
		}
		c.server.handleFrame(c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
