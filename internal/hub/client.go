// internal/hub/client.go
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one live WebSocket connection. It is the connection handle the
// registry binds logical user ids to.
type Client struct {
	ID      string
	Conn    *websocket.Conn
	Subject string // authenticated user id from the handshake, if any

	mu         sync.Mutex
	send       chan []byte
	closed     bool
	userID     string
	lastActive time.Time
}

// NewClient wraps conn with an outbound queue of the given size.
func NewClient(conn *websocket.Conn, subject string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = defaultSendBuffer
	}
	return &Client{
		ID:         uuid.NewString(),
		Conn:       conn,
		Subject:    subject,
		send:       make(chan []byte, bufferSize),
		lastActive: time.Now(),
	}
}

// UserID returns the announced logical user id, or "" while anonymous.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) setUserID(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

// LastActive reports when the last frame was read from the client.
func (c *Client) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// enqueue hands data to the write pump without blocking. It reports false
// when the client is closed or its queue is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// closeConn sends a close frame and closes the socket. Both calls are safe
// alongside the pumps.
func (c *Client) closeConn(closeMsg []byte) {
	if c.Conn == nil {
		return
	}
	c.Conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(webSocketWriteDeadline))
	c.Conn.Close()
}

// closeSend closes the outbound queue once. It reports whether this call
// closed it.
func (c *Client) closeSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}
