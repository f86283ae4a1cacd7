// internal/hub/hub.go
// Provides the Hub: connection lifecycle, message routing and presence broadcast.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/erilali/relay/internal/logger"
	"github.com/erilali/relay/internal/message"
)

const (
	defaultSendBuffer     = 256
	defaultMaxMessageSize = 64 * 1024
)

var (
	errClientClosed = errors.New("client closed")
	errQueueFull    = errors.New("send queue full")
)

// Options tunes a Hub. Zero values fall back to defaults.
type Options struct {
	SendBuffer     int
	MaxMessageSize int64
	// CheckOrigin is handed to the WebSocket upgrader. Nil accepts
	// same-origin requests only.
	CheckOrigin func(r *http.Request) bool
}

// Hub owns the open connections and the registry of logical users bound to
// them.
type Hub struct {
	registry  *Registry
	publisher EventPublisher
	Logger    *logger.Logger
	StartTime time.Time

	mu           sync.Mutex
	clients      map[*Client]struct{}
	shuttingDown bool
	pumps        sync.WaitGroup

	// presence is a coalescing signal: one pending broadcast covers every
	// mutation made before the Run loop takes its snapshot.
	presence chan struct{}

	sendBuffer     int
	maxMessageSize int64
	checkOrigin    func(r *http.Request) bool
}

// NewHub creates a Hub. publisher may be nil.
func NewHub(opts Options, publisher EventPublisher, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	return &Hub{
		registry:       NewRegistry(),
		publisher:      publisher,
		Logger:         log,
		StartTime:      time.Now(),
		clients:        make(map[*Client]struct{}),
		presence:       make(chan struct{}, 1),
		sendBuffer:     opts.SendBuffer,
		maxMessageSize: opts.MaxMessageSize,
		checkOrigin:    opts.CheckOrigin,
	}
}

// Registry exposes the online-user registry for read-only callers.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// OpenConnections counts connections, identified or not.
func (h *Hub) OpenConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run broadcasts presence updates until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.presence:
			h.broadcastPresence()
		}
	}
}

func (h *Hub) notifyPresence() {
	select {
	case h.presence <- struct{}{}:
	default:
	}
}

func (h *Hub) broadcastPresence() {
	users := h.registry.Snapshot()
	data, err := json.Marshal(message.WSMessage{
		Version: message.ProtocolVersion,
		Type:    message.TypeUpdateUserList,
		Data:    users,
	})
	if err != nil {
		h.Logger.Errorf("Failed to marshal presence update: %v", err)
		return
	}

	// Copy recipients so no push happens under the hub lock.
	h.mu.Lock()
	recipients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		recipients = append(recipients, c)
	}
	h.mu.Unlock()

	for _, c := range recipients {
		h.push(c, data)
	}
	h.Logger.Debugf("Presence update sent to %d connections (%d online)", len(recipients), len(users))
}

// push enqueues data for c. A stalled client is disconnected; its read pump
// then runs the regular close path.
func (h *Hub) push(c *Client, data []byte) error {
	if c.enqueue(data) {
		return nil
	}
	if c.isClosed() {
		return errClientClosed
	}
	h.Logger.WithField("connection_id", c.ID).Warn("Send queue full, closing connection")
	if c.Conn != nil {
		c.Conn.Close()
	}
	return errQueueFull
}

// attach adds a freshly upgraded connection. It reports false once shutdown
// has started.
func (h *Hub) attach(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shuttingDown {
		return false
	}
	h.clients[c] = struct{}{}
	h.pumps.Add(1)
	return true
}

// unregister is the single close path for a connection.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}

	wasBound := h.registry.Unregister(c)
	c.closeSend()

	userID := c.UserID()
	if wasBound {
		h.Logger.LogEvent("info", "user_offline", userID, c.ID)
		h.publish(offlineSubject(userID), message.Event{
			Event:        "user_offline",
			UserID:       userID,
			ConnectionID: c.ID,
			Online:       h.registry.Len(),
			Timestamp:    time.Now().Unix(),
		})
	} else {
		h.Logger.Debugf("Anonymous connection %s closed", c.ID)
	}
	h.notifyPresence()
}

// HandleClientMessage dispatches one inbound frame. Malformed frames are
// dropped and the connection stays open.
func (h *Hub) HandleClientMessage(c *Client, raw []byte) {
	var msg message.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.Logger.Debugf("Dropping unparsable frame from %s: %v", c.ID, err)
		return
	}

	switch msg.Type {
	case message.TypeNewUser:
		h.announce(c, msg.Data)
	case message.TypeSendMessage:
		h.relay(c, msg.Data)
	default:
		h.Logger.Debugf("Dropping frame of unknown type %q from %s", msg.Type, c.ID)
	}
}

func (h *Hub) announce(c *Client, data json.RawMessage) {
	var userID string
	if err := json.Unmarshal(data, &userID); err != nil || userID == "" {
		h.Logger.Debugf("Dropping announce without user id from %s", c.ID)
		return
	}
	if c.Subject != "" && userID != c.Subject {
		h.Logger.WithFields(map[string]interface{}{
			"connection_id": c.ID,
			"subject":       c.Subject,
			"announced":     userID,
		}).Warn("Announced user id does not match authenticated subject")
		return
	}
	if !h.registry.Register(userID, c) {
		return
	}
	c.setUserID(userID)

	h.Logger.LogEvent("info", "user_online", userID, c.ID)
	h.publish(onlineSubject(userID), message.Event{
		Event:        "user_online",
		UserID:       userID,
		ConnectionID: c.ID,
		Online:       h.registry.Len(),
		Timestamp:    time.Now().Unix(),
	})
	h.notifyPresence()
}

func (h *Hub) relay(c *Client, data json.RawMessage) {
	sender := c.UserID()
	if sender == "" {
		h.Logger.Debugf("Dropping send from anonymous connection %s", c.ID)
		return
	}
	var send message.SendMessage
	if err := json.Unmarshal(data, &send); err != nil || send.ReceiverID == "" || len(send.Data) == 0 {
		h.Logger.Debugf("Dropping malformed send from %s", sender)
		return
	}

	recipients := h.registry.Lookup(send.ReceiverID)
	if len(recipients) == 0 {
		h.Logger.LogEvent("debug", "recipient_offline", sender, send.ReceiverID)
		h.publish(subjectRelayMissed, message.Event{
			Event:      "recipient_offline",
			UserID:     sender,
			ReceiverID: send.ReceiverID,
			Online:     h.registry.Len(),
			Timestamp:  time.Now().Unix(),
		})
		return
	}

	frame, err := json.Marshal(message.WSMessage{
		Version: message.ProtocolVersion,
		Type:    message.TypeGetMessage,
		Data:    send.Data,
	})
	if err != nil {
		h.Logger.Errorf("Failed to marshal message from %s: %v", sender, err)
		return
	}

	delivered := 0
	for _, r := range recipients {
		if err := h.push(r, frame); err != nil {
			h.Logger.Debugf("Delivery to %s on %s failed: %v", send.ReceiverID, r.ID, err)
			continue
		}
		delivered++
	}

	h.Logger.LogEvent("debug", "message_relayed", sender, send.ReceiverID)
	h.publish(subjectRelayDelivered, message.Event{
		Event:      "message_relayed",
		UserID:     sender,
		ReceiverID: send.ReceiverID,
		Recipients: delivered,
		Online:     h.registry.Len(),
		Timestamp:  time.Now().Unix(),
	})
}

func (h *Hub) publish(subject string, evt message.Event) {
	if h.publisher != nil {
		h.publisher.Publish(subject, evt)
	}
}

// Shutdown closes every open connection and waits for their close paths to
// finish or ctx to expire. New connections are refused afterwards.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shuttingDown = true
	open := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		open = append(open, c)
	}
	h.mu.Unlock()

	h.Logger.Infof("Closing %d connections", len(open))
	for _, c := range open {
		c.closeConn(closeGoingAway("server shutdown"))
	}

	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
