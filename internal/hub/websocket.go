// internal/hub/websocket.go
package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	webSocketReadDeadline  = 60 * time.Second
	webSocketWriteDeadline = 10 * time.Second
	webSocketPingPeriod    = (webSocketReadDeadline * 9) / 10 // Must be less than readDeadline
)

func closeGoingAway(reason string) []byte {
	return websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
}

// ServeWs upgrades the request and starts the connection's pumps. subject is
// the authenticated user id established by the caller, or "".
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, subject string) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.Logger.Warnf("WebSocket upgrade error: %v", err)
		return
	}

	client := NewClient(conn, subject, h.sendBuffer)
	if !h.attach(client) {
		client.closeConn(closeGoingAway("server shutting down"))
		return
	}
	h.Logger.WithFields(map[string]interface{}{
		"connection_id": client.ID,
		"remote_addr":   r.RemoteAddr,
	}).Debug("Connection opened")

	go h.WritePump(client)
	go h.ReadPump(client)
}

// ReadPump reads frames from the connection in order. Its exit is the
// connection's close event.
func (h *Hub) ReadPump(client *Client) {
	defer func() {
		h.unregister(client)
		client.Conn.Close()
		h.pumps.Done()
	}()

	client.Conn.SetReadLimit(h.maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
		return nil
	})

	for {
		_, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.Logger.LogEvent("error", "read_error", client.UserID(), err.Error())
			}
			return
		}

		client.touch()
		client.Conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
		h.HandleClientMessage(client, data)
	}
}

// WritePump drains the client's queue to the connection, one frame per
// message, and keeps the connection alive with pings.
func (h *Hub) WritePump(client *Client) {
	ticker := time.NewTicker(webSocketPingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			client.Conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
			if !ok {
				// The hub closed the queue.
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.Logger.Debugf("Write to %s failed: %v", client.ID, err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Client connection is likely broken
			}
		}
	}
}
