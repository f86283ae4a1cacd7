// internal/message/message.go
// Contains data structures for frames exchanged between clients and the relay.
package message

import "encoding/json"

// ProtocolVersion is stamped on every outbound frame.
const ProtocolVersion = "1.0"

// Inbound event types.
const (
	TypeNewUser     = "newUser"
	TypeSendMessage = "sendMessage"
)

// Outbound event types.
const (
	TypeUpdateUserList = "updateUserList"
	TypeGetMessage     = "getMessage"
)

// ClientMessage is a frame received from a client. Data is decoded lazily
// according to Type.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SendMessage is the data of a sendMessage frame. Data is forwarded to the
// receiver untouched.
type SendMessage struct {
	ReceiverID string          `json:"receiverId"`
	Data       json.RawMessage `json:"data"`
}

// WSMessage is a frame pushed to a client.
type WSMessage struct {
	Version string      `json:"version"`
	Type    string      `json:"type"`
	Data    interface{} `json:"data"`
}

// OnlineUser is the public view of one connection binding.
type OnlineUser struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// Event is the metadata published for presence and relay events.
type Event struct {
	Event        string `json:"event"`
	UserID       string `json:"user_id,omitempty"`
	ReceiverID   string `json:"receiver_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
	Recipients   int    `json:"recipients,omitempty"`
	Online       int    `json:"online"`
	Timestamp    int64  `json:"timestamp"`
}
