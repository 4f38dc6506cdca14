// Package protocol defines the WebSocket message types and structures used on
// the persistent channel between client and server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pulse/messaging-app/internal/chat"
)

// ErrUnknownType marks a well-formed envelope whose type discriminator is not
// a client message type. Callers can distinguish it from malformed input.
var ErrUnknownType = errors.New("protocol: unknown message type")

// Client -> Server message types.
const (
	TypeMessage    = "message"
	TypeTyping     = "typing"
	TypeMarkAsRead = "mark_as_read"
	TypePing       = "ping"
)

// Server -> Client message types.
const (
	TypeConnected   = "connected"
	TypeNewMessage  = "new_message"
	TypeUserTyping  = "user_typing"
	TypeMessageRead = "message_read"
	TypeError       = "error"
	TypePong        = "pong"
)

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so that the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// OutgoingMessage is the message body a client submits over the channel. For
// text messages MediaKey is empty; for media messages Content is an optional
// caption.
type OutgoingMessage struct {
	Type     string `json:"type"` // text | image | video
	Content  string `json:"content"`
	MediaKey string `json:"media_key,omitempty"`
}

// SubmitMsg carries a new message for a conversation.
type SubmitMsg struct {
	Type           string          `json:"type"`
	ConversationID int64           `json:"conversation_id"`
	Message        OutgoingMessage `json:"message"`
}

// TypingMsg indicates whether the client is currently typing in a
// conversation.
type TypingMsg struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// MarkAsReadMsg acknowledges messages up to and including MessageID.
type MarkAsReadMsg struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent once after the connection has authenticated and
// joined its rooms.
type ConnectedMsg struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id"`
}

// NewMessageMsg pushes a freshly persisted message to room members.
type NewMessageMsg struct {
	Type           string        `json:"type"`
	ConversationID int64         `json:"conversation_id"`
	Message        *chat.Message `json:"message"`
}

// UserTypingMsg relays a participant's typing indicator.
type UserTypingMsg struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// MessageReadMsg relays a participant's read receipt.
type MessageReadMsg struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id"`
	UserID         int64  `json:"user_id"`
	MessageID      int64  `json:"message_id"`
}

// ErrorMsg communicates an error condition to the client.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeMessage:
		var m SubmitMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkAsRead:
		var m MarkAsReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
