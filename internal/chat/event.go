package chat

// Event types published to conversation rooms.
const (
	EventNewMessage  = "new_message"
	EventUserTyping  = "user_typing"
	EventMessageRead = "message_read"
)

// Event is the payload published to conversation.<id> subjects for delivery
// to every live connection subscribed to the room. Typing and read-receipt
// events are transient: they are broadcast and never persisted.
type Event struct {
	Type           string   `json:"type"`
	ConversationID int64    `json:"conversation_id"`
	Message        *Message `json:"message,omitempty"`    // new_message
	UserID         int64    `json:"user_id,omitempty"`    // user_typing, message_read
	MessageID      int64    `json:"message_id,omitempty"` // message_read
	IsTyping       bool     `json:"is_typing,omitempty"`  // user_typing
}
