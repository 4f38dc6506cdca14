// Package chat implements the conversation and messaging core: the
// conversation resolver, the message pipeline, and the domain model shared by
// the persistence and broadcast layers.
package chat

import (
	"context"
	"time"
)

// MessageType discriminates text messages from media references.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
)

// Valid reports whether the type is one of the supported message types.
func (t MessageType) Valid() bool {
	return t == TypeText || t == TypeImage || t == TypeVideo
}

// Conversation is a container for an ordered message history between two or
// more users. Non-group conversations hold exactly two participants and are
// unique per unordered user pair.
type Conversation struct {
	ID            int64     `json:"id"`
	IsGroup       bool      `json:"is_group"`
	Name          string    `json:"name,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Participant links a user to a conversation and carries per-user read
// progress. LastReadMessageID is zero when the user has read nothing yet.
type Participant struct {
	ConversationID    int64 `json:"conversation_id"`
	UserID            int64 `json:"user_id"`
	LastReadMessageID int64 `json:"last_read_message_id,omitempty"`
}

// Message is one persisted entry in a conversation's history. IDs are
// server-assigned and strictly increasing; within a conversation the id order
// matches the timestamp order.
type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	SenderID       int64       `json:"sender_id"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	MediaKey       string      `json:"media_key,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	IsRead         bool        `json:"is_read"`
}

// Store is the persistence contract the service operates against. The
// PostgreSQL implementation lives in internal/store.
type Store interface {
	// ResolveDirect returns the unique non-group conversation between the two
	// users, creating it (with both participants, atomically) when it does not
	// exist. The second return value reports whether a new conversation was
	// created by this call.
	ResolveDirect(ctx context.Context, userA, userB int64) (Conversation, bool, error)

	// CreateGroup creates a group conversation with the creator and every
	// member as participants in one transaction. Partial failure rolls the
	// whole group back.
	CreateGroup(ctx context.Context, name string, creatorID int64, memberIDs []int64) (Conversation, error)

	// AppendMessage persists a message and bumps the conversation's
	// last_message_at in the same transaction.
	AppendMessage(ctx context.Context, conversationID, senderID int64, typ MessageType, content, mediaKey string) (Message, error)

	// ListMessages returns the conversation's full history ascending by id.
	ListMessages(ctx context.Context, conversationID int64) ([]Message, error)

	// ListConversations returns every conversation the user participates in,
	// most recently active first.
	ListConversations(ctx context.Context, userID int64) ([]Conversation, error)

	// ConversationIDs returns the ids of every conversation the user
	// participates in. Used to derive room membership on connect.
	ConversationIDs(ctx context.Context, userID int64) ([]int64, error)

	// IsParticipant reports whether the user belongs to the conversation. It
	// is the sole authorization check for conversation-scoped operations.
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)

	// UpdateLastRead advances the participant's last_read_message_id to
	// messageID if it is greater than the stored value. It never regresses.
	// Returns true when the stored value was advanced.
	UpdateLastRead(ctx context.Context, conversationID, userID, messageID int64) (bool, error)
}
