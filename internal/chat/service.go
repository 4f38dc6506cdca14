package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pulse/messaging-app/internal/metrics"
)

// Broadcaster fans events out to every live connection subscribed to a
// conversation room. Implemented by internal/hub. Broadcasting to a room with
// no open connections is a no-op, not an error.
type Broadcaster interface {
	Broadcast(conversationID int64, event Event) error

	// JoinUser subscribes the user's live connections (if any) to the room,
	// so conversations created mid-session become reachable without a
	// reconnect.
	JoinUser(userID, conversationID int64)
}

// Media resolves an opaque media key against the external blob store. Used to
// reject media messages whose key does not reference anything.
type Media interface {
	SignedURL(ctx context.Context, key string) (string, error)
}

// Service is the conversation resolver and message pipeline. All
// conversation-scoped operations authorize through Store.IsParticipant.
type Service struct {
	store Store
	hub   Broadcaster
	media Media // optional; nil skips media-key verification
}

// NewService creates a Service on top of the given store and broadcaster.
// media may be nil, in which case media keys are accepted unverified.
func NewService(store Store, hub Broadcaster, media Media) *Service {
	return &Service{store: store, hub: hub, media: media}
}

// ResolveDirect finds the non-group conversation between the caller and the
// other user, creating it exactly once when absent. Both participants' live
// connections are joined to the new room immediately.
func (s *Service) ResolveDirect(ctx context.Context, userID, otherID int64) (Conversation, error) {
	if otherID <= 0 {
		return Conversation{}, fmt.Errorf("%w: user id required", ErrInvalidArgument)
	}
	if otherID == userID {
		return Conversation{}, fmt.Errorf("%w: cannot open a conversation with yourself", ErrInvalidArgument)
	}

	conv, created, err := s.store.ResolveDirect(ctx, userID, otherID)
	if err != nil {
		return Conversation{}, err
	}
	if created {
		s.hub.JoinUser(userID, conv.ID)
		s.hub.JoinUser(otherID, conv.ID)
		log.Printf("chat: direct conversation created id=%d users=%d,%d", conv.ID, userID, otherID)
	}
	return conv, nil
}

// CreateGroup creates a group conversation with the creator plus every member
// as participants in one transaction.
func (s *Service) CreateGroup(ctx context.Context, creatorID int64, name string, memberIDs []int64) (Conversation, error) {
	if err := ValidateGroupName(name); err != nil {
		return Conversation{}, err
	}
	if len(memberIDs) == 0 {
		return Conversation{}, fmt.Errorf("%w: at least one member required", ErrInvalidArgument)
	}
	for _, id := range memberIDs {
		if id <= 0 {
			return Conversation{}, fmt.Errorf("%w: invalid member id %d", ErrInvalidArgument, id)
		}
	}

	conv, err := s.store.CreateGroup(ctx, name, creatorID, memberIDs)
	if err != nil {
		return Conversation{}, err
	}

	s.hub.JoinUser(creatorID, conv.ID)
	for _, id := range memberIDs {
		s.hub.JoinUser(id, conv.ID)
	}
	log.Printf("chat: group conversation created id=%d name=%q members=%d", conv.ID, name, len(memberIDs)+1)
	return conv, nil
}

// ListConversations returns the caller's conversations, most recently active
// first.
func (s *Service) ListConversations(ctx context.Context, userID int64) ([]Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

// ListMessages returns the conversation's full history ascending by id. As a
// side effect the caller's read progress advances to the newest message, so a
// history fetch doubles as an acknowledgement.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID int64) ([]Message, error) {
	if err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if len(msgs) > 0 {
		last := msgs[len(msgs)-1].ID
		if _, err := s.store.UpdateLastRead(ctx, conversationID, userID, last); err != nil {
			log.Printf("chat: advance read marker conv=%d user=%d: %v", conversationID, userID, err)
		}
	}
	return msgs, nil
}

// SubmitText validates, persists, and broadcasts a text message.
func (s *Service) SubmitText(ctx context.Context, conversationID, senderID int64, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if err := ValidateContent(content); err != nil {
		return Message{}, err
	}
	return s.submit(ctx, conversationID, senderID, TypeText, content, "")
}

// SubmitMedia validates, persists, and broadcasts an image or video message.
// The media key must reference an object already uploaded to the blob store;
// content is an optional caption.
func (s *Service) SubmitMedia(ctx context.Context, conversationID, senderID int64, typ MessageType, mediaKey, content string) (Message, error) {
	if typ != TypeImage && typ != TypeVideo {
		return Message{}, fmt.Errorf("%w: invalid media type %q", ErrInvalidArgument, typ)
	}
	if mediaKey == "" {
		return Message{}, fmt.Errorf("%w: media key required", ErrInvalidArgument)
	}
	if s.media != nil {
		if _, err := s.media.SignedURL(ctx, mediaKey); err != nil {
			if errors.Is(err, ErrMediaNotFound) {
				return Message{}, fmt.Errorf("%w: unknown media key", ErrInvalidArgument)
			}
			// The blob store is unreachable, not the key missing. Accept the
			// submission rather than reject valid media.
			log.Printf("chat: media verify key=%q: %v", mediaKey, err)
		}
	}
	return s.submit(ctx, conversationID, senderID, typ, content, mediaKey)
}

// submit is the shared persist-then-broadcast path. The append and the
// conversation timestamp bump are atomic in the store; the broadcast is
// fire-and-forget.
func (s *Service) submit(ctx context.Context, conversationID, senderID int64, typ MessageType, content, mediaKey string) (Message, error) {
	if err := s.authorize(ctx, conversationID, senderID); err != nil {
		return Message{}, err
	}

	start := time.Now()
	msg, err := s.store.AppendMessage(ctx, conversationID, senderID, typ, content, mediaKey)
	if err != nil {
		return Message{}, err
	}
	metrics.AppendLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.WithLabelValues(string(typ)).Inc()

	s.broadcast(conversationID, Event{
		Type:           EventNewMessage,
		ConversationID: conversationID,
		Message:        &msg,
	})
	return msg, nil
}

// MarkRead advances the user's read progress to messageID and broadcasts a
// read receipt. The marker is monotonic: a stale messageID never regresses it
// and produces no broadcast.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID, messageID int64) error {
	if messageID <= 0 {
		return fmt.Errorf("%w: message id required", ErrInvalidArgument)
	}
	if err := s.authorize(ctx, conversationID, userID); err != nil {
		return err
	}

	advanced, err := s.store.UpdateLastRead(ctx, conversationID, userID, messageID)
	if err != nil {
		return err
	}
	if !advanced {
		return nil
	}

	s.broadcast(conversationID, Event{
		Type:           EventMessageRead,
		ConversationID: conversationID,
		UserID:         userID,
		MessageID:      messageID,
	})
	return nil
}

// SetTyping broadcasts a typing indicator. Nothing is persisted.
func (s *Service) SetTyping(ctx context.Context, conversationID, userID int64, isTyping bool) error {
	if err := s.authorize(ctx, conversationID, userID); err != nil {
		return err
	}

	s.broadcast(conversationID, Event{
		Type:           EventUserTyping,
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
	return nil
}

// authorize maps non-membership to ErrUnauthorized. A missing conversation is
// indistinguishable from one the user does not belong to.
func (s *Service) authorize(ctx context.Context, conversationID, userID int64) error {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// broadcast publishes an event to the conversation room. Delivery failures
// are logged and swallowed: a submit must not fail because fanout did.
func (s *Service) broadcast(conversationID int64, event Event) {
	if err := s.hub.Broadcast(conversationID, event); err != nil {
		log.Printf("chat: broadcast %s conv=%d: %v", event.Type, conversationID, err)
	}
}
