// Package hub tracks which live connections belong to which conversation
// rooms and fans events out to them. Room state is process-local and rebuilt
// on every connection; cross-node delivery goes through the bus, so a room's
// members may be spread over several server nodes.
package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/pulse/messaging-app/internal/chat"
	"github.com/pulse/messaging-app/internal/metrics"
	"github.com/pulse/messaging-app/internal/protocol"
)

// Conn is the handle the hub holds per live connection. TrySend must never
// block: a slow consumer drops events instead of stalling the fanout.
type Conn interface {
	ConnID() string
	UserID() int64
	TrySend(data []byte) bool
}

// Bus is the pub/sub transport between server nodes. Implemented by
// messaging.Client; tests use an in-process bus.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (func() error, error)
}

// roomSubject maps a conversation id to its bus subject.
func roomSubject(conversationID int64) string {
	return fmt.Sprintf("conversation.%d", conversationID)
}

// room is the subscriber set for one conversation plus the node's bus
// subscription for it.
type room struct {
	conns map[string]Conn // conn id -> conn
	unsub func() error
}

// Hub is the room registry. All event delivery flows through the bus, the
// publishing node's own connections included, so local and remote members
// see the same stream.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[int64]*room
	byUser map[int64]map[string]Conn // user id -> conn id -> conn
	bus    Bus
}

// New creates an empty Hub on top of the given bus.
func New(bus Bus) *Hub {
	return &Hub{
		rooms:  make(map[int64]*room),
		byUser: make(map[int64]map[string]Conn),
		bus:    bus,
	}
}

// Register adds a connection and joins it to every given room. Called once
// per connection after authentication, with the conversation ids loaded from
// the persistence layer.
func (h *Hub) Register(c Conn, conversationIDs []int64) {
	h.mu.Lock()
	conns, ok := h.byUser[c.UserID()]
	if !ok {
		conns = make(map[string]Conn)
		h.byUser[c.UserID()] = conns
	}
	conns[c.ConnID()] = c
	h.mu.Unlock()

	for _, id := range conversationIDs {
		h.Join(c, id)
	}
}

// Join subscribes the connection to a room. The first local member of a room
// opens the node's bus subscription for it.
func (h *Hub) Join(c Conn, conversationID int64) {
	h.mu.Lock()
	r, ok := h.rooms[conversationID]
	if !ok {
		r = &room{conns: make(map[string]Conn)}
		h.rooms[conversationID] = r
		metrics.RoomsActive.Inc()
	}
	r.conns[c.ConnID()] = c
	needSub := r.unsub == nil
	h.mu.Unlock()

	if needSub {
		unsub, err := h.bus.Subscribe(roomSubject(conversationID), func(data []byte) {
			h.deliver(conversationID, data)
		})
		if err != nil {
			log.Printf("hub: subscribe room=%d: %v", conversationID, err)
			return
		}
		h.mu.Lock()
		cur, present := h.rooms[conversationID]
		if !present || cur != r || r.unsub != nil {
			// The room emptied and was deleted while the subscription was
			// being opened, or another Join won the race. Either way this
			// subscription has no home; cancel it.
			h.mu.Unlock()
			_ = unsub()
			return
		}
		r.unsub = unsub
		h.mu.Unlock()
	}
}

// JoinUser subscribes every live connection of the user to the room. Used
// when a conversation is created mid-session so it becomes reachable without
// a reconnect.
func (h *Hub) JoinUser(userID, conversationID int64) {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.Join(c, conversationID)
	}
}

// Unregister removes a connection from every room it joined. Rooms left with
// no local members drop their bus subscription. In-flight deliveries to the
// connection are best-effort and may be lost.
func (h *Hub) Unregister(c Conn) {
	var unsubs []func() error

	h.mu.Lock()
	if conns, ok := h.byUser[c.UserID()]; ok {
		delete(conns, c.ConnID())
		if len(conns) == 0 {
			delete(h.byUser, c.UserID())
		}
	}
	for id, r := range h.rooms {
		if _, ok := r.conns[c.ConnID()]; !ok {
			continue
		}
		delete(r.conns, c.ConnID())
		if len(r.conns) == 0 {
			if r.unsub != nil {
				unsubs = append(unsubs, r.unsub)
			}
			delete(h.rooms, id)
			metrics.RoomsActive.Dec()
		}
	}
	h.mu.Unlock()

	for _, unsub := range unsubs {
		if err := unsub(); err != nil {
			log.Printf("hub: unsubscribe: %v", err)
		}
	}
}

// Broadcast publishes an event to the conversation's room. Every subscribed
// connection receives it, the sender's own connections included; clients
// de-duplicate self-originated events.
func (h *Hub) Broadcast(conversationID int64, event chat.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("hub: marshal event: %w", err)
	}
	if err := h.bus.Publish(roomSubject(conversationID), data); err != nil {
		return fmt.Errorf("hub: publish room=%d: %w", conversationID, err)
	}
	metrics.EventsBroadcastTotal.WithLabelValues(event.Type).Inc()
	return nil
}

// deliver converts a bus event to a protocol frame and pushes it to every
// local member of the room. Sends are non-blocking; a full outbox drops the
// frame for that connection only.
func (h *Hub) deliver(conversationID int64, data []byte) {
	var event chat.Event
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("hub: unmarshal event room=%d: %v", conversationID, err)
		return
	}

	frame, err := frameFor(event)
	if err != nil {
		log.Printf("hub: encode frame room=%d type=%s: %v", conversationID, event.Type, err)
		return
	}

	h.mu.RLock()
	r, ok := h.rooms[conversationID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.TrySend(frame) {
			metrics.EventsDroppedTotal.Inc()
			log.Printf("hub: dropped %s for conn=%s room=%d (outbox full)",
				event.Type, c.ConnID(), conversationID)
		}
	}
}

// frameFor maps a room event to the server->client protocol message.
func frameFor(event chat.Event) ([]byte, error) {
	switch event.Type {
	case chat.EventNewMessage:
		return protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
			ConversationID: event.ConversationID,
			Message:        event.Message,
		})
	case chat.EventUserTyping:
		return protocol.NewServerMessage(protocol.TypeUserTyping, protocol.UserTypingMsg{
			ConversationID: event.ConversationID,
			UserID:         event.UserID,
			IsTyping:       event.IsTyping,
		})
	case chat.EventMessageRead:
		return protocol.NewServerMessage(protocol.TypeMessageRead, protocol.MessageReadMsg{
			ConversationID: event.ConversationID,
			UserID:         event.UserID,
			MessageID:      event.MessageID,
		})
	default:
		return nil, fmt.Errorf("unknown event type %q", event.Type)
	}
}
