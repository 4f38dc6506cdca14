package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pulse/messaging-app/internal/chat"
)

// localBus is a synchronous in-process Bus.
type localBus struct {
	mu     sync.Mutex
	subs   map[string]map[int]func(data []byte)
	nextID int
}

func newLocalBus() *localBus {
	return &localBus{subs: make(map[string]map[int]func(data []byte))}
}

func (b *localBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	handlers := make([]func([]byte), 0, len(b.subs[subject]))
	for _, h := range b.subs[subject] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

func (b *localBus) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]func(data []byte))
	}
	id := b.nextID
	b.nextID++
	b.subs[subject][id] = handler

	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[subject], id)
		return nil
	}, nil
}

func (b *localBus) subscriberCount(subject string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[subject])
}

// fakeConn records delivered frames. A full conn refuses every send.
type fakeConn struct {
	id     string
	user   int64
	full   bool
	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) ConnID() string { return c.id }
func (c *fakeConn) UserID() int64  { return c.user }

func (c *fakeConn) TrySend(data []byte) bool {
	if c.full {
		return false
	}
	c.mu.Lock()
	c.frames = append(c.frames, data)
	c.mu.Unlock()
	return true
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) lastFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1]
}

func textEvent(conversationID, senderID int64, content string) chat.Event {
	return chat.Event{
		Type:           chat.EventNewMessage,
		ConversationID: conversationID,
		Message: &chat.Message{
			ID:             1,
			ConversationID: conversationID,
			SenderID:       senderID,
			Type:           chat.TypeText,
			Content:        content,
		},
	}
}

func TestBroadcastReachesRoomMembers(t *testing.T) {
	bus := newLocalBus()
	h := New(bus)

	alice := &fakeConn{id: "c1", user: 1}
	bob := &fakeConn{id: "c2", user: 2}
	carol := &fakeConn{id: "c3", user: 3}

	h.Register(alice, []int64{10})
	h.Register(bob, []int64{10})
	h.Register(carol, []int64{20}) // different room

	if err := h.Broadcast(10, textEvent(10, 1, "hi")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if alice.frameCount() != 1 {
		t.Errorf("sender's own connection got %d frames, want 1", alice.frameCount())
	}
	if bob.frameCount() != 1 {
		t.Errorf("bob got %d frames, want 1", bob.frameCount())
	}
	if carol.frameCount() != 0 {
		t.Errorf("carol got %d frames from another room, want 0", carol.frameCount())
	}

	var frame struct {
		Type           string `json:"type"`
		ConversationID int64  `json:"conversation_id"`
	}
	if err := json.Unmarshal(bob.lastFrame(), &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Type != "new_message" || frame.ConversationID != 10 {
		t.Errorf("frame = %+v", frame)
	}
}

func TestRoomSubscriptionLifecycle(t *testing.T) {
	bus := newLocalBus()
	h := New(bus)

	alice := &fakeConn{id: "c1", user: 1}
	bob := &fakeConn{id: "c2", user: 2}

	h.Register(alice, []int64{10})
	h.Register(bob, []int64{10})

	// One bus subscription per room per node, however many members.
	if got := bus.subscriberCount("conversation.10"); got != 1 {
		t.Fatalf("subscriptions = %d, want 1", got)
	}

	h.Unregister(alice)
	if got := bus.subscriberCount("conversation.10"); got != 1 {
		t.Errorf("subscriptions after first leave = %d, want 1", got)
	}

	h.Unregister(bob)
	if got := bus.subscriberCount("conversation.10"); got != 0 {
		t.Errorf("subscriptions after room emptied = %d, want 0", got)
	}

	// Broadcasting to the emptied room is a no-op, not an error.
	if err := h.Broadcast(10, textEvent(10, 1, "anyone?")); err != nil {
		t.Errorf("broadcast to empty room: %v", err)
	}
	if alice.frameCount() != 0 || bob.frameCount() != 0 {
		t.Errorf("unregistered connections received frames")
	}
}

// gatedBus blocks Subscribe until the gate opens, exposing the window
// between a room being created and its bus subscription being stored.
type gatedBus struct {
	*localBus
	gate chan struct{}
}

func (b *gatedBus) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	<-b.gate
	return b.localBus.Subscribe(subject, handler)
}

func TestJoinLeaveRaceDropsSubscription(t *testing.T) {
	bus := &gatedBus{localBus: newLocalBus(), gate: make(chan struct{})}
	h := New(bus)

	alice := &fakeConn{id: "c1", user: 1}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Register(alice, []int64{10})
	}()

	// Wait until Join has created the room and is parked in Subscribe.
	deadline := time.Now().Add(time.Second)
	for {
		h.mu.RLock()
		_, ok := h.rooms[10]
		h.mu.RUnlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("room was never created")
		}
		time.Sleep(time.Millisecond)
	}

	// The connection leaves before the subscription lands. The emptied room
	// is deleted with no subscription to cancel yet.
	h.Unregister(alice)

	close(bus.gate)
	<-done

	if got := bus.subscriberCount("conversation.10"); got != 0 {
		t.Errorf("bus subscriptions after all connections gone = %d, want 0", got)
	}
}

func TestJoinUserAddsLiveConnections(t *testing.T) {
	bus := newLocalBus()
	h := New(bus)

	phone := &fakeConn{id: "c1", user: 1}
	laptop := &fakeConn{id: "c2", user: 1}
	h.Register(phone, nil)
	h.Register(laptop, nil)

	// Conversation created mid-session: both devices join without reconnect.
	h.JoinUser(1, 42)

	if err := h.Broadcast(42, textEvent(42, 2, "welcome")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if phone.frameCount() != 1 {
		t.Errorf("phone got %d frames, want 1", phone.frameCount())
	}
	if laptop.frameCount() != 1 {
		t.Errorf("laptop got %d frames, want 1", laptop.frameCount())
	}

	// A user with no live connections is a no-op.
	h.JoinUser(99, 42)
}

func TestSlowConsumerDoesNotBlockOthers(t *testing.T) {
	bus := newLocalBus()
	h := New(bus)

	slow := &fakeConn{id: "c1", user: 1, full: true}
	fast := &fakeConn{id: "c2", user: 2}
	h.Register(slow, []int64{10})
	h.Register(fast, []int64{10})

	if err := h.Broadcast(10, textEvent(10, 2, "hi")); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	if fast.frameCount() != 1 {
		t.Errorf("fast conn got %d frames, want 1", fast.frameCount())
	}
	if slow.frameCount() != 0 {
		t.Errorf("slow conn unexpectedly accepted a frame")
	}
}

func TestTypingAndReadFrames(t *testing.T) {
	bus := newLocalBus()
	h := New(bus)

	bob := &fakeConn{id: "c1", user: 2}
	h.Register(bob, []int64{10})

	if err := h.Broadcast(10, chat.Event{
		Type:           chat.EventUserTyping,
		ConversationID: 10,
		UserID:         1,
		IsTyping:       true,
	}); err != nil {
		t.Fatalf("broadcast typing: %v", err)
	}

	if err := h.Broadcast(10, chat.Event{
		Type:           chat.EventMessageRead,
		ConversationID: 10,
		UserID:         1,
		MessageID:      7,
	}); err != nil {
		t.Fatalf("broadcast read: %v", err)
	}

	if bob.frameCount() != 2 {
		t.Fatalf("got %d frames, want 2", bob.frameCount())
	}

	var read struct {
		Type      string `json:"type"`
		UserID    int64  `json:"user_id"`
		MessageID int64  `json:"message_id"`
	}
	if err := json.Unmarshal(bob.lastFrame(), &read); err != nil {
		t.Fatalf("decode read frame: %v", err)
	}
	if read.Type != "message_read" || read.UserID != 1 || read.MessageID != 7 {
		t.Errorf("read frame = %+v", read)
	}
}
