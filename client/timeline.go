// Package client implements the client side of the messaging channel: a
// WebSocket session, a per-conversation message timeline with duplicate
// suppression, a typing notifier, and a profile cache.
package client

import (
	"sync"
	"time"

	"github.com/pulse/messaging-app/internal/chat"
)

// echoWindow is how close in time a server echo must be to a pending
// optimistic message to be treated as a duplicate of it.
const echoWindow = 2 * time.Second

// Timeline holds the ordered message list for one conversation. Messages may
// arrive twice (history fetch racing the live channel, or the server echo of
// an optimistic send) and Add suppresses those duplicates.
type Timeline struct {
	mu     sync.Mutex
	selfID int64
	msgs   []chat.Message
	ids    map[int64]struct{} // persisted ids present in msgs
	window time.Duration
}

// NewTimeline creates an empty Timeline for the given local user.
func NewTimeline(selfID int64) *Timeline {
	return &Timeline{
		selfID: selfID,
		ids:    make(map[int64]struct{}),
		window: echoWindow,
	}
}

// SetSelfID changes which user counts as local for echo suppression. Used
// when the timeline is built before the server has confirmed the session.
func (t *Timeline) SetSelfID(selfID int64) {
	t.mu.Lock()
	t.selfID = selfID
	t.mu.Unlock()
}

// Seed replaces the timeline contents with a history snapshot. Optimistic
// messages (id <= 0) are not expected in a snapshot and are dropped.
func (t *Timeline) Seed(msgs []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.msgs = t.msgs[:0]
	t.ids = make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ID <= 0 {
			continue
		}
		t.msgs = append(t.msgs, m)
		t.ids[m.ID] = struct{}{}
	}
}

// Add appends a message unless it duplicates one already held. It reports
// whether the message was appended.
//
// A message is a duplicate when its id is already present, or when it is an
// echo of an optimistic send: same local sender and content within a short
// time window of a held copy. An echo that arrived with the real server id
// promotes the pending entry in place, so the timeline gains the id without
// a visible duplicate.
func (t *Timeline) Add(msg chat.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ID > 0 {
		if _, held := t.ids[msg.ID]; held {
			return false
		}
	}

	// An unconfirmed echo of a local send: the transport replayed a message
	// that has no server id yet. If a matching copy is already held, drop it.
	if msg.ID <= 0 && msg.SenderID == t.selfID {
		for i := range t.msgs {
			held := &t.msgs[i]
			if held.SenderID != msg.SenderID || held.Content != msg.Content {
				continue
			}
			if absDuration(msg.Timestamp.Sub(held.Timestamp)) > t.window {
				continue
			}
			return false
		}
	}

	if msg.ID > 0 && msg.SenderID == t.selfID {
		for i := range t.msgs {
			pending := &t.msgs[i]
			if pending.ID > 0 {
				continue
			}
			if pending.SenderID != msg.SenderID || pending.Content != msg.Content {
				continue
			}
			if absDuration(msg.Timestamp.Sub(pending.Timestamp)) > t.window {
				continue
			}
			*pending = msg
			t.ids[msg.ID] = struct{}{}
			return false
		}
	}

	t.msgs = append(t.msgs, msg)
	if msg.ID > 0 {
		t.ids[msg.ID] = struct{}{}
	}
	return true
}

// Messages returns a copy of the timeline in order.
func (t *Timeline) Messages() []chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]chat.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Len returns the number of held messages.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
