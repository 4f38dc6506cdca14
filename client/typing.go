package client

import (
	"sync"
	"time"
)

// typingIdle is how long after the last keystroke the indicator switches off
// on its own.
const typingIdle = 3 * time.Second

// TypingNotifier converts a stream of input-field contents into typing
// indicator transitions. It emits true when the field goes from empty to
// non-empty, false when it is cleared, and false again after the user stops
// typing for the idle period. Only transitions are emitted, never repeats.
type TypingNotifier struct {
	mu     sync.Mutex
	typing bool
	idle   time.Duration
	emit   func(isTyping bool)
	timer  *time.Timer
}

// NewTypingNotifier creates a TypingNotifier that calls emit on every
// indicator transition.
func NewTypingNotifier(emit func(isTyping bool)) *TypingNotifier {
	return &TypingNotifier{idle: typingIdle, emit: emit}
}

// Input reports the current contents of the input field. Call it on every
// keystroke.
func (n *TypingNotifier) Input(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	active := text != ""
	if active != n.typing {
		n.typing = active
		n.emit(active)
	}

	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	if active {
		n.timer = time.AfterFunc(n.idle, n.idleExpired)
	}
}

// idleExpired fires when the idle timer elapses without further input.
func (n *TypingNotifier) idleExpired() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.typing {
		return
	}
	n.typing = false
	n.emit(false)
}

// Stop cancels the idle timer and emits false if the indicator is still on.
// Call it when the conversation view goes away.
func (n *TypingNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	if n.typing {
		n.typing = false
		n.emit(false)
	}
}
