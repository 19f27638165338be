package chat

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTypingIdle is how long after the last keystroke an outbound
	// "typing" flips back to false on its own.
	DefaultTypingIdle = time.Second
	// DefaultTypingExpiry bounds how long a peer's indicator survives
	// without a refreshing event. Covers peers that vanish ungracefully.
	DefaultTypingExpiry = 3 * time.Second
)

// stopFunc cancels a scheduled callback. Reports whether it was still
// pending.
type stopFunc func() bool

// timerFactory schedules fn after d. Tests swap in a manual implementation
// so expiry runs on a simulated clock.
type timerFactory func(d time.Duration, fn func()) stopFunc

func realTimers(d time.Duration, fn func()) stopFunc {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

type typingKey struct {
	Conv          ConversationKey
	ParticipantID string
}

// TypingCoordinator debounces outbound typing signals and expires inbound
// ones. Outbound: one set_typing per actual value change, with an idle
// timer forcing true -> false when the caller goes quiet. Inbound: every
// true starts a fresh expiry timer; events from the local identity are
// dropped.
type TypingCoordinator struct {
	mu     sync.Mutex
	selfID string
	emit   func(Envelope) error
	notify func(Event)
	idle   time.Duration
	expire time.Duration
	after  timerFactory
	closed bool

	lastSent   map[ConversationKey]bool
	idleTimers map[ConversationKey]stopFunc

	states       map[typingKey]bool
	expiryTimers map[typingKey]stopFunc
	lastSeq      map[typingKey]int64
}

func newTypingCoordinator(selfID string, idle, expire time.Duration, after timerFactory, emit func(Envelope) error, notify func(Event)) *TypingCoordinator {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if expire <= 0 {
		expire = DefaultTypingExpiry
	}
	if after == nil {
		after = realTimers
	}
	return &TypingCoordinator{
		selfID:       selfID,
		emit:         emit,
		notify:       notify,
		idle:         idle,
		expire:       expire,
		after:        after,
		lastSent:     make(map[ConversationKey]bool),
		idleTimers:   make(map[ConversationKey]stopFunc),
		states:       make(map[typingKey]bool),
		expiryTimers: make(map[typingKey]stopFunc),
		lastSeq:      make(map[typingKey]int64),
	}
}

// SetTyping publishes the local typing state for a conversation. Repeated
// true values refresh the idle timer but reach the wire only once.
func (c *TypingCoordinator) SetTyping(key ConversationKey, typing bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	if typing {
		if stop, ok := c.idleTimers[key]; ok {
			stop()
		}
		c.idleTimers[key] = c.after(c.idle, func() { c.idleExpired(key) })
	} else if stop, ok := c.idleTimers[key]; ok {
		stop()
		delete(c.idleTimers, key)
	}

	if c.lastSent[key] == typing {
		c.mu.Unlock()
		return nil
	}
	c.lastSent[key] = typing
	c.mu.Unlock()

	return c.emit(NewEnvelope(KindSetTyping, TypingPayload{
		Scope:  key.Scope,
		Target: key.Target,
		Typing: typing,
	}))
}

func (c *TypingCoordinator) idleExpired(key ConversationKey) {
	c.mu.Lock()
	delete(c.idleTimers, key)
	c.mu.Unlock()
	_ = c.SetTyping(key, false)
}

// OnTyping applies a peer's typing event. Stale events (by server sequence)
// and self echoes are ignored.
func (c *TypingCoordinator) OnTyping(key ConversationKey, participantID string, typing bool, seq int64) {
	if participantID == c.selfID {
		return
	}

	tk := typingKey{Conv: key, ParticipantID: participantID}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if seq != 0 && seq <= c.lastSeq[tk] {
		c.mu.Unlock()
		return
	}
	if seq != 0 {
		c.lastSeq[tk] = seq
	}

	if stop, ok := c.expiryTimers[tk]; ok {
		stop()
		delete(c.expiryTimers, tk)
	}

	changed := c.states[tk] != typing
	if typing {
		c.states[tk] = true
		c.expiryTimers[tk] = c.after(c.expire, func() { c.expired(tk) })
	} else {
		delete(c.states, tk)
	}
	c.mu.Unlock()

	if changed {
		c.notify(TypingChanged{Key: key, ParticipantID: participantID, Typing: typing})
	}
}

// expired forces a peer's indicator off without waiting for a server-sent
// false.
func (c *TypingCoordinator) expired(tk typingKey) {
	c.mu.Lock()
	delete(c.expiryTimers, tk)
	if !c.states[tk] {
		c.mu.Unlock()
		return
	}
	delete(c.states, tk)
	c.mu.Unlock()

	c.notify(TypingChanged{Key: tk.Conv, ParticipantID: tk.ParticipantID, Typing: false})
}

// Typing lists the participants currently typing in the conversation.
func (c *TypingCoordinator) Typing(key ConversationKey) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for tk, on := range c.states {
		if on && tk.Conv == key {
			out = append(out, tk.ParticipantID)
		}
	}
	sort.Strings(out)
	return out
}

// resume reopens the coordinator after a Shutdown, for reconnects.
func (c *TypingCoordinator) resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = false
}

// Shutdown cancels every pending timer. Without this, expiry callbacks keep
// firing phantom indicators after disconnect.
func (c *TypingCoordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	for key, stop := range c.idleTimers {
		stop()
		delete(c.idleTimers, key)
	}
	for tk, stop := range c.expiryTimers {
		stop()
		delete(c.expiryTimers, tk)
	}
	c.states = make(map[typingKey]bool)
	c.lastSent = make(map[ConversationKey]bool)
	// A restarted server numbers its relays from one again, so carrying
	// sequence watermarks across a reconnect would drop fresh events.
	c.lastSeq = make(map[typingKey]int64)
}
