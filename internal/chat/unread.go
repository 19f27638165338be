package chat

import "sync"

// UnreadTracker keeps a per-conversation counter of messages not yet
// acknowledged as read. Counts never go negative; Reset lands on exactly
// zero no matter the prior value.
type UnreadTracker struct {
	mu     sync.RWMutex
	counts map[ConversationKey]int
}

func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{counts: make(map[ConversationKey]int)}
}

// Increment bumps the counter by one and returns the new count.
func (t *UnreadTracker) Increment(key ConversationKey) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[key]++
	return t.counts[key]
}

// Reset zeroes the counter for the key.
func (t *UnreadTracker) Reset(key ConversationKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, key)
}

// Count returns the counter for one conversation.
func (t *UnreadTracker) Count(key ConversationKey) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts[key]
}

// Total sums all per-conversation counters, for the badge.
func (t *UnreadTracker) Total() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0
	for _, n := range t.counts {
		total += n
	}
	return total
}
