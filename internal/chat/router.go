package chat

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Router classifies inbound messages into per-conversation logs, merges
// history responses, and applies edit/delete markers. Outbound sends are
// not appended locally; the authoritative server echo populates the log,
// so there is exactly one source of truth and no duplicate-message bugs.
type Router struct {
	mu        sync.RWMutex
	selfID    string
	logs      map[ConversationKey][]Message
	active    ConversationKey
	hasActive bool
	unread    *UnreadTracker
	log       zerolog.Logger
}

func NewRouter(selfID string, unread *UnreadTracker, logger zerolog.Logger) *Router {
	return &Router{
		selfID: selfID,
		logs:   make(map[ConversationKey][]Message),
		unread: unread,
		log:    logger,
	}
}

// SetActive marks the conversation the user is looking at and clears its
// unread counter.
func (r *Router) SetActive(key ConversationKey) {
	r.mu.Lock()
	r.active = key
	r.hasActive = true
	r.mu.Unlock()
	r.unread.Reset(key)
}

// ClearActive marks no conversation as open.
func (r *Router) ClearActive() {
	r.mu.Lock()
	r.hasActive = false
	r.mu.Unlock()
}

// Active returns the open conversation, if any.
func (r *Router) Active() (ConversationKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active, r.hasActive
}

// conversationFor maps a delivered event onto the local conversation key.
// Private traffic is keyed by the other party: the wire target is the
// recipient, so on the recipient's side the key is the sender.
func (r *Router) conversationFor(scope Scope, target, senderID string) ConversationKey {
	if scope == ScopePrivate && target == r.selfID {
		return ConversationKey{Scope: scope, Target: senderID}
	}
	return ConversationKey{Scope: scope, Target: target}
}

// OnMessage appends a delivered message to its conversation log. Returns
// true when the unread counter was bumped (conversation not active and the
// sender is someone else).
func (r *Router) OnMessage(m Message) bool {
	key := r.conversationFor(m.Scope, m.Target, m.SenderID)

	r.mu.Lock()
	r.logs[key] = append(r.logs[key], m)
	inactive := !r.hasActive || r.active != key
	r.mu.Unlock()

	if inactive && m.SenderID != r.selfID {
		r.unread.Increment(key)
		return true
	}
	return false
}

// OnHistory merges a server history batch into the conversation log. The
// merge is idempotent: entries are deduplicated by id with the server copy
// winning, then sorted ascending by sent time with id as tie-break, so the
// same response applied twice yields the same log.
func (r *Router) OnHistory(key ConversationKey, msgs []Message) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[string]Message, len(msgs)+len(r.logs[key]))
	for _, m := range r.logs[key] {
		byID[m.ID] = m
	}
	for _, m := range msgs {
		byID[m.ID] = m
	}

	merged := make([]Message, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		if !merged[i].SentAt.Equal(merged[j].SentAt) {
			return merged[i].SentAt.Before(merged[j].SentAt)
		}
		return merged[i].ID < merged[j].ID
	})

	r.logs[key] = merged
	return len(merged)
}

// OnEdited applies an edit marker in place, located by id — never by index,
// since indices shift as history merges arrive out of order. Unknown ids
// degrade to a logged no-op.
func (r *Router) OnEdited(p MessageEditedPayload) bool {
	key := r.conversationFor(p.Scope, p.Target, p.SenderID)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.logs[key] {
		if r.logs[key][i].ID == p.ID {
			r.logs[key][i].Body = p.Body
			edited := p.EditedAt
			r.logs[key][i].EditedAt = &edited
			return true
		}
	}
	r.log.Debug().Str("conversation", key.String()).Str("message_id", p.ID).
		Msg("edit for unknown message dropped")
	return false
}

// OnDeleted flags a message as deleted in place. The entry stays in the
// log so ordering survives.
func (r *Router) OnDeleted(p MessageDeletedPayload) bool {
	key := r.conversationFor(p.Scope, p.Target, p.SenderID)

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.logs[key] {
		if r.logs[key][i].ID == p.ID {
			deleted := p.DeletedAt
			r.logs[key][i].DeletedAt = &deleted
			return true
		}
	}
	r.log.Debug().Str("conversation", key.String()).Str("message_id", p.ID).
		Msg("delete for unknown message dropped")
	return false
}

// Messages returns a copy of the conversation log.
func (r *Router) Messages(key ConversationKey) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Message, len(r.logs[key]))
	copy(out, r.logs[key])
	return out
}
