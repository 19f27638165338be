package chat

import (
	"encoding/json"
	"fmt"
)

// Scope selects among the three message channels multiplexed over one
// connection.
type Scope int8

const (
	ScopePublic Scope = iota
	ScopePrivate
	ScopeGroup
)

func (s Scope) String() string {
	switch s {
	case ScopePublic:
		return "public"
	case ScopePrivate:
		return "private"
	case ScopeGroup:
		return "group"
	}
	return fmt.Sprintf("scope(%d)", int8(s))
}

func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw {
	case "public":
		*s = ScopePublic
	case "private":
		*s = ScopePrivate
	case "group":
		*s = ScopeGroup
	default:
		return fmt.Errorf("unknown scope %q", raw)
	}
	return nil
}

// ConversationKey is the tagged identifier for a conversation. All
// per-conversation maps (messages, typing, unread) are keyed by this value,
// never by the raw target string, so a group id can never collide with a
// user id. The zero value is the public channel.
type ConversationKey struct {
	Scope  Scope  `json:"scope"`
	Target string `json:"target,omitempty"`
}

// Public is the singleton broadcast channel.
func Public() ConversationKey {
	return ConversationKey{Scope: ScopePublic}
}

// Private addresses the 1:1 channel with the given participant.
func Private(participantID string) ConversationKey {
	return ConversationKey{Scope: ScopePrivate, Target: participantID}
}

// Group addresses the channel of the given group.
func Group(groupID string) ConversationKey {
	return ConversationKey{Scope: ScopeGroup, Target: groupID}
}

func (k ConversationKey) String() string {
	if k.Scope == ScopePublic {
		return "public"
	}
	return k.Scope.String() + ":" + k.Target
}
