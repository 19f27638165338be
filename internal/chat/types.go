package chat

import (
	"strings"
	"time"
)

// Participant is an identity-stable record for a connected (or group-member)
// user. Identity is the normalized email, falling back to the display name —
// never the transport connection id, since one person may hold several
// connections at once.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// identityKey returns the dedup key for the participant: normalized email,
// or normalized display name when no email is known.
func (p Participant) identityKey() string {
	if e := strings.ToLower(strings.TrimSpace(p.Email)); e != "" {
		return e
	}
	return strings.ToLower(strings.TrimSpace(p.DisplayName))
}

// completeness counts non-empty identity fields. Used when two roster
// entries share an identity key and one must win.
func (p Participant) completeness() int {
	n := 0
	for _, f := range []string{p.ID, p.DisplayName, p.Email, p.Role, p.Avatar} {
		if f != "" {
			n++
		}
	}
	return n
}

// Message is a delivered chat message. Immutable once stored except for the
// edit/delete markers, which are applied in place by id lookup.
type Message struct {
	ID         string     `json:"id"`
	Scope      Scope      `json:"scope"`
	Target     string     `json:"target,omitempty"`
	SenderID   string     `json:"sender_id"`
	SenderName string     `json:"sender_name,omitempty"`
	Body       string     `json:"body"`
	SentAt     time.Time  `json:"sent_at"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// Key returns the conversation the message belongs to.
func (m Message) Key() ConversationKey {
	return ConversationKey{Scope: m.Scope, Target: m.Target}
}

// GroupInfo is the local view of a group. Members keeps join order; the
// first remaining member is promoted if the last admin leaves.
type GroupInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	CreatedBy   string        `json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
	Admins      []string      `json:"admins"`
	Members     []Participant `json:"members"`
}

// IsMember reports whether the user belongs to the group, independent of
// online status.
func (g GroupInfo) IsMember(userID string) bool {
	for _, m := range g.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user holds admin rights in the group.
func (g GroupInfo) IsAdmin(userID string) bool {
	for _, id := range g.Admins {
		if id == userID {
			return true
		}
	}
	return false
}
