package chat

import (
	"encoding/json"
	"time"
)

// Envelope is the kind-tagged frame exchanged with the server.
type Envelope struct {
	Kind    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals the payload into an envelope. Marshal errors are not
// possible for the payload types in this package, so they are swallowed.
func NewEnvelope(kind string, payload any) Envelope {
	data, _ := json.Marshal(payload)
	return Envelope{Kind: kind, Payload: data}
}

// Outbound event kinds.
const (
	KindAnnounce      = "announce"
	KindSendMessage   = "send_message"
	KindEditMessage   = "edit_message"
	KindDeleteMessage = "delete_message"
	KindSetTyping     = "set_typing"
	KindGetHistory    = "get_history"
	KindMarkRead      = "mark_read"
	KindCreateGroup   = "create_group"
	KindJoinGroup     = "join_group"
	KindLeaveGroup    = "leave_group"
	KindAddMember     = "add_member"
	KindRemoveMember  = "remove_member"
)

// Inbound event kinds.
const (
	KindRoster         = "roster"
	KindUserJoined     = "user_joined"
	KindUserLeft       = "user_left"
	KindNewMessage     = "new_message"
	KindMessageEdited  = "message_edited"
	KindMessageDeleted = "message_deleted"
	KindHistory        = "history"
	KindTyping         = "typing"
	KindGroupCreated   = "group_created"
	KindGroupJoined    = "group_joined"
	KindGroupLeft      = "group_left"
	KindMemberAdded    = "member_added"
	KindMemberRemoved  = "member_removed"
	KindError          = "error"
)

// AnnouncePayload carries the local identity right after connecting.
type AnnouncePayload struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Avatar      string `json:"avatar,omitempty"`
}

type SendMessagePayload struct {
	Scope  Scope  `json:"scope"`
	Target string `json:"target,omitempty"`
	Body   string `json:"body"`
}

type EditMessagePayload struct {
	Scope  Scope  `json:"scope"`
	Target string `json:"target,omitempty"`
	ID     string `json:"id"`
	Body   string `json:"body"`
}

type DeleteMessagePayload struct {
	Scope  Scope  `json:"scope"`
	Target string `json:"target,omitempty"`
	ID     string `json:"id"`
}

// TypingPayload travels both directions. Seq is stamped by the server so a
// stale "stopped typing" arriving late cannot clear a fresher indicator.
type TypingPayload struct {
	Scope         Scope  `json:"scope"`
	Target        string `json:"target,omitempty"`
	ParticipantID string `json:"participant_id,omitempty"`
	Typing        bool   `json:"typing"`
	Seq           int64  `json:"seq,omitempty"`
}

type HistoryRequestPayload struct {
	Scope  Scope  `json:"scope"`
	Target string `json:"target,omitempty"`
}

type HistoryPayload struct {
	Scope    Scope     `json:"scope"`
	Target   string    `json:"target,omitempty"`
	Messages []Message `json:"messages"`
}

type MarkReadPayload struct {
	Scope  Scope  `json:"scope"`
	Target string `json:"target,omitempty"`
}

type CreateGroupPayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Members     []string `json:"members,omitempty"`
}

type GroupRefPayload struct {
	GroupID string `json:"group_id"`
}

type MemberRefPayload struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}

// Inbound payloads.

type RosterPayload struct {
	Participants []Participant `json:"participants"`
}

type GroupCreatedPayload struct {
	Group GroupInfo `json:"group"`
}

// GroupMemberPayload announces a participant entering a group, either by
// joining or by being added by an admin.
type GroupMemberPayload struct {
	GroupID     string      `json:"group_id"`
	Participant Participant `json:"participant"`
	AddedBy     string      `json:"added_by,omitempty"`
}

// GroupLeavePayload announces a participant leaving or being removed.
type GroupLeavePayload struct {
	GroupID   string `json:"group_id"`
	UserID    string `json:"user_id"`
	RemovedBy string `json:"removed_by,omitempty"`
}

type MessageEditedPayload struct {
	Scope    Scope     `json:"scope"`
	Target   string    `json:"target,omitempty"`
	SenderID string    `json:"sender_id"`
	ID       string    `json:"id"`
	Body     string    `json:"body"`
	EditedAt time.Time `json:"edited_at"`
}

type MessageDeletedPayload struct {
	Scope     Scope     `json:"scope"`
	Target    string    `json:"target,omitempty"`
	SenderID  string    `json:"sender_id"`
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deleted_at"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
