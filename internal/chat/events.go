package chat

// Event is the tagged union delivered on Session.Events. Consumers switch
// on the concrete type; there are no per-kind callback registrations.
type Event interface {
	event()
}

// Connected fires once the transport is ready and the identity announce has
// been sent.
type Connected struct{}

// Disconnected fires when the transport drops. Err is nil for a local
// Disconnect call.
type Disconnected struct {
	Err error
}

// RosterUpdated fires on any presence change and carries the full
// deduplicated roster.
type RosterUpdated struct {
	Participants []Participant
}

// MessageReceived fires for every inbound message, own echoes included.
type MessageReceived struct {
	Key     ConversationKey
	Message Message
}

// HistoryLoaded fires after a history response has been merged.
type HistoryLoaded struct {
	Key   ConversationKey
	Count int
}

// MessageEdited and MessageDeleted fire after the marker has been applied
// to the local log.
type MessageEdited struct {
	Key ConversationKey
	ID  string
}

type MessageDeleted struct {
	Key ConversationKey
	ID  string
}

// TypingChanged fires when a peer's typing indicator flips, including the
// forced expiry to false.
type TypingChanged struct {
	Key           ConversationKey
	ParticipantID string
	Typing        bool
}

type GroupChange int8

const (
	GroupCreatedChange GroupChange = iota
	GroupJoinedChange
	GroupLeftChange
	GroupMemberAddedChange
	GroupMemberRemovedChange
)

// GroupUpdated fires after a group delta has been applied. ActorID is the
// participant who triggered the change; consumers use it only to decide
// whether to show a notification, never to apply state differently.
type GroupUpdated struct {
	Group   GroupInfo
	Change  GroupChange
	ActorID string
}

// UnreadChanged fires when a per-conversation unread counter moves.
type UnreadChanged struct {
	Key   ConversationKey
	Count int
	Total int
}

// ErrorReceived surfaces server-reported errors; Err is a *ServerError.
// Transport failures arrive as Disconnected events instead.
type ErrorReceived struct {
	Err error
}

func (Connected) event()       {}
func (Disconnected) event()    {}
func (RosterUpdated) event()   {}
func (MessageReceived) event() {}
func (HistoryLoaded) event()   {}
func (MessageEdited) event()   {}
func (MessageDeleted) event()  {}
func (TypingChanged) event()   {}
func (GroupUpdated) event()    {}
func (UnreadChanged) event()   {}
func (ErrorReceived) event()   {}
