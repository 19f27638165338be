package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config wires a Session together. The transport is constructor-injected;
// there is no package-level connection.
type Config struct {
	Transport Transport
	Identity  Participant
	Logger    zerolog.Logger

	// TypingIdle and TypingExpiry default to DefaultTypingIdle and
	// DefaultTypingExpiry when zero.
	TypingIdle   time.Duration
	TypingExpiry time.Duration

	// EventBuffer sizes the subscriber channel. Defaults to 256.
	EventBuffer int

	// after lets tests drive typing timers from a simulated clock.
	after timerFactory
}

// Session is the facade the rest of the application talks to. It owns the
// transport, the presence roster, the typing coordinator, the conversation
// router, the group manager, and the unread tracker, and exposes a single
// typed event stream. All inbound events are applied serially on the
// transport's dispatch path.
type Session struct {
	transport Transport
	identity  Participant
	log       zerolog.Logger

	roster *Roster
	typing *TypingCoordinator
	router *Router
	unread *UnreadTracker
	groups *GroupManager

	events chan Event
}

func NewSession(cfg Config) *Session {
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}

	s := &Session{
		transport: cfg.Transport,
		identity:  cfg.Identity,
		log:       cfg.Logger,
		roster:    NewRoster(),
		unread:    NewUnreadTracker(),
		groups:    NewGroupManager(cfg.Identity.ID, cfg.Logger),
		events:    make(chan Event, buffer),
	}
	s.router = NewRouter(cfg.Identity.ID, s.unread, cfg.Logger)
	s.typing = newTypingCoordinator(cfg.Identity.ID, cfg.TypingIdle, cfg.TypingExpiry,
		cfg.after, s.transport.Send, s.emit)

	s.transport.SetHandler(s)
	return s
}

// Events is the subscriber stream. A single channel of tagged events
// replaces per-kind callback registration.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Connect opens the session. Idempotent while connected. After a
// reconnect the server pushes fresh roster and group snapshots; history for
// the open conversation is re-requested here since missed events are not
// replayed.
func (s *Session) Connect(ctx context.Context, token string) error {
	if st := s.transport.State(); st == StateAuthenticated || st == StateReady {
		return nil
	}
	if err := s.transport.Connect(ctx, token); err != nil {
		return err
	}
	s.typing.resume()
	s.emit(Connected{})

	if key, ok := s.router.Active(); ok {
		if err := s.RequestHistory(key); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect tears the transport down and cancels all pending typing
// timers. Safe to call from any state.
func (s *Session) Disconnect() error {
	s.typing.Shutdown()
	err := s.transport.Close()
	s.emit(Disconnected{})
	return err
}

// State reports the transport lifecycle state.
func (s *Session) State() ConnState {
	return s.transport.State()
}

// Identity returns the local participant.
func (s *Session) Identity() Participant {
	return s.identity
}

// Send publishes a message to a conversation. Nothing is appended locally;
// the server echo is the single source of truth for the log.
func (s *Session) Send(key ConversationKey, body string) error {
	if strings.TrimSpace(body) == "" {
		return &ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if key.Scope != ScopePublic && key.Target == "" {
		return &ValidationError{Field: "target", Reason: "required for private and group messages"}
	}
	return s.transport.Send(NewEnvelope(KindSendMessage, SendMessagePayload{
		Scope:  key.Scope,
		Target: key.Target,
		Body:   body,
	}))
}

// EditMessage requests an edit. The local log changes only when the
// authoritative message_edited echo arrives.
func (s *Session) EditMessage(key ConversationKey, id, body string) error {
	if id == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(body) == "" {
		return &ValidationError{Field: "body", Reason: "must not be empty"}
	}
	return s.transport.Send(NewEnvelope(KindEditMessage, EditMessagePayload{
		Scope:  key.Scope,
		Target: key.Target,
		ID:     id,
		Body:   body,
	}))
}

// DeleteMessage requests a delete, confirmed by the message_deleted echo.
func (s *Session) DeleteMessage(key ConversationKey, id string) error {
	if id == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	return s.transport.Send(NewEnvelope(KindDeleteMessage, DeleteMessagePayload{
		Scope:  key.Scope,
		Target: key.Target,
		ID:     id,
	}))
}

// SetTyping publishes the local typing state, debounced by the coordinator.
func (s *Session) SetTyping(key ConversationKey, typing bool) error {
	return s.typing.SetTyping(key, typing)
}

// RequestHistory asks the server for the conversation log.
func (s *Session) RequestHistory(key ConversationKey) error {
	return s.transport.Send(NewEnvelope(KindGetHistory, HistoryRequestPayload{
		Scope:  key.Scope,
		Target: key.Target,
	}))
}

// MarkRead acknowledges a conversation, zeroing its unread counter locally
// and on the server.
func (s *Session) MarkRead(key ConversationKey) error {
	s.unread.Reset(key)
	s.emit(UnreadChanged{Key: key, Count: 0, Total: s.unread.Total()})
	return s.transport.Send(NewEnvelope(KindMarkRead, MarkReadPayload{
		Scope:  key.Scope,
		Target: key.Target,
	}))
}

// SetActive opens a conversation: its unread counter resets, the server is
// told it was read, and history is requested.
func (s *Session) SetActive(key ConversationKey) error {
	s.router.SetActive(key)
	if err := s.MarkRead(key); err != nil {
		return err
	}
	return s.RequestHistory(key)
}

// ClearActive marks no conversation as open.
func (s *Session) ClearActive() {
	s.router.ClearActive()
}

// CreateGroup validates locally, then asks the server. The creator comes
// back as member and admin in the group_created fan-out.
func (s *Session) CreateGroup(name, description string, members []string) error {
	if err := s.groups.ValidateCreate(name); err != nil {
		return err
	}
	return s.transport.Send(NewEnvelope(KindCreateGroup, CreateGroupPayload{
		Name:        name,
		Description: description,
		Members:     members,
	}))
}

// JoinGroup is idempotent: joining a group we already belong to does not
// touch the wire.
func (s *Session) JoinGroup(groupID string) error {
	send, err := s.groups.PrecheckJoin(groupID)
	if err != nil || !send {
		return err
	}
	return s.transport.Send(NewEnvelope(KindJoinGroup, GroupRefPayload{GroupID: groupID}))
}

func (s *Session) LeaveGroup(groupID string) error {
	if err := s.groups.PrecheckLeave(groupID); err != nil {
		return err
	}
	return s.transport.Send(NewEnvelope(KindLeaveGroup, GroupRefPayload{GroupID: groupID}))
}

// AddMember is admin-only; the pre-check rejects locally so a doomed
// request never leaves the client.
func (s *Session) AddMember(groupID, userID string) error {
	if err := s.groups.PrecheckAdmin("add_member", groupID); err != nil {
		return err
	}
	return s.transport.Send(NewEnvelope(KindAddMember, MemberRefPayload{GroupID: groupID, UserID: userID}))
}

func (s *Session) RemoveMember(groupID, userID string) error {
	if err := s.groups.PrecheckAdmin("remove_member", groupID); err != nil {
		return err
	}
	return s.transport.Send(NewEnvelope(KindRemoveMember, MemberRefPayload{GroupID: groupID, UserID: userID}))
}

// Read accessors. All reads go through the components' locks; consumers
// subscribe to Events for change notification instead of polling.

func (s *Session) Roster() []Participant { return s.roster.Participants() }

func (s *Session) Messages(k ConversationKey) []Message { return s.router.Messages(k) }

func (s *Session) Groups() []GroupInfo { return s.groups.Groups() }

func (s *Session) Group(id string) (GroupInfo, bool) { return s.groups.Get(id) }

func (s *Session) Unread(k ConversationKey) int { return s.unread.Count(k) }

func (s *Session) TotalUnread() int { return s.unread.Total() }

func (s *Session) Typing(k ConversationKey) []string { return s.typing.Typing(k) }

// HandleError implements Handler. Transport drops surface as a typed
// ConnectionError; the session never retries on its own.
func (s *Session) HandleError(err error) {
	s.typing.Shutdown()
	s.emit(Disconnected{Err: err})
}

// HandleEvent implements Handler: the serial dispatch path for every
// inbound event. Each event lands in exactly one owning component;
// unrecognized kinds and malformed payloads are logged and dropped, never
// panics out of the read loop.
func (s *Session) HandleEvent(env Envelope) {
	switch env.Kind {
	case KindRoster:
		var p RosterPayload
		if !s.decode(env, &p) {
			return
		}
		s.roster.ReplaceAll(p.Participants)
		s.emit(RosterUpdated{Participants: s.roster.Participants()})

	case KindUserJoined:
		var p Participant
		if !s.decode(env, &p) {
			return
		}
		s.roster.Join(p)
		s.emit(RosterUpdated{Participants: s.roster.Participants()})

	case KindUserLeft:
		var p Participant
		if !s.decode(env, &p) {
			return
		}
		s.roster.Leave(p)
		s.emit(RosterUpdated{Participants: s.roster.Participants()})

	case KindNewMessage:
		var m Message
		if !s.decode(env, &m) {
			return
		}
		bumped := s.router.OnMessage(m)
		key := s.router.conversationFor(m.Scope, m.Target, m.SenderID)
		s.emit(MessageReceived{Key: key, Message: m})
		if bumped {
			s.emit(UnreadChanged{Key: key, Count: s.unread.Count(key), Total: s.unread.Total()})
		}

	case KindHistory:
		var p HistoryPayload
		if !s.decode(env, &p) {
			return
		}
		key := ConversationKey{Scope: p.Scope, Target: p.Target}
		count := s.router.OnHistory(key, p.Messages)
		s.emit(HistoryLoaded{Key: key, Count: count})

	case KindMessageEdited:
		var p MessageEditedPayload
		if !s.decode(env, &p) {
			return
		}
		if s.router.OnEdited(p) {
			s.emit(MessageEdited{Key: s.router.conversationFor(p.Scope, p.Target, p.SenderID), ID: p.ID})
		}

	case KindMessageDeleted:
		var p MessageDeletedPayload
		if !s.decode(env, &p) {
			return
		}
		if s.router.OnDeleted(p) {
			s.emit(MessageDeleted{Key: s.router.conversationFor(p.Scope, p.Target, p.SenderID), ID: p.ID})
		}

	case KindTyping:
		var p TypingPayload
		if !s.decode(env, &p) {
			return
		}
		key := s.router.conversationFor(p.Scope, p.Target, p.ParticipantID)
		s.typing.OnTyping(key, p.ParticipantID, p.Typing, p.Seq)

	case KindGroupCreated:
		var p GroupCreatedPayload
		if !s.decode(env, &p) {
			return
		}
		grp := s.groups.ApplyCreated(p.Group)
		s.emit(GroupUpdated{Group: grp, Change: GroupCreatedChange, ActorID: grp.CreatedBy})

	case KindGroupJoined:
		var p GroupMemberPayload
		if !s.decode(env, &p) {
			return
		}
		if grp, ok := s.groups.ApplyMemberAdded(p.GroupID, p.Participant); ok {
			s.emit(GroupUpdated{Group: grp, Change: GroupJoinedChange, ActorID: p.Participant.ID})
		}

	case KindMemberAdded:
		var p GroupMemberPayload
		if !s.decode(env, &p) {
			return
		}
		if grp, ok := s.groups.ApplyMemberAdded(p.GroupID, p.Participant); ok {
			s.emit(GroupUpdated{Group: grp, Change: GroupMemberAddedChange, ActorID: p.AddedBy})
		}

	case KindGroupLeft:
		var p GroupLeavePayload
		if !s.decode(env, &p) {
			return
		}
		if grp, ok := s.groups.ApplyMemberRemoved(p.GroupID, p.UserID); ok {
			if p.UserID == s.identity.ID {
				s.unread.Reset(Group(p.GroupID))
			}
			s.emit(GroupUpdated{Group: grp, Change: GroupLeftChange, ActorID: p.UserID})
		}

	case KindMemberRemoved:
		var p GroupLeavePayload
		if !s.decode(env, &p) {
			return
		}
		if grp, ok := s.groups.ApplyMemberRemoved(p.GroupID, p.UserID); ok {
			if p.UserID == s.identity.ID {
				s.unread.Reset(Group(p.GroupID))
			}
			s.emit(GroupUpdated{Group: grp, Change: GroupMemberRemovedChange, ActorID: p.RemovedBy})
		}

	case KindError:
		var p ErrorPayload
		if !s.decode(env, &p) {
			return
		}
		s.emit(ErrorReceived{Err: &ServerError{Code: p.Code, Message: p.Message}})

	default:
		s.log.Warn().Str("kind", env.Kind).Msg("unrecognized event kind dropped")
	}
}

func (s *Session) decode(env Envelope, v any) bool {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		s.log.Warn().Err(err).Str("kind", env.Kind).Msg("malformed payload dropped")
		return false
	}
	return true
}

// emit delivers an event to the subscriber channel without blocking the
// dispatch path. A full channel drops the event.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Type("event", ev).Msg("event buffer full, dropping")
	}
}
