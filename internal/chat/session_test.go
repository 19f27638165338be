package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records outbound envelopes and lets tests inject inbound
// ones, standing in for the websocket.
type fakeTransport struct {
	mu       sync.Mutex
	handler  Handler
	sent     []Envelope
	state    ConnState
	connects int
}

func (f *fakeTransport) SetHandler(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTransport) Connect(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.state = StateReady
	return nil
}

func (f *fakeTransport) Send(env Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateDisconnected
	return nil
}

func (f *fakeTransport) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// deliver feeds an inbound server event through the dispatch path.
func (f *fakeTransport) deliver(t *testing.T, kind string, payload any) {
	t.Helper()
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	require.NotNil(t, h)
	h.HandleEvent(NewEnvelope(kind, payload))
}

func (f *fakeTransport) sentEnvelopes() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Envelope, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) sentKinds() []string {
	var kinds []string
	for _, env := range f.sentEnvelopes() {
		kinds = append(kinds, env.Kind)
	}
	return kinds
}

func newTestSession(t *testing.T, identity Participant) (*Session, *fakeTransport) {
	t.Helper()
	transport := &fakeTransport{}
	s := NewSession(Config{
		Transport: transport,
		Identity:  identity,
		Logger:    zerolog.Nop(),
		after:     (&manualTimers{}).factory,
	})
	return s, transport
}

// drain collects whatever events are already buffered.
func drain(s *Session) []Event {
	var out []Event
	for {
		select {
		case ev := <-s.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPrivateSendWaitsForEcho(t *testing.T) {
	s, transport := newTestSession(t, Participant{ID: "u1", DisplayName: "Ana", Email: "ana@example.com"})
	key := Private("u2")
	require.NoError(t, s.SetActive(key))

	require.NoError(t, s.Send(key, "hi"))

	// Optimistic append would show the message before the server confirms.
	assert.Empty(t, s.Messages(key), "no local append until the authoritative echo arrives")

	kinds := transport.sentKinds()
	assert.Contains(t, kinds, KindSendMessage)

	echo := Message{
		ID:       "m1",
		Scope:    ScopePrivate,
		Target:   "u2",
		SenderID: "u1",
		Body:     "hi",
		SentAt:   time.Now(),
	}
	transport.deliver(t, KindNewMessage, echo)

	msgs := s.Messages(key)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Body)
	assert.Equal(t, "u1", msgs[0].SenderID)
}

func TestSendValidation(t *testing.T) {
	s, transport := newTestSession(t, Participant{ID: "u1"})

	var validationErr *ValidationError
	require.ErrorAs(t, s.Send(Public(), "   "), &validationErr)
	require.ErrorAs(t, s.Send(ConversationKey{Scope: ScopePrivate}, "hi"), &validationErr)
	assert.Empty(t, transport.sentEnvelopes(), "validation failures never reach the transport")
}

func TestUnknownEventKindDropped(t *testing.T) {
	s, transport := newTestSession(t, Participant{ID: "u1"})

	transport.deliver(t, "time_travel", map[string]string{"to": "1985"})
	transport.deliver(t, KindNewMessage, json.RawMessage(`{"id":`)) // malformed

	assert.Empty(t, drain(s), "unrecognized or malformed events must be dropped silently")
}

func TestConnectIsIdempotent(t *testing.T) {
	s, transport := newTestSession(t, Participant{ID: "u1"})

	require.NoError(t, s.Connect(context.Background(), "tok"))
	require.NoError(t, s.Connect(context.Background(), "tok"))
	require.NoError(t, s.Connect(context.Background(), "tok"))

	transport.mu.Lock()
	connects := transport.connects
	transport.mu.Unlock()
	assert.Equal(t, 1, connects, "connect while ready must be a no-op")
}

func TestUnreadFlowAndMarkRead(t *testing.T) {
	s, transport := newTestSession(t, Participant{ID: "u1"})
	key := Group("g1")

	transport.deliver(t, KindNewMessage, Message{ID: "m1", Scope: ScopeGroup, Target: "g1", SenderID: "u2", Body: "a", SentAt: time.Now()})
	transport.deliver(t, KindNewMessage, Message{ID: "m2", Scope: ScopeGroup, Target: "g1", SenderID: "u2", Body: "b", SentAt: time.Now()})

	assert.Equal(t, 2, s.Unread(key))
	assert.Equal(t, 2, s.TotalUnread())

	require.NoError(t, s.SetActive(key))
	assert.Equal(t, 0, s.Unread(key))
	assert.Equal(t, []string{KindMarkRead, KindGetHistory}, transport.sentKinds())

	// While the conversation is open, new messages do not count.
	transport.deliver(t, KindNewMessage, Message{ID: "m3", Scope: ScopeGroup, Target: "g1", SenderID: "u2", Body: "c", SentAt: time.Now()})
	assert.Equal(t, 0, s.Unread(key))
}

func TestRosterEventsUpdateSession(t *testing.T) {
	s, transport := newTestSession(t, Participant{ID: "u1", Email: "ana@example.com"})

	transport.deliver(t, KindRoster, RosterPayload{Participants: []Participant{
		{ID: "u1", DisplayName: "Ana", Email: "ana@example.com"},
		{ID: "u2", DisplayName: "Bo", Email: "bo@example.com"},
	}})
	require.Len(t, s.Roster(), 2)

	transport.deliver(t, KindUserLeft, Participant{ID: "u2", DisplayName: "Bo", Email: "bo@example.com"})
	require.Len(t, s.Roster(), 1)

	var sawRoster bool
	for _, ev := range drain(s) {
		if _, ok := ev.(RosterUpdated); ok {
			sawRoster = true
		}
	}
	assert.True(t, sawRoster)
}

func TestGroupCreateAndJoinFanOut(t *testing.T) {
	ana := Participant{ID: "u1", DisplayName: "Ana", Email: "ana@example.com"}
	bo := Participant{ID: "u2", DisplayName: "Bo", Email: "bo@example.com"}

	s1, t1 := newTestSession(t, ana)
	s2, t2 := newTestSession(t, bo)

	require.NoError(t, s1.CreateGroup("Devs", "", nil))
	assert.Equal(t, []string{KindCreateGroup}, t1.sentKinds())

	// The server answers with the same fan-out to every session.
	created := GroupCreatedPayload{Group: GroupInfo{
		ID:        "g1",
		Name:      "Devs",
		CreatedBy: "u1",
		Admins:    []string{"u1"},
		Members:   []Participant{ana},
	}}
	t1.deliver(t, KindGroupCreated, created)
	t2.deliver(t, KindGroupCreated, created)

	grp, ok := s1.Group("g1")
	require.True(t, ok)
	assert.True(t, grp.IsMember("u1"))
	assert.True(t, grp.IsAdmin("u1"))

	require.NoError(t, s2.JoinGroup("g1"))
	assert.Contains(t, t2.sentKinds(), KindJoinGroup)

	joined := GroupMemberPayload{GroupID: "g1", Participant: bo}
	t1.deliver(t, KindGroupJoined, joined)
	t2.deliver(t, KindGroupJoined, joined)

	for _, s := range []*Session{s1, s2} {
		grp, ok := s.Group("g1")
		require.True(t, ok)
		assert.True(t, grp.IsMember("u2"))
		assert.False(t, grp.IsAdmin("u2"))
		assert.True(t, grp.IsAdmin("u1"))
	}

	// Joining again is idempotent and silent.
	before := len(t2.sentEnvelopes())
	require.NoError(t, s2.JoinGroup("g1"))
	assert.Len(t, t2.sentEnvelopes(), before)
}

func TestAdminPrecheckBlocksRoundTrip(t *testing.T) {
	s, transport := newTestSession(t, Participant{ID: "u2"})

	transport.deliver(t, KindGroupCreated, GroupCreatedPayload{Group: GroupInfo{
		ID:        "g1",
		Name:      "Devs",
		CreatedBy: "u1",
		Admins:    []string{"u1"},
		Members:   []Participant{{ID: "u1"}, {ID: "u2"}},
	}})

	var permErr *PermissionError
	require.ErrorAs(t, s.AddMember("g1", "u3"), &permErr)
	require.ErrorAs(t, s.RemoveMember("g1", "u1"), &permErr)
	assert.Empty(t, transport.sentEnvelopes())
}

func TestServerErrorSurfacesVerbatim(t *testing.T) {
	s, transport := newTestSession(t, Participant{ID: "u1"})

	transport.deliver(t, KindError, ErrorPayload{Code: "rate_limited", Message: "slow down"})

	events := drain(s)
	require.Len(t, events, 1)
	received, ok := events[0].(ErrorReceived)
	require.True(t, ok)

	var serverErr *ServerError
	require.ErrorAs(t, received.Err, &serverErr)
	assert.Equal(t, "rate_limited", serverErr.Code)
	assert.Equal(t, "slow down", serverErr.Message)
}

func TestDisconnectEmitsAndShutsDownTyping(t *testing.T) {
	timers := &manualTimers{}
	transport := &fakeTransport{}
	s := NewSession(Config{
		Transport: transport,
		Identity:  Participant{ID: "u1"},
		Logger:    zerolog.Nop(),
		after:     timers.factory,
	})

	require.NoError(t, s.Connect(context.Background(), "tok"))
	require.NoError(t, s.SetTyping(Public(), true))
	transport.deliver(t, KindTyping, TypingPayload{Scope: ScopePublic, ParticipantID: "u2", Typing: true, Seq: 1})
	require.NotZero(t, timers.pending())

	require.NoError(t, s.Disconnect())
	assert.Equal(t, 0, timers.pending(), "disconnect must cancel every pending typing timer")
	assert.Equal(t, StateDisconnected, s.State())

	events := drain(s)
	var sawDisconnect bool
	for _, ev := range events {
		if _, ok := ev.(Disconnected); ok {
			sawDisconnect = true
		}
	}
	assert.True(t, sawDisconnect)
}

func TestEditRoundTrip(t *testing.T) {
	s, transport := newTestSession(t, Participant{ID: "u1"})
	key := Public()

	transport.deliver(t, KindHistory, HistoryPayload{Scope: ScopePublic, Messages: []Message{
		{ID: "m1", Scope: ScopePublic, SenderID: "u1", Body: "typo", SentAt: time.Now()},
	}})

	require.NoError(t, s.EditMessage(key, "m1", "fixed"))
	assert.Equal(t, "typo", s.Messages(key)[0].Body, "edit applies only on the authoritative echo")

	transport.deliver(t, KindMessageEdited, MessageEditedPayload{Scope: ScopePublic, ID: "m1", Body: "fixed", EditedAt: time.Now()})
	assert.Equal(t, "fixed", s.Messages(key)[0].Body)
	require.NotNil(t, s.Messages(key)[0].EditedAt)
}
