package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ConnState is the transport session lifecycle.
type ConnState int8

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateAuthenticated
	StateReady
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

var (
	errNotConnected    = errors.New("not connected")
	errConnectInFlight = errors.New("connect already in progress")
)

// Handler receives everything the transport produces: one call per inbound
// envelope, delivered serially from the read loop, plus transport failures.
type Handler interface {
	HandleEvent(env Envelope)
	HandleError(err error)
}

// Transport owns the single bidirectional connection to the messaging
// server. Implementations do not retry on their own; the caller decides
// whether to re-invoke Connect after a drop.
type Transport interface {
	SetHandler(h Handler)
	Connect(ctx context.Context, token string) error
	Send(env Envelope) error
	Close() error
	State() ConnState
}

// WebsocketTransport is the gorilla/websocket implementation. The bearer
// token rides the upgrade request; a successful upgrade means the server
// accepted it. The identity announce goes out as the first frame.
type WebsocketTransport struct {
	url      string
	identity Participant
	dialer   *websocket.Dialer
	log      zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	state   ConnState
	closing bool
	handler Handler

	writeMu sync.Mutex
}

func NewWebsocketTransport(url string, identity Participant, logger zerolog.Logger) *WebsocketTransport {
	return &WebsocketTransport{
		url:      url,
		identity: identity,
		dialer:   websocket.DefaultDialer,
		log:      logger,
	}
}

func (t *WebsocketTransport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Connect dials and authenticates. A no-op when already authenticated or
// ready, so callers can invoke it blindly; a second Connect racing one
// still in flight is rejected so only one connection ever exists.
func (t *WebsocketTransport) Connect(ctx context.Context, token string) error {
	t.mu.Lock()
	switch t.state {
	case StateAuthenticated, StateReady:
		t.mu.Unlock()
		return nil
	case StateConnecting:
		t.mu.Unlock()
		return &ConnectionError{Op: "dial", Err: errConnectInFlight}
	}
	t.state = StateConnecting
	t.closing = false
	t.mu.Unlock()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.mu.Lock()
		t.state = StateDisconnected
		t.mu.Unlock()
		return &ConnectionError{Op: "dial", Err: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.state = StateAuthenticated
	t.mu.Unlock()

	announce := NewEnvelope(KindAnnounce, AnnouncePayload{
		DisplayName: t.identity.DisplayName,
		Email:       t.identity.Email,
		Avatar:      t.identity.Avatar,
	})
	if err := t.Send(announce); err != nil {
		t.teardown(conn)
		return &ConnectionError{Op: "announce", Err: err}
	}

	t.mu.Lock()
	t.state = StateReady
	t.mu.Unlock()

	go t.readLoop(conn)
	return nil
}

func (t *WebsocketTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			intentional := t.teardown(conn)
			if !intentional {
				t.mu.Lock()
				h := t.handler
				t.mu.Unlock()
				if h != nil {
					h.HandleError(&ConnectionError{Op: "read", Err: err})
				}
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.log.Warn().Err(err).Msg("malformed frame dropped")
			continue
		}

		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h.HandleEvent(env)
		}
	}
}

// teardown closes the connection if it is still the current one. Reports
// whether the drop was caused by a local Close.
func (t *WebsocketTransport) teardown(conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != conn {
		return true
	}
	intentional := t.closing
	t.conn.Close()
	t.conn = nil
	t.state = StateDisconnected
	return intentional
}

// Send writes one envelope. Fire and forget: confirmation, if any, arrives
// as a distinct inbound event.
func (t *WebsocketTransport) Send(env Envelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return &ConnectionError{Op: "send", Err: errNotConnected}
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}

// Close tears the transport down. Safe to call from any state, repeatedly.
func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	t.closing = true
	conn := t.conn
	t.conn = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return nil
}

func (t *WebsocketTransport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
