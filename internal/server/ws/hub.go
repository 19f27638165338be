package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/folio-dev/foliochat/internal/chat"
	"github.com/folio-dev/foliochat/internal/server/storage"
)

// Hub tracks every authenticated connection and fans events out. One user
// may hold several connections at once (multi-tab); the roster the hub
// emits is keyed by identity, so duplicates collapse on the wire already.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	Store *storage.Store

	mu      sync.RWMutex
	clients map[*Client]bool
	byUser  map[string][]*Client

	// typingSeq stamps typing relays so clients can drop stale ones.
	typingSeq atomic.Int64

	log zerolog.Logger
}

func NewHub(store *storage.Store, logger zerolog.Logger) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Store:      store,
		clients:    make(map[*Client]bool),
		byUser:     make(map[string][]*Client),
		log:        logger,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.byUser[client.User.ID] = append(h.byUser[client.User.ID], client)
			h.mu.Unlock()

			h.onConnect(client)

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; !ok {
				// Dropped before announcing: the connection was never
				// presented to anyone, so there is no departure to
				// broadcast. Closing Send still releases the write pump.
				close(client.Send)
				h.mu.Unlock()
				continue
			}
			delete(h.clients, client)
			conns := h.byUser[client.User.ID]
			for i, c := range conns {
				if c == client {
					h.byUser[client.User.ID] = append(conns[:i], conns[i+1:]...)
					break
				}
			}
			lastConn := len(h.byUser[client.User.ID]) == 0
			if lastConn {
				delete(h.byUser, client.User.ID)
			}
			close(client.Send)
			h.mu.Unlock()

			if lastConn {
				h.Broadcast(chat.NewEnvelope(chat.KindUserLeft, client.User.Participant()))
			}
		}
	}
}

// onConnect pushes the initial snapshots to the newcomer and announces the
// arrival to everyone else.
func (h *Hub) onConnect(client *Client) {
	client.SendEnvelope(chat.NewEnvelope(chat.KindRoster, chat.RosterPayload{
		Participants: h.rosterSnapshot(),
	}))

	groups, err := h.Store.AllGroups()
	if err != nil {
		h.log.Error().Err(err).Msg("loading group snapshot")
	}
	for _, g := range groups {
		client.SendEnvelope(chat.NewEnvelope(chat.KindGroupCreated, chat.GroupCreatedPayload{Group: g}))
	}

	h.Broadcast(chat.NewEnvelope(chat.KindUserJoined, client.User.Participant()))
}

func (h *Hub) rosterSnapshot() []chat.Participant {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool, len(h.byUser))
	var out []chat.Participant
	for _, conns := range h.byUser {
		for _, c := range conns {
			if !seen[c.User.ID] {
				seen[c.User.ID] = true
				out = append(out, c.User.Participant())
			}
		}
	}
	return out
}

// NextTypingSeq returns a fresh sequence number for a typing relay.
func (h *Hub) NextTypingSeq() int64 {
	return h.typingSeq.Add(1)
}

// Broadcast sends an envelope to every connection.
func (h *Hub) Broadcast(env chat.Envelope) {
	data, _ := json.Marshal(env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Send <- data:
		default:
			h.log.Warn().Str("user_id", client.User.ID).Msg("send buffer full, dropping frame")
		}
	}
}

// SendToUser sends an envelope to every connection of one user.
func (h *Hub) SendToUser(userID string, env chat.Envelope) {
	data, _ := json.Marshal(env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.byUser[userID] {
		select {
		case client.Send <- data:
		default:
			h.log.Warn().Str("user_id", userID).Msg("send buffer full, dropping frame")
		}
	}
}

// SendToUsers fans an envelope out to a set of users, for group routing.
func (h *Hub) SendToUsers(userIDs []string, env chat.Envelope) {
	for _, id := range userIDs {
		h.SendToUser(id, env)
	}
}
