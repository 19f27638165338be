package ws

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folio-dev/foliochat/internal/server/storage"
)

func testClient(h *Hub, userID string) *Client {
	return &Client{
		Hub:  h,
		Send: make(chan []byte, 8),
		User: &storage.User{ID: userID, DisplayName: userID, Email: userID + "@example.com"},
	}
}

// drainUntilClosed collects every frame until Send is closed.
func drainUntilClosed(t *testing.T, c *Client) [][]byte {
	t.Helper()
	var frames [][]byte
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data, open := <-c.Send:
			if !open {
				return frames
			}
			frames = append(frames, data)
		case <-deadline:
			t.Fatal("send channel never closed")
		}
	}
}

func TestUnregisterBeforeAnnounce(t *testing.T) {
	h := NewHub(nil, zerolog.Nop())

	// An announced bystander, inserted directly so the test needs no store.
	observer := testClient(h, "u-observer")
	h.mu.Lock()
	h.clients[observer] = true
	h.byUser[observer.User.ID] = []*Client{observer}
	h.mu.Unlock()

	go h.Run()

	// The ghost's read pump died before it ever sent an announce.
	ghost := testClient(h, "u-ghost")
	h.Unregister <- ghost

	ghostFrames := drainUntilClosed(t, ghost)
	assert.Empty(t, ghostFrames, "a never-announced connection gets no frames")

	// The observer leaving afterward proves the ghost produced no broadcast:
	// anything the hub sent in between would still sit in its buffer.
	h.Unregister <- observer
	frames := drainUntilClosed(t, observer)
	assert.Empty(t, frames, "no user_left may be broadcast for a user who never joined")
}

func TestUnregisterLastConnection(t *testing.T) {
	h := NewHub(nil, zerolog.Nop())

	observer := testClient(h, "u-observer")
	leaver := testClient(h, "u-leaver")
	h.mu.Lock()
	h.clients[observer] = true
	h.byUser[observer.User.ID] = []*Client{observer}
	h.clients[leaver] = true
	h.byUser[leaver.User.ID] = []*Client{leaver}
	h.mu.Unlock()

	go h.Run()

	h.Unregister <- leaver
	drainUntilClosed(t, leaver)

	select {
	case data := <-observer.Send:
		require.Contains(t, string(data), "user_left")
		require.Contains(t, string(data), "u-leaver")
	case <-time.After(2 * time.Second):
		t.Fatal("departure was never broadcast")
	}
}
