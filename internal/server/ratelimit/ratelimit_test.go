package ratelimit

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionCap(t *testing.T) {
	rl := New(2, 5)

	assert.True(t, rl.CanConnect("1.2.3.4"))
	rl.AddConnection("1.2.3.4")
	rl.AddConnection("1.2.3.4")
	assert.False(t, rl.CanConnect("1.2.3.4"))
	assert.True(t, rl.CanConnect("5.6.7.8"), "caps are per IP")

	rl.RemoveConnection("1.2.3.4")
	assert.True(t, rl.CanConnect("1.2.3.4"))
}

func TestAuthBudget(t *testing.T) {
	rl := New(10, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.CanAuth("1.2.3.4"))
	}
	assert.False(t, rl.CanAuth("1.2.3.4"))
	assert.True(t, rl.CanAuth("5.6.7.8"))
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "9.9.9.9:1234"
	assert.Equal(t, "9.9.9.9", GetClientIP(r))

	r.Header.Set("X-Real-IP", "2.2.2.2")
	assert.Equal(t, "2.2.2.2", GetClientIP(r))

	r.Header.Set("X-Forwarded-For", "1.1.1.1")
	assert.Equal(t, "1.1.1.1", GetClientIP(r))
}
