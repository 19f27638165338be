package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/folio-dev/foliochat/internal/chat"
	"github.com/folio-dev/foliochat/internal/server/ratelimit"
	"github.com/folio-dev/foliochat/internal/server/storage"
	"github.com/folio-dev/foliochat/internal/server/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handlers struct {
	Store   *storage.Store
	Hub     *ws.Hub
	Limiter *ratelimit.RateLimiter
	Log     zerolog.Logger
}

type credentials struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Avatar      string `json:"avatar"`
}

type authResponse struct {
	Token string           `json:"token"`
	User  chat.Participant `json:"user"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.GetClientIP(r)
	if !h.Limiter.CanAuth(ip) {
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
		return
	}

	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	creds.Email = strings.ToLower(strings.TrimSpace(creds.Email))
	if creds.Email == "" || creds.Password == "" || strings.TrimSpace(creds.DisplayName) == "" {
		http.Error(w, "display_name, email and password are required", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		h.Log.Error().Err(err).Msg("hashing password")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	user, err := h.Store.CreateUser(creds.DisplayName, creds.Email, creds.Avatar, string(hash))
	if err != nil {
		http.Error(w, "email already registered", http.StatusConflict)
		return
	}

	h.issueToken(w, user)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.GetClientIP(r)
	if !h.Limiter.CanAuth(ip) {
		http.Error(w, "too many attempts", http.StatusTooManyRequests)
		return
	}

	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.Store.GetUserByEmail(strings.ToLower(strings.TrimSpace(creds.Email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.Log.Error().Err(err).Msg("looking up user")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	h.issueToken(w, user)
}

func (h *Handlers) issueToken(w http.ResponseWriter, user *storage.User) {
	token, err := h.Store.CreateToken(user.ID)
	if err != nil {
		h.Log.Error().Err(err).Msg("issuing token")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(authResponse{Token: token, User: user.Participant()})
}

// ServeWS authenticates the bearer token, upgrades the connection, and
// starts the pumps. Registration with the hub happens on the announce
// frame, not here.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.GetClientIP(r)
	if !h.Limiter.CanConnect(ip) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	user, err := h.Store.LookupToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.Limiter.AddConnection(ip)
	client := ws.NewClient(h.Hub, conn, user, ip, h.Log)

	go func() {
		defer h.Limiter.RemoveConnection(ip)
		client.WritePump()
	}()
	go client.ReadPump()
}
