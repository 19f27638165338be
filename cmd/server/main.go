package main

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/folio-dev/foliochat/internal/server/config"
	"github.com/folio-dev/foliochat/internal/server/handlers"
	"github.com/folio-dev/foliochat/internal/server/ratelimit"
	"github.com/folio-dev/foliochat/internal/server/storage"
	"github.com/folio-dev/foliochat/internal/server/ws"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	store, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to database")
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		log.Fatal().Err(err).Msg("applying schema")
	}

	limiter := ratelimit.New(cfg.MaxConnsPerIP, cfg.MaxAuthPerMin)

	hub := ws.NewHub(store, log)
	go hub.Run()

	h := &handlers.Handlers{
		Store:   store,
		Hub:     hub,
		Limiter: limiter,
		Log:     log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/register", h.Register)
	mux.HandleFunc("/login", h.Login)
	mux.HandleFunc("/ws", h.ServeWS)

	log.Info().Str("port", cfg.Port).
		Int("max_conns_per_ip", cfg.MaxConnsPerIP).
		Int("auth_attempts_per_min", cfg.MaxAuthPerMin).
		Msg("server starting")

	if err := http.ListenAndServe(":"+cfg.Port, mux); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
