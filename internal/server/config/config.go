package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the server settings, read from the environment with an
// optional .env file for local development.
type Config struct {
	Port          string
	DatabaseURL   string
	MaxConnsPerIP int
	MaxAuthPerMin int
}

func Load() (*Config, error) {
	// A missing .env file is fine; the environment still applies.
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		MaxConnsPerIP: getEnvInt("MAX_CONNECTIONS_PER_IP", 10),
		MaxAuthPerMin: getEnvInt("AUTH_ATTEMPTS_PER_MIN", 5),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
