// Package config loads service configuration from the environment so main
// stays lean.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures everything the server needs at startup.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string `env:"AUTHGATE_ADDR" envDefault:":8080"`

	// IssuerURL is the externally visible base URL of this service. It is
	// embedded in issued artifacts and in the landing page's authorize link.
	IssuerURL string `env:"AUTHGATE_ISSUER_URL" envDefault:"http://localhost:8080"`

	// DatabaseURL is the Postgres connection string for the user table.
	// Empty means the in-memory user store (development only).
	DatabaseURL string `env:"AUTHGATE_DATABASE_URL"`

	// Redis configures the key-value storage binding used by the issuer.
	Redis RedisConfig `envPrefix:"AUTHGATE_REDIS_"`

	// GlobalSecret signs issued artifacts (HMAC). Must be at least 32 bytes
	// in production; a development default is applied when unset.
	GlobalSecret string `env:"AUTHGATE_GLOBAL_SECRET"`

	// CodeTTL bounds how long an emailed one-time code stays valid.
	CodeTTL time.Duration `env:"AUTHGATE_CODE_TTL" envDefault:"10m"`

	// ClientsFile points at a JSON file with the static client registry.
	// Empty means the built-in development registry.
	ClientsFile string `env:"AUTHGATE_CLIENTS_FILE"`

	// AccessTokenTTL and RefreshTokenTTL bound issued token lifetimes.
	AccessTokenTTL  time.Duration `env:"AUTHGATE_ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"AUTHGATE_REFRESH_TOKEN_TTL" envDefault:"720h"`
}

// RedisConfig holds connection settings for the Redis storage binding.
type RedisConfig struct {
	// URL is a redis:// connection string. Empty means in-memory issuer
	// storage (development only).
	URL string `env:"URL"`

	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

// ClientEntry is one registry entry in the clients file.
type ClientEntry struct {
	ClientID     string   `json:"client_id"`
	RedirectURIs []string `json:"redirect_uris"`
}

// FromEnv builds a Config from environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.GlobalSecret == "" {
		// Development default - must be overridden in production.
		cfg.GlobalSecret = "dev-secret-change-me-0123456789abcdef"
	}
	return cfg, nil
}

// LoadClients reads the static client registry from the configured file, or
// returns the built-in development registry when no file is configured.
func (c Config) LoadClients() ([]ClientEntry, error) {
	if c.ClientsFile == "" {
		return []ClientEntry{
			{
				ClientID: "test-client",
				RedirectURIs: []string{
					"http://localhost:3000/callback",
					"http://localhost",
				},
			},
		}, nil
	}

	raw, err := os.ReadFile(c.ClientsFile)
	if err != nil {
		return nil, fmt.Errorf("read clients file: %w", err)
	}
	var entries []ClientEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse clients file: %w", err)
	}
	return entries, nil
}
