// Package config loads relay settings from the environment.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v11"

	"relayer/internal/domain"
)

// Store backends.
const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds runtime settings for the relay service.
type Config struct {
	Port       string `env:"PORT" envDefault:"8787"`
	RPCURL     string `env:"RELAYER_RPC_URL" envDefault:"https://rpc.pushchain.example/donut"`
	SigningKey string `env:"RELAYER_PRIVATE_KEY" envDefault:"0x0000000000000000000000000000000000000000000000000000000000000001"`
	// DeriveSecret seeds every per-user signing identity.
	DeriveSecret string `env:"RELAYER_DERIVE_SECRET" envDefault:"demo-derive-secret"`
	AuthSecret   string `env:"AUTH_SECRET" envDefault:"demo-secret-key"`

	MaxPerSession int `env:"MAX_TX_PER_SESSION" envDefault:"25"`
	MaxPerDay     int `env:"MAX_TX_PER_DAY" envDefault:"100"`

	Store       string `env:"RELAYER_STORE" envDefault:"bolt"`
	DataPath    string `env:"RELAYER_DATA_PATH" envDefault:"data/relayer.db"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	ConfirmInterval time.Duration `env:"CONFIRM_INTERVAL" envDefault:"2s"`
	ConfirmAfter    time.Duration `env:"CONFIRM_AFTER" envDefault:"4s"`

	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	MagicLinkTTL time.Duration `env:"MAGIC_LINK_TTL" envDefault:"10m"`
	PublicURL    string        `env:"PUBLIC_URL" envDefault:"http://localhost:8787"`

	OIDC OIDC `envPrefix:"OIDC_"`
}

// OIDC configures the optional SSO login. It is enabled when Issuer is set.
type OIDC struct {
	Issuer       string `env:"ISSUER"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURL  string `env:"REDIRECT_URL"`
}

// Enabled reports whether SSO is configured.
func (o OIDC) Enabled() bool {
	return o.Issuer != ""
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	if c.MaxPerSession <= 0 || c.MaxPerDay <= 0 {
		return fmt.Errorf("quota caps must be positive, got session=%d day=%d", c.MaxPerSession, c.MaxPerDay)
	}
	if c.ConfirmInterval <= 0 {
		return fmt.Errorf("CONFIRM_INTERVAL must be positive")
	}
	switch c.Store {
	case StoreBolt, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s store", StorePostgres)
		}
	default:
		return fmt.Errorf("unknown RELAYER_STORE %q", c.Store)
	}
	if c.OIDC.Enabled() && (c.OIDC.ClientID == "" || c.OIDC.RedirectURL == "") {
		return fmt.Errorf("OIDC_CLIENT_ID and OIDC_REDIRECT_URL are required when OIDC_ISSUER is set")
	}
	return nil
}

// Addr is the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort("", c.Port)
}

// Limits returns the quota caps.
func (c Config) Limits() domain.QuotaLimits {
	return domain.QuotaLimits{MaxPerSession: c.MaxPerSession, MaxPerDay: c.MaxPerDay}
}
