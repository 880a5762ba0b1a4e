// Package config loads the YAML configuration of an authsession deployment
// and builds the components it describes.
//
// String values may reference environment variables as ${NAME}, which keeps
// signing and encryption keys out of the file:
//
//	store:
//	  type: redis
//	  redis:
//	    addr: localhost:6379
//	tokens:
//	  signing_key: ${AUTH_SIGNING_KEY}
//	  access_ttl: 15m
//	rate_limits:
//	  signin: {max_attempts: 5, window: 1m}
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rosterhub/authsession/authority"
	"github.com/rosterhub/authsession/client"
	"github.com/rosterhub/authsession/security"
	"github.com/rosterhub/authsession/tokens"
)

// Store types
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the root configuration
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Tokens     TokensConfig     `yaml:"tokens"`
	RateLimits RateLimitsConfig `yaml:"rate_limits"`
	Client     ClientConfig     `yaml:"client"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Audit      AuditConfig      `yaml:"audit"`
}

// StoreConfig selects the TTL key/value store
type StoreConfig struct {
	// Type is "memory" or "redis"
	Type string `yaml:"type"`

	// CleanupInterval enables a periodic sweep of the memory store. Zero
	// leaves expiry fully lazy.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis store
type RedisConfig struct {
	Addr             string `yaml:"addr"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	Prefix           string `yaml:"prefix"`
	MaxUpdateRetries int    `yaml:"max_update_retries"`
}

// TokensConfig configures the server-side token service
type TokensConfig struct {
	// SigningKey is the HS256 secret, at least 32 bytes
	SigningKey string `yaml:"signing_key"`

	Issuer        string        `yaml:"issuer"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshWindow time.Duration `yaml:"refresh_window"`
	Leeway        time.Duration `yaml:"leeway"`

	// RefreshTTL expires a user's refresh token list after inactivity. Zero keeps it.
	RefreshTTL time.Duration `yaml:"refresh_ttl"`

	// BlacklistTTL must be at least AccessTTL
	BlacklistTTL time.Duration `yaml:"blacklist_ttl"`
}

// LimitConfig is one fixed-window budget
type LimitConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`
}

// RateLimitsConfig holds the per-action budgets
type RateLimitsConfig struct {
	SignIn LimitConfig `yaml:"signin"`
	SignUp LimitConfig `yaml:"signup"`
	Reset  LimitConfig `yaml:"reset"`
}

// ClientConfig configures the client session manager
type ClientConfig struct {
	// BaseURL of the Auth API
	BaseURL string `yaml:"base_url"`

	ValidateInterval  time.Duration `yaml:"validate_interval"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`

	// StatePath is the SQLite file holding client state. Empty keeps state in memory.
	StatePath string `yaml:"state_path"`

	// EncryptionKey is a base64 AES-256 key sealing persisted values. Empty stores them in clear.
	EncryptionKey string `yaml:"encryption_key"`
}

// TelemetryConfig configures OpenTelemetry instrumentation
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

// AuditConfig toggles security audit logging
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the built-in configuration: in-memory store, 15 minute
// access tokens, 1 hour blacklist entries and the preset rate limits.
func Default() *Config {
	return &Config{
		Store: StoreConfig{Type: StoreMemory},
		Tokens: TokensConfig{
			Issuer:        authority.DefaultIssuer,
			AccessTTL:     authority.DefaultAccessTTL,
			RefreshWindow: authority.DefaultRefreshWindow,
			Leeway:        security.DefaultClockSkewGracePeriod,
			BlacklistTTL:  tokens.DefaultBlacklistTTL,
		},
		RateLimits: RateLimitsConfig{
			SignIn: limitOf(security.SigninLimit),
			SignUp: limitOf(security.SignupLimit),
			Reset:  limitOf(security.ResetLimit),
		},
		Client: ClientConfig{
			ValidateInterval:  client.DefaultValidateInterval,
			RequestsPerSecond: client.DefaultRequestsPerSecond,
			Burst:             client.DefaultBurst,
		},
		Audit: AuditConfig{Enabled: true},
	}
}

func limitOf(l security.Limit) LimitConfig {
	return LimitConfig{MaxAttempts: l.MaxAttempts, Window: l.Window}
}

// Load reads the YAML file at path over the defaults and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreMemory:
	case StoreRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("store.type must be %q or %q, got %q", StoreMemory, StoreRedis, c.Store.Type)
	}
	if c.Store.CleanupInterval < 0 {
		return fmt.Errorf("store.cleanup_interval must not be negative")
	}

	if c.Tokens.SigningKey != "" && len(c.Tokens.SigningKey) < authority.MinSigningKeyLength {
		return fmt.Errorf("tokens.signing_key must be at least %d bytes", authority.MinSigningKeyLength)
	}
	if c.Tokens.AccessTTL <= 0 {
		return fmt.Errorf("tokens.access_ttl must be positive")
	}
	if c.Tokens.BlacklistTTL < c.Tokens.AccessTTL {
		// a revoked token must stay blacklisted until it expires on its own
		return fmt.Errorf("tokens.blacklist_ttl (%v) must be at least tokens.access_ttl (%v)",
			c.Tokens.BlacklistTTL, c.Tokens.AccessTTL)
	}
	if c.Tokens.RefreshTTL < 0 {
		return fmt.Errorf("tokens.refresh_ttl must not be negative")
	}

	for name, l := range map[string]LimitConfig{
		"signin": c.RateLimits.SignIn,
		"signup": c.RateLimits.SignUp,
		"reset":  c.RateLimits.Reset,
	} {
		if l.MaxAttempts < 1 || l.Window <= 0 {
			return fmt.Errorf("rate_limits.%s needs max_attempts >= 1 and a positive window", name)
		}
	}

	if c.Client.EncryptionKey != "" {
		if _, err := security.KeyFromBase64(c.Client.EncryptionKey); err != nil {
			return fmt.Errorf("client.encryption_key: %w", err)
		}
	}

	return nil
}
