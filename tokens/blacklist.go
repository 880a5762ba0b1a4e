package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rosterhub/authsession/instrumentation"
	"github.com/rosterhub/authsession/internal/util"
	"github.com/rosterhub/authsession/storage"
)

const (
	// BlacklistKeyPrefix namespaces revoked access tokens
	BlacklistKeyPrefix = "blacklist:"

	// DefaultBlacklistTTL covers the longest access token lifetime
	DefaultBlacklistTTL = time.Hour
)

// Blacklist records revoked access tokens until they would have expired anyway
type Blacklist struct {
	store  storage.Store
	ttl    time.Duration
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
}

// NewBlacklist creates a blacklist with DefaultBlacklistTTL
func NewBlacklist(store storage.Store) *Blacklist {
	return &Blacklist{
		store:  store,
		ttl:    DefaultBlacklistTTL,
		logger: slog.Default(),
	}
}

// SetTTL overrides the entry lifetime. It must not be shorter than the
// access token lifetime. Non-positive values are ignored.
func (b *Blacklist) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		b.ttl = ttl
	}
}

// TTL returns the entry lifetime
func (b *Blacklist) TTL() time.Duration {
	return b.ttl
}

// SetLogger sets a custom logger
func (b *Blacklist) SetLogger(logger *slog.Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the blacklist
func (b *Blacklist) SetInstrumentation(inst *instrumentation.Instrumentation) {
	b.instrumentation = inst
}

// BlacklistToken revokes token for the blacklist TTL
func (b *Blacklist) BlacklistToken(ctx context.Context, token string) error {
	return b.BlacklistTokenFor(ctx, token, b.ttl)
}

// BlacklistTokenFor revokes token for ttl, or for the blacklist TTL when that
// is longer. Callers that still accept a token after its expiry use it to keep
// the entry alive for as long as the token is usable.
func (b *Blacklist) BlacklistTokenFor(ctx context.Context, token string, ttl time.Duration) error {
	if token == "" {
		return fmt.Errorf("token is required")
	}
	ttl = max(ttl, b.ttl)
	if err := b.store.Set(ctx, BlacklistKeyPrefix+token, "1", ttl); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	if b.instrumentation != nil {
		b.instrumentation.Metrics().RecordTokenBlacklisted(ctx)
	}
	b.logger.Debug("Blacklisted access token",
		"token_prefix", util.SafeTruncate(token, tokenLogLength),
		"ttl", ttl)
	return nil
}

// IsTokenBlacklisted reports whether token has been revoked. If the store
// cannot be read the token is reported as revoked along with the error.
func (b *Blacklist) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	_, err := b.store.Get(ctx, BlacklistKeyPrefix+token)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		b.logger.Error("Blacklist lookup failed, treating token as revoked", "error", err)
		return true, fmt.Errorf("failed to check blacklist: %w", err)
	}
}

// Count returns the number of live blacklist entries
func (b *Blacklist) Count(ctx context.Context) (int, error) {
	keys, err := b.store.Keys(ctx, BlacklistKeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("failed to list blacklist: %w", err)
	}
	return len(keys), nil
}
