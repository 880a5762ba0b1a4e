package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rosterhub/authsession/instrumentation"
	"github.com/rosterhub/authsession/internal/util"
	"github.com/rosterhub/authsession/storage"
)

const (
	// RefreshKeyPrefix namespaces per-user refresh token lists
	RefreshKeyPrefix = "refresh:"

	// tokenLogLength is how much of a token may appear in logs
	tokenLogLength = 8
)

// ErrNoRefreshToken is returned when a user has no registered refresh token
var ErrNoRefreshToken = fmt.Errorf("no refresh token: %w", storage.ErrNotFound)

// RefreshRegistry stores the refresh tokens of every user
type RefreshRegistry struct {
	store  storage.Store
	ttl    time.Duration
	logger *slog.Logger

	instrumentation *instrumentation.Instrumentation
}

// NewRefreshRegistry creates a registry on top of store
func NewRefreshRegistry(store storage.Store) *RefreshRegistry {
	return &RefreshRegistry{
		store:  store,
		logger: slog.Default(),
	}
}

// SetTTL makes each user's list expire ttl after its last append.
// Zero (the default) keeps lists until they are explicitly deleted.
func (r *RefreshRegistry) SetTTL(ttl time.Duration) {
	r.ttl = ttl
}

// SetLogger sets a custom logger
func (r *RefreshRegistry) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the registry
func (r *RefreshRegistry) SetInstrumentation(inst *instrumentation.Instrumentation) {
	r.instrumentation = inst
}

func refreshKey(userID string) string {
	return RefreshKeyPrefix + userID
}

// SetRefreshToken appends token to the user's list, creating it if absent
func (r *RefreshRegistry) SetRefreshToken(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return fmt.Errorf("user ID and token are required")
	}

	err := r.store.Update(ctx, refreshKey(userID), func(current string, exists bool) (string, bool, error) {
		list, err := decodeList(current, exists)
		if err != nil {
			return "", false, err
		}
		list = append(list, token)
		encoded, err := json.Marshal(list)
		if err != nil {
			return "", false, err
		}
		return string(encoded), true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	if r.ttl > 0 {
		if _, err := r.store.Expire(ctx, refreshKey(userID), r.ttl); err != nil {
			return fmt.Errorf("failed to set refresh token TTL: %w", err)
		}
	}

	if r.instrumentation != nil {
		r.instrumentation.Metrics().RecordRefreshTokenIssued(ctx)
	}
	r.logger.Debug("Stored refresh token",
		"user_id", userID,
		"token_prefix", util.SafeTruncate(token, tokenLogLength))
	return nil
}

// GetRefreshToken returns the user's most recently appended refresh token
func (r *RefreshRegistry) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	list, err := r.ListRefreshTokens(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", ErrNoRefreshToken
	}
	return list[len(list)-1], nil
}

// ListRefreshTokens returns every refresh token of the user, oldest first
func (r *RefreshRegistry) ListRefreshTokens(ctx context.Context, userID string) ([]string, error) {
	raw, err := r.store.Get(ctx, refreshKey(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh tokens: %w", err)
	}
	return decodeList(raw, true)
}

// HasRefreshToken reports whether token is registered for the user
func (r *RefreshRegistry) HasRefreshToken(ctx context.Context, userID, token string) (bool, error) {
	list, err := r.ListRefreshTokens(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, t := range list {
		if t == token {
			return true, nil
		}
	}
	return false, nil
}

// DeleteRefreshToken removes exactly token from the user's list. Other
// devices of the same user keep their tokens.
func (r *RefreshRegistry) DeleteRefreshToken(ctx context.Context, userID, token string) error {
	removed := false
	err := r.store.Update(ctx, refreshKey(userID), func(current string, exists bool) (string, bool, error) {
		removed = false
		if !exists {
			return "", false, nil
		}
		list, err := decodeList(current, exists)
		if err != nil {
			return "", false, err
		}

		kept := list[:0]
		for _, t := range list {
			if t == token && !removed {
				removed = true
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == 0 {
			return "", false, nil
		}
		encoded, err := json.Marshal(kept)
		if err != nil {
			return "", false, err
		}
		return string(encoded), true, nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}

	if removed {
		if r.instrumentation != nil {
			r.instrumentation.Metrics().RecordRefreshTokenRevoked(ctx, "single")
		}
		r.logger.Debug("Deleted refresh token",
			"user_id", userID,
			"token_prefix", util.SafeTruncate(token, tokenLogLength))
	}
	return nil
}

// RotateRefreshToken replaces oldToken with newToken in one atomic update.
// It fails with ErrNoRefreshToken when oldToken is no longer registered, so
// of two concurrent rotations of the same token only one succeeds.
func (r *RefreshRegistry) RotateRefreshToken(ctx context.Context, userID, oldToken, newToken string) error {
	if userID == "" || oldToken == "" || newToken == "" {
		return fmt.Errorf("user ID and tokens are required")
	}

	err := r.store.Update(ctx, refreshKey(userID), func(current string, exists bool) (string, bool, error) {
		list, err := decodeList(current, exists)
		if err != nil {
			return "", false, err
		}

		rotated := make([]string, 0, len(list))
		found := false
		for _, t := range list {
			if t == oldToken && !found {
				found = true
				continue
			}
			rotated = append(rotated, t)
		}
		if !found {
			return "", false, ErrNoRefreshToken
		}

		encoded, err := json.Marshal(append(rotated, newToken))
		if err != nil {
			return "", false, err
		}
		return string(encoded), true, nil
	})
	if errors.Is(err, ErrNoRefreshToken) {
		return ErrNoRefreshToken
	}
	if err != nil {
		return fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	if r.ttl > 0 {
		if _, err := r.store.Expire(ctx, refreshKey(userID), r.ttl); err != nil {
			return fmt.Errorf("failed to set refresh token TTL: %w", err)
		}
	}

	if r.instrumentation != nil {
		r.instrumentation.Metrics().RecordRefreshTokenRevoked(ctx, "rotated")
		r.instrumentation.Metrics().RecordRefreshTokenIssued(ctx)
	}
	r.logger.Debug("Rotated refresh token",
		"user_id", userID,
		"token_prefix", util.SafeTruncate(newToken, tokenLogLength))
	return nil
}

// DeleteAllRefreshTokens clears the user's list, signing out every device
func (r *RefreshRegistry) DeleteAllRefreshTokens(ctx context.Context, userID string) error {
	if _, err := r.store.Delete(ctx, refreshKey(userID)); err != nil {
		return fmt.Errorf("failed to delete refresh tokens: %w", err)
	}

	if r.instrumentation != nil {
		r.instrumentation.Metrics().RecordRefreshTokenRevoked(ctx, "all")
	}
	r.logger.Info("Deleted all refresh tokens", "user_id", userID)
	return nil
}

// decodeList parses a stored token list. A missing key is an empty list.
func decodeList(raw string, exists bool) ([]string, error) {
	if !exists || raw == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("corrupted refresh token list: %w", err)
	}
	return list, nil
}
