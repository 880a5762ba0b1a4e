package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/rosterhub/authsession/instrumentation"
	"github.com/rosterhub/authsession/storage"
)

// RateLimitKeyPrefix namespaces limiter counters in the shared store
const RateLimitKeyPrefix = "ratelimit:"

// Limit names a fixed-window budget
type Limit struct {
	Name        string
	MaxAttempts int
	Window      time.Duration
}

// Preset budgets for the authentication entry points
var (
	SignupLimit = Limit{Name: "signup", MaxAttempts: 5, Window: time.Minute}
	SigninLimit = Limit{Name: "signin", MaxAttempts: 5, Window: time.Minute}
	ResetLimit  = Limit{Name: "reset", MaxAttempts: 3, Window: 5 * time.Minute}
)

// NewLimiter creates a RateLimiter enforcing l on store
func (l Limit) NewLimiter(store storage.Store, logger *slog.Logger) *RateLimiter {
	rl := NewRateLimiter(store, l.MaxAttempts, l.Window, logger)
	rl.name = l.Name
	return rl
}

// RateLimiter is a fixed-window attempt counter kept in a storage.Store.
//
// The first attempt of a window creates the counter and arms its TTL; later
// attempts only increment it. When the TTL elapses the store forgets the
// counter and the next attempt starts a new window. Because the counter lives
// in the shared store, every instance using the same store shares the budget.
type RateLimiter struct {
	name        string
	store       storage.Store
	maxAttempts int
	window      time.Duration
	logger      *slog.Logger

	auditor         *Auditor
	instrumentation *instrumentation.Instrumentation
}

// NewRateLimiter creates a limiter allowing maxAttempts per window for each action key
func NewRateLimiter(store storage.Store, maxAttempts int, window time.Duration, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts < 1 {
		logger.Warn("Invalid maxAttempts, using 1", "max_attempts", maxAttempts)
		maxAttempts = 1
	}
	if window <= 0 {
		logger.Warn("Invalid window, using 1 minute", "window", window)
		window = time.Minute
	}

	return &RateLimiter{
		name:        "custom",
		store:       store,
		maxAttempts: maxAttempts,
		window:      window,
		logger:      logger,
	}
}

// SetAuditor enables audit events for rejected attempts
func (rl *RateLimiter) SetAuditor(auditor *Auditor) {
	rl.auditor = auditor
}

// SetInstrumentation sets OpenTelemetry instrumentation for the limiter
func (rl *RateLimiter) SetInstrumentation(inst *instrumentation.Instrumentation) {
	rl.instrumentation = inst
}

// Name returns the limiter name used in logs and metrics
func (rl *RateLimiter) Name() string {
	return rl.name
}

// MaxAttempts returns the per-window budget
func (rl *RateLimiter) MaxAttempts() int {
	return rl.maxAttempts
}

// Window returns the window length
func (rl *RateLimiter) Window() time.Duration {
	return rl.window
}

func (rl *RateLimiter) key(actionKey string) string {
	return RateLimitKeyPrefix + actionKey
}

// Allow records an attempt for actionKey and reports whether it is within
// budget. The attempt that exceeds the budget is itself counted. If the store
// fails, the attempt is rejected and the error returned.
func (rl *RateLimiter) Allow(ctx context.Context, actionKey string) (bool, error) {
	key := rl.key(actionKey)

	count, err := rl.store.Incr(ctx, key)
	if err != nil {
		rl.logger.Error("Rate limiter store failure, rejecting attempt",
			"limiter", rl.name,
			"action", actionKey,
			"error", err)
		return false, fmt.Errorf("rate limiter %s: %w", rl.name, err)
	}

	if count == 1 {
		if _, err := rl.store.Expire(ctx, key, rl.window); err != nil {
			// A counter without TTL would lock the action out for good
			if _, delErr := rl.store.Delete(ctx, key); delErr != nil {
				rl.logger.Error("Failed to remove unexpiring rate limit counter",
					"limiter", rl.name, "action", actionKey, "error", delErr)
			}
			return false, fmt.Errorf("rate limiter %s: failed to arm window: %w", rl.name, err)
		}
	}

	allowed := count <= int64(rl.maxAttempts)

	if rl.instrumentation != nil {
		rl.instrumentation.Metrics().RecordRateLimitCheck(ctx, rl.name, allowed)
	}
	if !allowed {
		rl.logger.Warn("Rate limit exceeded",
			"limiter", rl.name,
			"action", actionKey,
			"attempts", count,
			"max_attempts", rl.maxAttempts)
		if rl.auditor != nil {
			rl.auditor.LogRateLimitExceeded(rl.name, actionKey)
		}
	}

	return allowed, nil
}

// Remaining returns how many attempts are left in the current window
func (rl *RateLimiter) Remaining(ctx context.Context, actionKey string) (int, error) {
	raw, err := rl.store.Get(ctx, rl.key(actionKey))
	if errors.Is(err, storage.ErrNotFound) {
		return rl.maxAttempts, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate limiter %s: %w", rl.name, err)
	}

	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("rate limiter %s: %w", rl.name, storage.ErrNotInteger)
	}
	if remaining := rl.maxAttempts - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// Reset clears the counter for actionKey, e.g. after a successful sign-in
func (rl *RateLimiter) Reset(ctx context.Context, actionKey string) error {
	if _, err := rl.store.Delete(ctx, rl.key(actionKey)); err != nil {
		return fmt.Errorf("rate limiter %s: %w", rl.name, err)
	}
	return nil
}
