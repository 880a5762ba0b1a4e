// Package redis provides a Redis-backed implementation of storage.Store for
// multi-instance deployments. Any server speaking the Redis protocol works
// (Redis, Valkey, KeyDB, Dragonfly).
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rosterhub/authsession/internal/util"
	"github.com/rosterhub/authsession/storage"
)

const (
	// DefaultKeyPrefix namespaces every key written by the store
	DefaultKeyPrefix = "authsession:"

	// DefaultMaxUpdateRetries bounds optimistic WATCH retries in Update
	DefaultMaxUpdateRetries = 8
)

// Config holds the Redis store configuration
type Config struct {
	// Client is an existing go-redis client. When set, Addr, Password and DB are ignored.
	Client goredis.UniversalClient

	Addr     string
	Password string
	DB       int

	// KeyPrefix is prepended to every key. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// MaxUpdateRetries bounds the WATCH retries of Update. Defaults to DefaultMaxUpdateRetries.
	MaxUpdateRetries int

	Logger *slog.Logger
}

// Store implements storage.Store on top of a Redis server
type Store struct {
	client     goredis.UniversalClient
	ownsClient bool
	prefix     string
	maxRetries int
	logger     *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New creates a Redis store. It does not contact the server; use Ping to
// verify connectivity.
func New(cfg Config) (*Store, error) {
	client := cfg.Client
	ownsClient := false
	if client == nil {
		if cfg.Addr == "" {
			return nil, fmt.Errorf("redis: address is required when no client is provided")
		}
		client = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		ownsClient = true
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	maxRetries := cfg.MaxUpdateRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxUpdateRetries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		client:     client,
		ownsClient: ownsClient,
		prefix:     prefix,
		maxRetries: maxRetries,
		logger:     logger,
	}, nil
}

// Close closes the underlying client if the store created it
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Set implements storage.Store
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get implements storage.Store
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

// Delete implements storage.Store
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}
	return n > 0, nil
}

// Incr implements storage.Store. INCR is atomic on the server and keeps the TTL.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, s.key(key)).Result()
	if err != nil {
		if isNotIntegerErr(err) {
			return 0, fmt.Errorf("incr %q: %w", key, storage.ErrNotInteger)
		}
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

// Expire implements storage.Store
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return s.Delete(ctx, key)
	}
	ok, err := s.client.PExpire(ctx, s.key(key), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis pexpire: %w", err)
	}
	return ok, nil
}

// Keys implements storage.Store. Redis glob classes are escaped so only '*'
// and '?' keep their meaning.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	full := util.EscapeRedisGlob(s.prefix) + util.EscapeRedisGlob(pattern)

	raw, err := s.client.Keys(ctx, full).Result()
	if err != nil {
		return nil, fmt.Errorf("redis keys: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, s.prefix))
	}
	return keys, nil
}

// Update implements storage.Store with an optimistic WATCH/MULTI transaction.
// The write uses SET KEEPTTL so an existing expiry survives.
func (s *Store) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	full := s.key(key)

	for i := 0; i < s.maxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			current, err := tx.Get(ctx, full).Result()
			exists := true
			if errors.Is(err, goredis.Nil) {
				current, exists = "", false
			} else if err != nil {
				return err
			}

			next, keep, err := fn(current, exists)
			if err != nil {
				return &abortError{err: err}
			}

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				switch {
				case keep:
					pipe.SetArgs(ctx, full, next, goredis.SetArgs{KeepTTL: true})
				case exists:
					pipe.Del(ctx, full)
				}
				return nil
			})
			return err
		}, full)

		if errors.Is(err, goredis.TxFailedErr) {
			s.logger.Debug("Retrying contended update", "attempt", i+1)
			continue
		}
		var abort *abortError
		if errors.As(err, &abort) {
			return abort.err
		}
		if err != nil {
			return fmt.Errorf("redis update: %w", err)
		}
		return nil
	}

	return fmt.Errorf("update %q after %d attempts: %w", key, s.maxRetries, storage.ErrConflict)
}

// Ping implements storage.Store
func (s *Store) Ping(ctx context.Context) (string, error) {
	pong, err := s.client.Ping(ctx).Result()
	if err != nil {
		return "", fmt.Errorf("redis ping: %w", err)
	}
	return pong, nil
}

// abortError carries an UpdateFunc error out of the WATCH callback untouched
type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }

func isNotIntegerErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "not an integer") || strings.Contains(msg, "overflow")
}
