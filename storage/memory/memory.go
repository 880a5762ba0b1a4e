package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rosterhub/authsession/instrumentation"
	"github.com/rosterhub/authsession/internal/util"
	"github.com/rosterhub/authsession/storage"
)

// storageType labels metrics and spans emitted by this backend
const storageType = "memory"

// entry is a stored value with an optional absolute expiry
type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is an in-memory implementation of storage.Store.
// It is suitable for development, testing, and single-instance deployments.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	registration    metric.Registration

	// Atomic key count for lock-free metric collection
	keysCount atomic.Int64

	// Cleanup (optional)
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	closed          atomic.Bool

	logger *slog.Logger
}

// Compile-time interface check
var _ storage.Store = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithClock replaces the wall clock used for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used by the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an in-memory store with lazy expiry only.
// Expired entries are removed when they are next touched.
func New(opts ...Option) *Store {
	s := &Store{
		entries:     make(map[string]entry),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewWithCleanup creates an in-memory store that additionally sweeps expired
// entries every cleanupInterval. If cleanupInterval is 0 or negative, uses
// default of 1 minute. Call Stop to end the sweep.
func NewWithCleanup(cleanupInterval time.Duration, opts ...Option) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := New(opts...)
	s.cleanupInterval = cleanupInterval

	go s.cleanupLoop()

	s.logger.Debug("Started storage cleanup loop", "interval", cleanupInterval)
	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
	s.keysCount.Store(int64(len(s.entries)))
	s.mu.Unlock()

	if inst != nil {
		reg, err := inst.RegisterStorageSizeCallback(storageType, s.keysCount.Load)
		if err != nil {
			s.logger.Warn("Failed to register storage size callback", "error", err)
			return
		}
		s.registration = reg
	}
}

// Stop stops the cleanup goroutine (if any) and unregisters metric callbacks.
// It is safe to call Stop more than once. Operations after Stop return
// storage.ErrStoreClosed.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		close(s.stopCleanup)
		if s.registration != nil {
			if err := s.registration.Unregister(); err != nil {
				s.logger.Warn("Failed to unregister storage size callback", "error", err)
			}
		}
	})
}

// Set stores value under key, replacing any previous entry and TTL
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) (err error) {
	ctx, span := s.startStorageSpan(ctx, "set")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "set", err, startTime) }()

	if s.closed.Load() {
		return storage.ErrStoreClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.put(key, e)
	return nil
}

// Get returns the live value stored under key
func (s *Store) Get(ctx context.Context, key string) (value string, err error) {
	ctx, span := s.startStorageSpan(ctx, "get")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "get", ignoreNotFound(err), startTime) }()

	if s.closed.Load() {
		return "", storage.ErrStoreClosed
	}

	// Fast path under the read lock; expired entries need the write lock to reap
	s.mu.RLock()
	e, ok := s.entries[key]
	now := s.now()
	s.mu.RUnlock()

	if !ok {
		return "", storage.ErrNotFound
	}
	if !e.expired(now) {
		return e.value, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, live := s.lookup(key); live {
		// Rewritten between the two locks
		return e.value, nil
	}
	return "", storage.ErrNotFound
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) (removed bool, err error) {
	ctx, span := s.startStorageSpan(ctx, "delete")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "delete", err, startTime) }()

	if s.closed.Load() {
		return false, storage.ErrStoreClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// An expired entry is already absent
	if _, live := s.lookup(key); !live {
		return false, nil
	}
	s.remove(key)
	return true, nil
}

// Incr atomically increments the integer stored under key
func (s *Store) Incr(ctx context.Context, key string) (n int64, err error) {
	ctx, span := s.startStorageSpan(ctx, "incr")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "incr", err, startTime) }()

	if s.closed.Load() {
		return 0, storage.ErrStoreClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, live := s.lookup(key)
	if !live {
		e = entry{value: "0"}
	}

	current, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("incr %q: %w", key, storage.ErrNotInteger)
	}
	if current == math.MaxInt64 {
		return 0, fmt.Errorf("incr %q would overflow: %w", key, storage.ErrNotInteger)
	}

	n = current + 1
	e.value = strconv.FormatInt(n, 10)
	s.put(key, e)
	return n, nil
}

// Expire sets the TTL of an existing key
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (ok bool, err error) {
	ctx, span := s.startStorageSpan(ctx, "expire")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "expire", err, startTime) }()

	if s.closed.Load() {
		return false, storage.ErrStoreClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, live := s.lookup(key)
	if !live {
		return false, nil
	}
	if ttl <= 0 {
		s.remove(key)
		return true, nil
	}
	e.expiresAt = s.now().Add(ttl)
	s.put(key, e)
	return true, nil
}

// Keys returns the live keys matching pattern. Expired entries found during
// the scan are removed.
func (s *Store) Keys(ctx context.Context, pattern string) (keys []string, err error) {
	ctx, span := s.startStorageSpan(ctx, "keys")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "keys", err, startTime) }()

	if s.closed.Load() {
		return nil, storage.ErrStoreClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	keys = make([]string, 0)
	for k, e := range s.entries {
		if e.expired(now) {
			s.remove(k)
			continue
		}
		if util.MatchGlob(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Update applies fn to the current value of key under the write lock
func (s *Store) Update(ctx context.Context, key string, fn storage.UpdateFunc) (err error) {
	ctx, span := s.startStorageSpan(ctx, "update")
	defer span.End()
	startTime := time.Now()
	defer func() { s.recordStorageOperation(ctx, span, "update", err, startTime) }()

	if s.closed.Load() {
		return storage.ErrStoreClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, live := s.lookup(key)
	next, keep, err := fn(e.value, live)
	if err != nil {
		return err
	}

	if !keep {
		if live {
			s.remove(key)
		}
		return nil
	}

	// KEEPTTL semantics: an existing expiry survives, a new key has none
	e.value = next
	s.put(key, e)
	return nil
}

// Ping reports whether the store is usable
func (s *Store) Ping(ctx context.Context) (string, error) {
	if s.closed.Load() {
		return "", storage.ErrStoreClosed
	}
	return storage.PongReply, nil
}

// Len returns the number of stored entries, expired-but-unreaped ones included
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Cleanup removes every expired entry and returns how many were removed
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0
	for k, e := range s.entries {
		if e.expired(now) {
			s.remove(k)
			cleaned++
		}
	}
	return cleaned
}

// lookup returns the entry for key and whether it is live, reaping it if it
// has expired. Caller must hold the write lock.
func (s *Store) lookup(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.now()) {
		s.remove(key)
		return entry{}, false
	}
	return e, true
}

// put stores e under key. Caller must hold the write lock.
func (s *Store) put(key string, e entry) {
	if _, exists := s.entries[key]; !exists {
		s.keysCount.Add(1)
	}
	s.entries[key] = e
}

// remove deletes key. Caller must hold the write lock.
func (s *Store) remove(key string) {
	if _, exists := s.entries[key]; exists {
		delete(s.entries, key)
		s.keysCount.Add(-1)
	}
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			if cleaned := s.Cleanup(); cleaned > 0 {
				s.logger.Debug("Cleaned up expired entries", "count", cleaned)
			}
		}
	}
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
// Returns a context with the span attached and the span itself
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, storageType),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, storageType, operation, result, durationMs)
}

// ignoreNotFound treats a miss as a successful lookup for telemetry
func ignoreNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
