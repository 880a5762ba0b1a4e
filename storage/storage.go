package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or its TTL has elapsed
	ErrNotFound = errors.New("key not found")

	// ErrNotInteger is returned by Incr when the stored value is not a base-10 integer
	ErrNotInteger = errors.New("value is not an integer")

	// ErrConflict is returned by Update when the key kept changing under a
	// concurrent writer and the retry budget was exhausted
	ErrConflict = errors.New("concurrent update conflict")

	// ErrStoreClosed is returned by operations on a stopped store
	ErrStoreClosed = errors.New("store closed")
)

// PongReply is the reply of a healthy Ping
const PongReply = "PONG"

// UpdateFunc computes the next value of a key from its current value.
// exists is false when the key is absent or expired (current is then "").
// Returning keep=false deletes the key; returning an error aborts the update
// and leaves the key untouched.
type UpdateFunc func(current string, exists bool) (next string, keep bool, err error)

// Store is a string key/value store with per-key expiry.
//
// Expiry is lazy: an entry whose TTL has elapsed is treated as absent by every
// operation and removed when it is touched. No operation leaves a single key
// partially updated. All methods accept context.Context for tracing and cancellation.
type Store interface {
	// Set stores value under key, overwriting any existing entry and its TTL.
	// A ttl <= 0 stores the value without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Delete removes key and reports whether an entry was removed.
	Delete(ctx context.Context, key string) (bool, error)

	// Incr atomically increments the integer stored under key (absent counts
	// as "0") and returns the new value. The TTL of an existing key is kept.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets or replaces the TTL of an existing key. It returns false
	// when the key is absent. A ttl <= 0 removes the key immediately.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Keys returns the live keys fully matching pattern, where '*' matches any
	// run of characters and '?' matches exactly one. Order is unspecified.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Update atomically applies fn to the value stored under key. The TTL of
	// an existing key is kept.
	Update(ctx context.Context, key string, fn UpdateFunc) error

	// Ping checks the store is reachable and returns PongReply.
	Ping(ctx context.Context) (string, error)
}
