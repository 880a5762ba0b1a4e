// Package mock provides a programmable storage.Store for testing failure paths.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/rosterhub/authsession/storage"
	"github.com/rosterhub/authsession/storage/memory"
)

// MockStore is a storage.Store whose operations can be replaced one by one.
// Each *Func field defaults to an in-memory backing store, so a test only
// overrides the operation it wants to break.
type MockStore struct {
	mu         sync.Mutex
	callCounts map[string]int

	SetFunc    func(ctx context.Context, key, value string, ttl time.Duration) error
	GetFunc    func(ctx context.Context, key string) (string, error)
	DeleteFunc func(ctx context.Context, key string) (bool, error)
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, ttl time.Duration) (bool, error)
	KeysFunc   func(ctx context.Context, pattern string) ([]string, error)
	UpdateFunc func(ctx context.Context, key string, fn storage.UpdateFunc) error
	PingFunc   func(ctx context.Context) (string, error)

	// Backing is the store used by the default implementations
	Backing *memory.Store
}

var _ storage.Store = (*MockStore)(nil)

// NewMockStore creates a mock whose default behaviour is a working memory store
func NewMockStore() *MockStore {
	backing := memory.New()
	return &MockStore{
		callCounts: make(map[string]int),
		SetFunc:    backing.Set,
		GetFunc:    backing.Get,
		DeleteFunc: backing.Delete,
		IncrFunc:   backing.Incr,
		ExpireFunc: backing.Expire,
		KeysFunc:   backing.Keys,
		UpdateFunc: backing.Update,
		PingFunc:   backing.Ping,
		Backing:    backing,
	}
}

// FailAll makes every operation return err
func (m *MockStore) FailAll(err error) {
	m.SetFunc = func(context.Context, string, string, time.Duration) error { return err }
	m.GetFunc = func(context.Context, string) (string, error) { return "", err }
	m.DeleteFunc = func(context.Context, string) (bool, error) { return false, err }
	m.IncrFunc = func(context.Context, string) (int64, error) { return 0, err }
	m.ExpireFunc = func(context.Context, string, time.Duration) (bool, error) { return false, err }
	m.KeysFunc = func(context.Context, string) ([]string, error) { return nil, err }
	m.UpdateFunc = func(context.Context, string, storage.UpdateFunc) error { return err }
	m.PingFunc = func(context.Context) (string, error) { return "", err }
}

// CallCount returns how many times the named operation was called
func (m *MockStore) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[op]
}

func (m *MockStore) record(op string) {
	m.mu.Lock()
	m.callCounts[op]++
	m.mu.Unlock()
}

// Set implements storage.Store
func (m *MockStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.record("Set")
	return m.SetFunc(ctx, key, value, ttl)
}

// Get implements storage.Store
func (m *MockStore) Get(ctx context.Context, key string) (string, error) {
	m.record("Get")
	return m.GetFunc(ctx, key)
}

// Delete implements storage.Store
func (m *MockStore) Delete(ctx context.Context, key string) (bool, error) {
	m.record("Delete")
	return m.DeleteFunc(ctx, key)
}

// Incr implements storage.Store
func (m *MockStore) Incr(ctx context.Context, key string) (int64, error) {
	m.record("Incr")
	return m.IncrFunc(ctx, key)
}

// Expire implements storage.Store
func (m *MockStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.record("Expire")
	return m.ExpireFunc(ctx, key, ttl)
}

// Keys implements storage.Store
func (m *MockStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.record("Keys")
	return m.KeysFunc(ctx, pattern)
}

// Update implements storage.Store
func (m *MockStore) Update(ctx context.Context, key string, fn storage.UpdateFunc) error {
	m.record("Update")
	return m.UpdateFunc(ctx, key, fn)
}

// Ping implements storage.Store
func (m *MockStore) Ping(ctx context.Context) (string, error) {
	m.record("Ping")
	return m.PingFunc(ctx)
}
