package security

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
)

// mapStorage is a minimal KeyValueStorage for tests
type mapStorage struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newMapStorage() *mapStorage {
	return &mapStorage{values: make(map[string]string)}
}

func (m *mapStorage) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mapStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func (m *mapStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.values, key)
	return nil
}

func TestCSRFManager_Generate(t *testing.T) {
	m := NewCSRFManager(newMapStorage())

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := m.Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if len(token) != 64 {
			t.Errorf("len(token) = %d, want 64", len(token))
		}
		if _, err := hex.DecodeString(token); err != nil {
			t.Errorf("token %q is not hex: %v", token, err)
		}
		if seen[token] {
			t.Fatalf("Generate() repeated token %q", token)
		}
		seen[token] = true
	}
}

func TestCSRFManager_StoreGetClear(t *testing.T) {
	storage := newMapStorage()
	m := NewCSRFManager(storage)
	ctx := context.Background()

	if _, ok, _ := m.Get(ctx); ok {
		t.Error("Get() on empty storage ok = true, want false")
	}

	if err := m.Store(ctx, "tok"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if got, ok, _ := m.Get(ctx); !ok || got != "tok" {
		t.Errorf("Get() = %q, %v, want %q, true", got, ok, "tok")
	}
	if storage.values[CSRFStorageKey] != "tok" {
		t.Errorf("stored under %q = %q, want %q", CSRFStorageKey, storage.values[CSRFStorageKey], "tok")
	}

	if err := m.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok, _ := m.Get(ctx); ok {
		t.Error("Get() after Clear ok = true, want false")
	}
}

func TestCSRFManager_RotateInvalidatesPreviousToken(t *testing.T) {
	m := NewCSRFManager(newMapStorage())
	ctx := context.Background()

	first, err := m.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	second, err := m.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}

	if m.Validate(ctx, first) {
		t.Error("Validate(previous session token) = true, want false")
	}
	if !m.Validate(ctx, second) {
		t.Error("Validate(current token) = false, want true")
	}
}

func TestCSRFManager_Validate(t *testing.T) {
	storage := newMapStorage()
	m := NewCSRFManager(storage)
	ctx := context.Background()

	if m.Validate(ctx, "") {
		t.Error("Validate(\"\") with empty storage = true, want false")
	}
	_ = m.Store(ctx, "abc")

	tests := []struct {
		token string
		want  bool
	}{
		{"abc", true},
		{"abd", false},
		{"ab", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := m.Validate(ctx, tt.token); got != tt.want {
			t.Errorf("Validate(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}

	storage.err = errors.New("disk full")
	if m.Validate(ctx, "abc") {
		t.Error("Validate() with failing storage = true, want false")
	}
	if _, err := m.Rotate(ctx); err == nil {
		t.Error("Rotate() with failing storage error = nil, want error")
	}
}
