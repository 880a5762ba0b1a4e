package security

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

const (
	// CSRFStorageKey is the durable storage key holding the current CSRF token
	CSRFStorageKey = "csrfToken"

	// csrfTokenBytes is the entropy of a CSRF token; hex encoding doubles the length
	csrfTokenBytes = 32
)

// KeyValueStorage is the client-side durable storage the CSRF manager writes to
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// CSRFManager issues and holds the CSRF token of the current session
type CSRFManager struct {
	storage KeyValueStorage
}

// NewCSRFManager creates a manager persisting to storage
func NewCSRFManager(storage KeyValueStorage) *CSRFManager {
	return &CSRFManager{storage: storage}
}

// Generate returns a new random CSRF token (64 hex characters)
func (m *CSRFManager) Generate() (string, error) {
	b := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate CSRF token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Store persists token as the current CSRF token
func (m *CSRFManager) Store(ctx context.Context, token string) error {
	if err := m.storage.Set(ctx, CSRFStorageKey, token); err != nil {
		return fmt.Errorf("failed to store CSRF token: %w", err)
	}
	return nil
}

// Get returns the current CSRF token, if any
func (m *CSRFManager) Get(ctx context.Context) (string, bool, error) {
	token, ok, err := m.storage.Get(ctx, CSRFStorageKey)
	if err != nil {
		return "", false, fmt.Errorf("failed to read CSRF token: %w", err)
	}
	if !ok || token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Clear removes the current CSRF token
func (m *CSRFManager) Clear(ctx context.Context) error {
	if err := m.storage.Delete(ctx, CSRFStorageKey); err != nil {
		return fmt.Errorf("failed to clear CSRF token: %w", err)
	}
	return nil
}

// Rotate clears the current token before issuing and storing a new one, so a
// token from a previous session can never survive into the next.
func (m *CSRFManager) Rotate(ctx context.Context) (string, error) {
	if err := m.Clear(ctx); err != nil {
		return "", err
	}
	token, err := m.Generate()
	if err != nil {
		return "", err
	}
	if err := m.Store(ctx, token); err != nil {
		return "", err
	}
	return token, nil
}

// Validate reports whether token matches the current CSRF token.
// An empty token or an empty store never validates.
func (m *CSRFManager) Validate(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}
	current, ok, err := m.Get(ctx)
	if err != nil || !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(current), []byte(token)) == 1
}
