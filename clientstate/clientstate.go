// Package clientstate persists client-side session data: the access token,
// the user profile, the onboarding flag and the CSRF token.
//
// Two scopes exist. Durable state survives restarts (a local key/value file
// or SQLite database); session-scoped state is dropped on sign-out. Both use
// the same Store contract.
package clientstate

import (
	"context"

	"github.com/rosterhub/authsession/security"
)

// Fixed storage keys of the durable scope
const (
	KeyAuthToken           = "authToken"
	KeyUser                = "user"
	KeyOnboardingCompleted = "onboardingCompleted"
	KeyCSRFToken           = security.CSRFStorageKey
)

// SessionKeys lists every durable key belonging to a signed-in session, in
// teardown order
var SessionKeys = []string{KeyAuthToken, KeyUser, KeyOnboardingCompleted, KeyCSRFToken}

// Store is a string key/value store on the client
type Store interface {
	// Get returns the value under key and whether it exists
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key
	Set(ctx context.Context, key, value string) error

	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Clear removes every key of the store's scope
	Clear(ctx context.Context) error
}

// Compile-time checks that every Store can back the CSRF manager
var (
	_ security.KeyValueStorage = (Store)(nil)
	_ Store                    = (*MemoryStore)(nil)
	_ Store                    = (*SQLiteStore)(nil)
	_ Store                    = (*EncryptedStore)(nil)
)
