package clientstate

import (
	"context"
	"fmt"

	"github.com/rosterhub/authsession/security"
)

// EncryptedStore seals every value with an Encryptor before handing it to the
// wrapped Store. Each value is bound to its key, so a ciphertext copied under
// another key fails to open instead of being accepted.
type EncryptedStore struct {
	inner     Store
	encryptor *security.Encryptor
}

// NewEncryptedStore wraps inner. A disabled encryptor stores values in clear.
func NewEncryptedStore(inner Store, encryptor *security.Encryptor) *EncryptedStore {
	return &EncryptedStore{inner: inner, encryptor: encryptor}
}

// Get implements Store. A value that fails to decrypt is returned as an
// error wrapping security.ErrDecryptionFailed.
func (s *EncryptedStore) Get(ctx context.Context, key string) (string, bool, error) {
	sealed, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	value, err := s.encryptor.Open(sealed, key)
	if err != nil {
		return "", false, fmt.Errorf("failed to decrypt %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements Store
func (s *EncryptedStore) Set(ctx context.Context, key, value string) error {
	sealed, err := s.encryptor.Seal(value, key)
	if err != nil {
		return fmt.Errorf("failed to encrypt %q: %w", key, err)
	}
	return s.inner.Set(ctx, key, sealed)
}

// Delete implements Store
func (s *EncryptedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// Clear implements Store
func (s *EncryptedStore) Clear(ctx context.Context) error {
	return s.inner.Clear(ctx)
}
