package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// EncryptionKeySize is the key length required for AES-256
const EncryptionKeySize = 32

// ErrDecryptionFailed is returned when a value cannot be authenticated or decoded
var ErrDecryptionFailed = errors.New("decryption failed")

// Encryptor encrypts client state at rest using AES-256-GCM.
// A disabled Encryptor passes values through unchanged.
type Encryptor struct {
	aead    cipher.AEAD
	enabled bool
}

// NewEncryptor creates a new encryptor.
// If key is nil or empty, encryption is disabled.
// The key must be exactly 32 bytes for AES-256.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) == 0 {
		return &Encryptor{enabled: false}, nil
	}

	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes for AES-256, got %d", EncryptionKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{aead: aead, enabled: true}, nil
}

// Seal encrypts plaintext bound to label, so the ciphertext only opens under
// the same label (e.g. the storage key it was written to).
// The result is base64 of [nonce][ciphertext].
func (e *Encryptor) Seal(plaintext, label string) (string, error) {
	if !e.enabled {
		return plaintext, nil
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), []byte(label))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal with the same label
func (e *Encryptor) Open(encoded, label string) (string, error) {
	if !e.enabled {
		return encoded, nil
	}

	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrDecryptionFailed, err)
	}

	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, []byte(label))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plaintext), nil
}

// Encrypt encrypts plaintext without a label
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	return e.Seal(plaintext, "")
}

// Decrypt decrypts a value produced by Encrypt
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	return e.Open(encoded, "")
}

// IsEnabled returns true if encryption is enabled
func (e *Encryptor) IsEnabled() bool {
	return e.enabled
}

// GenerateKey generates a new 32-byte encryption key for AES-256
func GenerateKey() ([]byte, error) {
	key := make([]byte, EncryptionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64-encoded encryption key
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", EncryptionKeySize, len(key))
	}
	return key, nil
}
