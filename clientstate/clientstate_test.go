package clientstate

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/rosterhub/authsession/security"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newEncryptor(t *testing.T) *security.Encryptor {
	t.Helper()

	key, err := security.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	enc, err := security.NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	return enc
}

func TestStore_Contract(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T) Store
	}{
		{name: "memory", build: func(*testing.T) Store { return NewMemoryStore() }},
		{name: "sqlite", build: func(t *testing.T) Store { return NewSQLiteStore(openTestDB(t), ScopeDurable) }},
		{name: "encrypted memory", build: func(t *testing.T) Store {
			return NewEncryptedStore(NewMemoryStore(), newEncryptor(t))
		}},
		{name: "encrypted sqlite", build: func(t *testing.T) Store {
			return NewEncryptedStore(NewSQLiteStore(openTestDB(t), ScopeDurable), newEncryptor(t))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.build(t)
			ctx := context.Background()

			if _, ok, err := s.Get(ctx, KeyAuthToken); err != nil || ok {
				t.Errorf("Get(missing) = ok %v, err %v, want false, nil", ok, err)
			}

			if err := s.Set(ctx, KeyAuthToken, "tok-1"); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if err := s.Set(ctx, KeyAuthToken, "tok-2"); err != nil {
				t.Fatalf("Set() overwrite error = %v", err)
			}
			if got, ok, err := s.Get(ctx, KeyAuthToken); err != nil || !ok || got != "tok-2" {
				t.Errorf("Get() = %q, %v, %v, want %q, true, nil", got, ok, err, "tok-2")
			}

			_ = s.Set(ctx, KeyUser, `{"id":"u1"}`)
			if err := s.Delete(ctx, KeyAuthToken); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := s.Delete(ctx, KeyAuthToken); err != nil {
				t.Errorf("Delete(missing) error = %v, want nil", err)
			}
			if _, ok, _ := s.Get(ctx, KeyAuthToken); ok {
				t.Error("Get() after Delete ok = true, want false")
			}
			if _, ok, _ := s.Get(ctx, KeyUser); !ok {
				t.Error("Delete removed an unrelated key")
			}

			if err := s.Clear(ctx); err != nil {
				t.Fatalf("Clear() error = %v", err)
			}
			if _, ok, _ := s.Get(ctx, KeyUser); ok {
				t.Error("Get() after Clear ok = true, want false")
			}
		})
	}
}

func TestSQLiteStore_ScopesAreIsolated(t *testing.T) {
	db := openTestDB(t)
	durable := NewSQLiteStore(db, ScopeDurable)
	session := NewSQLiteStore(db, ScopeSession)
	ctx := context.Background()

	_ = durable.Set(ctx, "k", "durable")
	_ = session.Set(ctx, "k", "session")

	if got, _, _ := durable.Get(ctx, "k"); got != "durable" {
		t.Errorf("durable Get() = %q, want %q", got, "durable")
	}

	if err := session.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok, _ := session.Get(ctx, "k"); ok {
		t.Error("session key survived Clear")
	}
	if _, ok, _ := durable.Get(ctx, "k"); !ok {
		t.Error("durable key removed by session Clear")
	}
}

func TestEncryptedStore_ValuesAreSealedAndBoundToKey(t *testing.T) {
	inner := NewMemoryStore()
	s := NewEncryptedStore(inner, newEncryptor(t))
	ctx := context.Background()

	_ = s.Set(ctx, KeyAuthToken, "secret-token")

	raw, _, _ := inner.Get(ctx, KeyAuthToken)
	if raw == "secret-token" {
		t.Fatal("inner store holds plaintext")
	}

	// Moving the ciphertext under another key must not decrypt
	_ = inner.Set(ctx, KeyCSRFToken, raw)
	if _, _, err := s.Get(ctx, KeyCSRFToken); !errors.Is(err, security.ErrDecryptionFailed) {
		t.Errorf("Get() of moved value error = %v, want %v", err, security.ErrDecryptionFailed)
	}

	// Tampered value
	_ = inner.Set(ctx, KeyAuthToken, "garbage")
	if _, _, err := s.Get(ctx, KeyAuthToken); !errors.Is(err, security.ErrDecryptionFailed) {
		t.Errorf("Get() of tampered value error = %v, want %v", err, security.ErrDecryptionFailed)
	}
}

func TestEncryptedStore_BacksCSRFManager(t *testing.T) {
	s := NewEncryptedStore(NewMemoryStore(), newEncryptor(t))
	csrf := security.NewCSRFManager(s)
	ctx := context.Background()

	token, err := csrf.Rotate(ctx)
	if err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
	if !csrf.Validate(ctx, token) {
		t.Error("Validate() = false, want true")
	}
}

func TestOpenSQLite_File(t *testing.T) {
	path := t.TempDir() + "/state.db"
	ctx := context.Background()

	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	_ = NewSQLiteStore(db, ScopeDurable).Set(ctx, KeyOnboardingCompleted, "true")
	_ = db.Close()

	db, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer func() { _ = db.Close() }()

	if got, ok, _ := NewSQLiteStore(db, ScopeDurable).Get(ctx, KeyOnboardingCompleted); !ok || got != "true" {
		t.Errorf("Get() after reopen = %q, %v, want %q, true", got, ok, "true")
	}
}
