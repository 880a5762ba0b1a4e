package clientstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Scope names for SQLite-backed stores sharing one database
const (
	ScopeDurable = "durable"
	ScopeSession = "session"
)

// OpenSQLite opens (creating if needed) the client state database at path.
// Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open client state database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initSchema(db *sql.DB) error {
	if err := initTable(db, "client_state", `
		CREATE TABLE IF NOT EXISTS client_state (
			scope       TEXT NOT NULL,
			key         TEXT NOT NULL,
			value       TEXT NOT NULL,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (scope, key)
		);`,
	); err != nil {
		return err
	}
	return nil
}

func initTable(db *sql.DB, name string, stmt string) error {
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("failed to init '%s' table schema: %w", name, err)
	}
	return nil
}

// SQLiteStore keeps one scope of client state in a SQLite database
type SQLiteStore struct {
	db    *sql.DB
	scope string
	now   func() time.Time
}

// NewSQLiteStore creates a store for scope on an opened database
func NewSQLiteStore(db *sql.DB, scope string) *SQLiteStore {
	if scope == "" {
		scope = ScopeDurable
	}
	return &SQLiteStore{db: db, scope: scope, now: time.Now}
}

// Get implements Store
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM client_state WHERE scope = ? AND key = ?;`,
		s.scope, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements Store
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_state (scope, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at;`,
		s.scope, key, value, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// Delete implements Store
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE scope = ? AND key = ?;`,
		s.scope, key,
	); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// Clear implements Store. Only this store's scope is removed.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE scope = ?;`,
		s.scope,
	); err != nil {
		return fmt.Errorf("failed to clear scope %q: %w", s.scope, err)
	}
	return nil
}
