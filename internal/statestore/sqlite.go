package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			session_id TEXT PRIMARY KEY,
			history TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated ON chat_sessions(updated_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, id uuid.UUID) (string, bool, error) {
	var history string
	err := s.db.QueryRowContext(ctx,
		`SELECT history FROM chat_sessions WHERE session_id = ?`, id.String(),
	).Scan(&history)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get session %s: %w", id, err)
	}
	return history, true, nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, id uuid.UUID) (string, error) {
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, history, created_at, updated_at)
		 VALUES (?, '', ?, ?) ON CONFLICT(session_id) DO NOTHING`,
		id.String(), ts, ts,
	)
	if err != nil {
		return "", fmt.Errorf("create session %s: %w", id, err)
	}
	history, _, err := s.Get(ctx, id)
	return history, err
}

func (s *SQLiteStore) Set(ctx context.Context, id uuid.UUID, history string) error {
	ts := now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (session_id, history, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET history = excluded.history, updated_at = excluded.updated_at`,
		id.String(), history, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("set session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, id.String()); err != nil {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	return nil
}
