package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store is durable key-value persistence for the session record.
//
// Load returns a zero Session (not an error) when nothing is stored.
// Save overwrites the record wholesale, including when the session is
// cleared, so a fresh process never retries a dead refresh token.
type Store interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
}

// SQLiteStore persists the session record in a single-row SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// schema holds exactly one row; the CHECK constraint enforces it.
const schema = `
CREATE TABLE IF NOT EXISTS session (
    id            INTEGER PRIMARY KEY CHECK (id = 1),
    access_token  TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    expires_at    INTEGER NOT NULL,
    user_index    INTEGER NOT NULL,
    user_id       TEXT NOT NULL
)`

// NewSQLiteStore creates the session table if needed and returns a store.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating session table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the stored session record.
// Returns a zero Session when no record exists.
func (s *SQLiteStore) Load(ctx context.Context) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, user_index, user_id FROM session WHERE id = 1`)

	var sess Session
	var expiresAt int64
	err := row.Scan(&sess.AccessToken, &sess.RefreshToken, &expiresAt, &sess.UserIndex, &sess.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}

	if expiresAt > 0 {
		sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}
	return sess, nil
}

// Save writes the session record, replacing any existing row.
func (s *SQLiteStore) Save(ctx context.Context, sess Session) error {
	var expiresAt int64
	if !sess.ExpiresAt.IsZero() {
		expiresAt = sess.ExpiresAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO session (id, access_token, refresh_token, expires_at, user_index, user_id)
VALUES (1, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    access_token  = excluded.access_token,
    refresh_token = excluded.refresh_token,
    expires_at    = excluded.expires_at,
    user_index    = excluded.user_index,
    user_id       = excluded.user_id`,
		sess.AccessToken, sess.RefreshToken, expiresAt, sess.UserIndex, sess.UserID)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}
