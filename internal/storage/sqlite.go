package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/eighttrack/internal/shared"
)

// SQLiteBackend stores sessions in the sessions and session_values tables.
//
// Sessions with a TTL expire relative to their last write. Expired sessions read
// as empty, start over on the next write, and are removed by [SQLiteBackend.PurgeExpired].
type SQLiteBackend struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteBackend wraps a migrated database. A zero ttl keeps sessions until they are ended.
func NewSQLiteBackend(db *sql.DB, ttl time.Duration) *SQLiteBackend {
	return &SQLiteBackend{db: db, ttl: ttl, now: time.Now}
}

func (b *SQLiteBackend) Session(id string) Store {
	return &sqliteStore{backend: b, id: id}
}

// End deletes the session and all of its values.
func (b *SQLiteBackend) End(ctx context.Context, id string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM session_values WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session values: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return tx.Commit()
}

// PurgeExpired removes sessions whose TTL has elapsed and returns how many were removed.
func (b *SQLiteBackend) PurgeExpired(ctx context.Context) (int64, error) {
	nowMS := b.now().UnixMilli()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		DELETE FROM session_values
		WHERE session_id IN (SELECT id FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= ?)
	`
	if _, err := tx.ExecContext(ctx, query, nowMS); err != nil {
		return 0, fmt.Errorf("failed to purge session values: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= ?", nowMS)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, tx.Commit()
}

// Reset drops and recreates the session schema, forgetting every session.
func (b *SQLiteBackend) Reset(ctx context.Context) error {
	m, err := shared.NewMigrator(b.db)
	if err != nil {
		return err
	}
	if err := m.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset session schema: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

type sqliteStore struct {
	backend *SQLiteBackend
	id      string
}

func (s *sqliteStore) Get(ctx context.Context, key string) (string, error) {
	query := `
		SELECT v.value
		FROM session_values v
		JOIN sessions s ON s.id = v.session_id
		WHERE v.session_id = ? AND v.key = ? AND (s.expires_at IS NULL OR s.expires_at > ?)
	`

	var value string
	err := s.backend.db.QueryRowContext(ctx, query, s.id, key, s.backend.now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query session value: %w", err)
	}

	return value, nil
}

func (s *sqliteStore) Set(ctx context.Context, key, value string) error {
	now := s.backend.now()

	var expiresAt sql.NullInt64
	if s.backend.ttl > 0 {
		expiresAt = sql.NullInt64{Int64: now.Add(s.backend.ttl).UnixMilli(), Valid: true}
	}

	tx, err := s.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// an expired session starts over empty, like an expired redis hash
	expired := `
		DELETE FROM session_values
		WHERE session_id IN (SELECT id FROM sessions WHERE id = ? AND expires_at IS NOT NULL AND expires_at <= ?)
	`
	if _, err := tx.ExecContext(ctx, expired, s.id, now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to clear expired session: %w", err)
	}

	upsert := `
		INSERT INTO sessions (id, expires_at) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET expires_at = excluded.expires_at
	`
	if _, err := tx.ExecContext(ctx, upsert, s.id, expiresAt); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	query := `
		INSERT INTO session_values (session_id, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, s.id, key, value, now.UTC()); err != nil {
		return fmt.Errorf("failed to write session value: %w", err)
	}

	return tx.Commit()
}

func (s *sqliteStore) Remove(ctx context.Context, key string) error {
	_, err := s.backend.db.ExecContext(ctx, "DELETE FROM session_values WHERE session_id = ? AND key = ?", s.id, key)
	if err != nil {
		return fmt.Errorf("failed to delete session value: %w", err)
	}
	return nil
}
