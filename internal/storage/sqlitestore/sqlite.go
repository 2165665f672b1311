//go:build sqlite

package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"pbserver/internal/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open initializes the SQLite database at path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time keeps read-modify-write transactions from
	// failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := initialize(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func initialize(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB,
    expires_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_kv_expires_at ON kv (expires_at);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) stamp() int64 {
	return s.now().UnixNano()
}

// Get fetches the value under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	const q = `SELECT value FROM kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?);`
	var value []byte
	if err := s.db.QueryRowContext(ctx, q, key, s.stamp()).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query %s: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Set inserts or replaces the value under key and drops its expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	const q = `
INSERT INTO kv (key, value, expires_at) VALUES (?, ?, NULL)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = NULL;
`
	if _, err := s.db.ExecContext(ctx, q, key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Incr increments the counter under key inside a transaction.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.stamp()
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?;`, key, now); err != nil {
		return 0, fmt.Errorf("drop expired %s: %w", key, err)
	}

	var (
		raw []byte
		n   int64
	)
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?;`, key).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		n = 1
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv (key, value, expires_at) VALUES (?, ?, NULL);`, key, []byte("1")); err != nil {
			return 0, fmt.Errorf("insert counter %s: %w", key, err)
		}
	case err != nil:
		return 0, fmt.Errorf("query counter %s: %w", key, err)
	default:
		n, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %s: value is not an integer", key)
		}
		n++
		if _, err := tx.ExecContext(ctx, `UPDATE kv SET value = ? WHERE key = ?;`, strconv.AppendInt(nil, n, 10), key); err != nil {
			return 0, fmt.Errorf("update counter %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// Expire sets the expiry of a live key, or deletes it for non-positive ttl.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	now := s.now()
	if ttl <= 0 {
		const q = `DELETE FROM kv WHERE key = ?;`
		if _, err := s.db.ExecContext(ctx, q, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	}
	const q = `UPDATE kv SET expires_at = ? WHERE key = ? AND (expires_at IS NULL OR expires_at > ?);`
	if _, err := s.db.ExecContext(ctx, q, now.Add(ttl).UnixNano(), key, now.UnixNano()); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// DeleteExpired removes all expired keys.
func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	const q = `DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?;`
	res, err := s.db.ExecContext(ctx, q, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(rows), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ storage.Store   = (*Store)(nil)
	_ storage.Sweeper = (*Store)(nil)
)
