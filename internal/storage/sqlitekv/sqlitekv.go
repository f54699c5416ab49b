// Package sqlitekv is the default durable storage.Store backend for
// single-node deployments. Connection setup (WAL mode, busy_timeout,
// immediate transaction locking) follows the pattern used across the
// example corpus's own modernc.org/sqlite callers: PRAGMAs are passed as
// DSN query parameters so every pooled connection — not just the first —
// picks them up.
package sqlitekv

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/agentforge/agentcore/internal/storage"
)

// Store is a sqlite-backed storage.Store. One row per key, value stored
// as a JSON blob column; a single kv table serves every prefix, since the
// key itself encodes the domain ("session/ses_1", "todo/t1", ...).
type Store struct {
	db *sql.DB
}

// Open creates (if needed) the sqlite file at path and its kv table.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlitekv: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: open: %w", err)
	}
	// SQLite permits exactly one writer; keep the pool small and let WAL
	// mode serve concurrent readers instead of fighting over locks.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitekv: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func buildDSN(path string) string {
	v := url.Values{}
	v.Set("_pragma", "journal_mode=WAL")
	v.Add("_pragma", "busy_timeout=30000")
	v.Add("_pragma", "synchronous=NORMAL")
	v.Add("_txlock", "immediate")
	return path + "?" + v.Encode()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Write(ctx context.Context, key storage.Key, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key.String(), value)
	if err != nil {
		return fmt.Errorf("sqlitekv: write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, key storage.Key) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key.String()).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: read %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Remove(ctx context.Context, key storage.Key) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key.String()); err != nil {
		return fmt.Errorf("sqlitekv: remove %s: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix storage.Key) ([]storage.Key, error) {
	like := prefix.String() + "/%"
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv WHERE key LIKE ?`, like)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: list %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []storage.Key
	for rows.Next() {
		var joined string
		if err := rows.Scan(&joined); err != nil {
			return nil, fmt.Errorf("sqlitekv: list scan: %w", err)
		}
		out = append(out, splitKey(joined))
	}
	return out, rows.Err()
}

func splitKey(joined string) storage.Key {
	var segs []string
	start := 0
	for i := 0; i < len(joined); i++ {
		if joined[i] == '/' {
			segs = append(segs, joined[start:i])
			start = i + 1
		}
	}
	segs = append(segs, joined[start:])
	return storage.Key(segs)
}
