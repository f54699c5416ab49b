// Package pg is the hosted-deployment storage.Store backend: a Postgres
// table accessed through pgx's connection pool. It backs the session/ and
// message/ key prefixes, which in a multi-node deployment need a store
// external to any one process — the same role the teacher's Postgres
// stores play relative to its file-backed ones (internal/store/file vs.
// whatever its managed-mode Postgres stores cover).
package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentforge/agentcore/internal/storage"
)

// Store is a Postgres-backed storage.Store using a single kv table,
// mirroring sqlitekv's schema so the two backends are interchangeable.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres at dsn and pings it. It does not create the
// kv table; the migrations run by `agentcore migrate` do that. The
// DSN is expected to come from an environment variable
// (GOCLAW-style secrets-never-in-config convention carried from the
// teacher's cmd/migrate.go resolveDSN), never from a config file.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) Write(ctx context.Context, key storage.Key, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key.String(), value)
	if err != nil {
		return fmt.Errorf("pg: write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, key storage.Key) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv WHERE key = $1`, key.String()).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("pg: read %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Remove(ctx context.Context, key storage.Key) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM kv WHERE key = $1`, key.String()); err != nil {
		return fmt.Errorf("pg: remove %s: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix storage.Key) ([]storage.Key, error) {
	rows, err := s.pool.Query(ctx, `SELECT key FROM kv WHERE key LIKE $1`, prefix.String()+"/%")
	if err != nil {
		return nil, fmt.Errorf("pg: list %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []storage.Key
	for rows.Next() {
		var joined string
		if err := rows.Scan(&joined); err != nil {
			return nil, fmt.Errorf("pg: list scan: %w", err)
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
