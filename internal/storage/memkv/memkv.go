// Package memkv is an in-process, non-persistent implementation of
// storage.Store, grounded directly on the original in-memory half of
// core/storage.py's Storage class (a process-wide dict guarded by a lock).
// It backs unit/integration tests and can stand in for the durable
// backends in single-process demos.
package memkv

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentforge/agentcore/internal/storage"
)

// Store is a mutex-guarded map keyed by the joined key path.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New constructs an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Write(_ context.Context, key storage.Key, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	s.mu.Lock()
	s.data[key.String()] = cp
	s.mu.Unlock()
	return nil
}

func (s *Store) Read(_ context.Context, key storage.Key) ([]byte, error) {
	s.mu.RLock()
	v, ok := s.data[key.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *Store) Remove(_ context.Context, key storage.Key) error {
	s.mu.Lock()
	delete(s.data, key.String())
	s.mu.Unlock()
	return nil
}

func (s *Store) List(_ context.Context, prefix storage.Key) ([]storage.Key, error) {
	want := prefix.String() + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Key
	for k := range s.data {
		if len(k) > len(want) && k[:len(want)] == want {
			out = append(out, splitKey(k))
		}
	}
	return out, nil
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
