package memkv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentcore/internal/storage"
)

func TestWriteRead(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := storage.Key{"session", "ses_1"}

	require.NoError(t, s.Write(ctx, key, []byte(`{"id":"ses_1"}`)))

	v, err := s.Read(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"ses_1"}`, string(v))
}

func TestReadMissingIsNotFound(t *testing.T) {
	s := New()
	_, err := s.Read(context.Background(), storage.Key{"session", "nope"})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestListReturnsOnlyPrefixMatches(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Write(ctx, storage.Key{"session", "a"}, []byte("1")))
	require.NoError(t, s.Write(ctx, storage.Key{"session", "b"}, []byte("2")))
	require.NoError(t, s.Write(ctx, storage.Key{"message", "c"}, []byte("3")))

	got, err := s.List(ctx, storage.Key{"session"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRemove(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := storage.Key{"todo", "t1"}
	require.NoError(t, s.Write(ctx, key, []byte("x")))
	require.NoError(t, s.Remove(ctx, key))
	_, err := s.Read(ctx, key)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestWriteCopiesValue(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := storage.Key{"session", "mut"}
	buf := []byte("original")
	require.NoError(t, s.Write(ctx, key, buf))
	buf[0] = 'X'

	v, err := s.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "original", string(v))
}
