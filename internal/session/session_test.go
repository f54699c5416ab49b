package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentcore/internal/bus"
	"github.com/agentforge/agentcore/internal/storage"
	"github.com/agentforge/agentcore/internal/storage/memkv"
)

func newStore() (*Store, storage.Store) {
	kv := memkv.New()
	return New(kv, kv, bus.New()), kv
}

func TestCreateDefaultsAgentToBuild(t *testing.T) {
	s, _ := newStore()
	sess, err := s.Create(context.Background(), CreateInput{})
	require.NoError(t, err)
	assert.Equal(t, "build", sess.AgentID)
	assert.False(t, sess.UpdatedAt.Before(sess.CreatedAt))
}

func TestUpdateBumpsUpdatedAt(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	sess, _ := s.Create(ctx, CreateInput{})
	before := sess.UpdatedAt

	updated, err := s.Update(ctx, sess.ID, func(sess *Session) { sess.Title = "renamed" })
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.False(t, updated.UpdatedAt.Before(before))
}

func TestDeleteCascadesMessages(t *testing.T) {
	kv := memkv.New()
	s := New(kv, kv, bus.New())
	ctx := context.Background()
	sess, _ := s.Create(ctx, CreateInput{})

	require.NoError(t, kv.Write(ctx, storage.Key{"message", sess.ID, "msg_1"}, []byte(`{}`)))
	require.NoError(t, s.Delete(ctx, sess.ID))

	_, err := s.Get(ctx, sess.ID)
	var nfe *NotFoundError
	assert.True(t, errors.As(err, &nfe))

	remaining, err := kv.List(ctx, storage.Key{"message", sess.ID})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestListOrdersByUpdatedAtDescending(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	a, _ := s.Create(ctx, CreateInput{Title: "a"})
	b, _ := s.Create(ctx, CreateInput{Title: "b"})

	// Touch a so it becomes most-recently-updated.
	_, err := s.Update(ctx, a.ID, func(*Session) {})
	require.NoError(t, err)

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
}
