package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrefersExplicitProviderID(t *testing.T) {
	r := NewRegistry()
	f := NewFake()
	r.Register(f, 0)
	r.SetDefault("other")

	p, err := r.Resolve("fake", "claude-3")
	require.NoError(t, err)
	assert.Equal(t, "fake", p.ID())
}

func TestResolveInfersProviderFromModelPrefix(t *testing.T) {
	r := NewRegistry()
	litellm := NewFake()
	litellm.IDValue = "litellm"
	r.Register(litellm, 0)

	p, err := r.Resolve("", "zai/some-model")
	require.NoError(t, err)
	assert.Equal(t, "litellm", p.ID())
}

func TestResolveFallsBackToDefault(t *testing.T) {
	r := NewRegistry()
	f := NewFake()
	r.Register(f, 0)
	r.SetDefault("fake")

	p, err := r.Resolve("", "unprefixed-model")
	require.NoError(t, err)
	assert.Equal(t, "fake", p.ID())
}

func TestResolveErrorsWhenNothingRegistered(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("", "unprefixed-model")
	assert.Error(t, err)
}

func TestStreamReturnsErrorWhenNoProviderResolved(t *testing.T) {
	r := NewRegistry()
	_, err := r.Stream(context.Background(), "", "unprefixed-model", StreamRequest{})
	assert.Error(t, err)
}

func TestFakeProviderEnforcesStopReasonOverride(t *testing.T) {
	f := NewFake(
		StreamChunk{Type: ChunkToolCall, ToolCall: ToolCall{ID: "c1", Name: "echo"}},
		StreamChunk{Type: ChunkDone, StopReason: StopEndTurn},
	)

	ch, err := f.Stream(context.Background(), StreamRequest{})
	require.NoError(t, err)

	var last StreamChunk
	for c := range ch {
		last = c
	}
	assert.Equal(t, StopToolCalls, last.StopReason)
}
