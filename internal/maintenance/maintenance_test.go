package maintenance

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentcore/internal/agent"
	"github.com/agentforge/agentcore/internal/bus"
	"github.com/agentforge/agentcore/internal/compaction"
	"github.com/agentforge/agentcore/internal/message"
	"github.com/agentforge/agentcore/internal/provider"
	"github.com/agentforge/agentcore/internal/session"
	"github.com/agentforge/agentcore/internal/storage/memkv"
)

func newScheduler(t *testing.T) (*Scheduler, *session.Store, *message.Store) {
	t.Helper()
	b := bus.New()
	kv := memkv.New()
	msgKV := memkv.New()
	messages := message.New(msgKV, b)
	sessions := session.New(kv, msgKV, b)

	providers := provider.NewRegistry()
	providers.Register(provider.NewFake(
		provider.StreamChunk{Type: provider.ChunkText, Text: "summary text"},
		provider.StreamChunk{Type: provider.ChunkDone, StopReason: provider.StopEndTurn},
	), 0)
	providers.SetDefault("fake")

	agents := agent.NewCatalog()

	s := New(sessions, messages, providers, agents, b)
	return s, sessions, messages
}

func bigOutput(tokens int) string {
	return strings.Repeat("x", tokens*4)
}

func TestSweepSkipsSessionsWithNoHistory(t *testing.T) {
	s, sessions, _ := newScheduler(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, session.CreateInput{ProviderID: "fake", ModelID: "fake-model"})
	require.NoError(t, err)

	require.NoError(t, s.sweepSession(ctx, sess))
}

func TestSweepPrunesOldToolOutputPastProtectBudget(t *testing.T) {
	s, sessions, messages := newScheduler(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, session.CreateInput{ProviderID: "fake", ModelID: "fake-model"})
	require.NoError(t, err)

	var oldMsgID, oldPartID string
	for i := 0; i < 5; i++ {
		_, err := messages.CreateUser(ctx, sess.ID, "turn")
		require.NoError(t, err)
		asst, err := messages.CreateAssistant(ctx, sess.ID, "fake", "fake-model", false)
		require.NoError(t, err)
		part, err := messages.AddPart(ctx, sess.ID, asst.ID, &message.Part{
			Type: message.PartToolResult, ToolName: "bash", ToolStatus: message.ToolCompleted,
			ToolOutput: bigOutput(compaction.PruneProtect),
		})
		require.NoError(t, err)
		if i == 0 {
			oldMsgID, oldPartID = asst.ID, part.ID
		}
	}

	require.NoError(t, s.sweepSession(ctx, sess))

	got, err := messages.Get(ctx, sess.ID, oldMsgID)
	require.NoError(t, err)
	var found bool
	for _, p := range got.Parts {
		if p.ID == oldPartID {
			found = true
			assert.Equal(t, "[pruned]", p.ToolOutput)
		}
	}
	assert.True(t, found)
}

func TestSweepCompactsWhenMessageCountThresholdReached(t *testing.T) {
	s, sessions, messages := newScheduler(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, session.CreateInput{ProviderID: "fake", ModelID: "fake-model"})
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		_, err := messages.CreateUser(ctx, sess.ID, "turn")
		require.NoError(t, err)
		_, err = messages.CreateAssistant(ctx, sess.ID, "fake", "fake-model", false)
		require.NoError(t, err)
	}

	require.NoError(t, s.sweepSession(ctx, sess))

	history, err := messages.List(ctx, sess.ID, 0)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.True(t, last.Summary)
}

func TestSweepLeavesShortSessionUntouched(t *testing.T) {
	s, sessions, messages := newScheduler(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, session.CreateInput{ProviderID: "fake", ModelID: "fake-model"})
	require.NoError(t, err)

	_, err = messages.CreateUser(ctx, sess.ID, "hi")
	require.NoError(t, err)
	asst, err := messages.CreateAssistant(ctx, sess.ID, "fake", "fake-model", false)
	require.NoError(t, err)
	_, err = messages.AddPart(ctx, sess.ID, asst.ID, &message.Part{Type: message.PartText, Content: "hello"})
	require.NoError(t, err)

	require.NoError(t, s.sweepSession(ctx, sess))

	history, err := messages.List(ctx, sess.ID, 0)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.False(t, last.Summary)
}

func TestSweepContinuesPastOneSessionFailure(t *testing.T) {
	s, sessions, messages := newScheduler(t)
	ctx := context.Background()

	bad, err := sessions.Create(ctx, session.CreateInput{ProviderID: "unregistered", ModelID: "fake-model"})
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		_, err := messages.CreateUser(ctx, bad.ID, "turn")
		require.NoError(t, err)
		_, err = messages.CreateAssistant(ctx, bad.ID, "unregistered", "fake-model", false)
		require.NoError(t, err)
	}

	good, err := sessions.Create(ctx, session.CreateInput{ProviderID: "fake", ModelID: "fake-model"})
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		_, err := messages.CreateUser(ctx, good.ID, "turn")
		require.NoError(t, err)
		_, err = messages.CreateAssistant(ctx, good.ID, "fake", "fake-model", false)
		require.NoError(t, err)
	}

	// sweep shouldn't panic or stop early when one session's provider
	// can't resolve (Compact returns no result for that session rather
	// than erroring, but the sweep loop must tolerate a failure either way).
	s.sweep(ctx)

	history, err := messages.List(ctx, good.ID, 0)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.True(t, last.Summary)
}

func TestDefaultExprIsValidCronExpression(t *testing.T) {
	s, _, _ := newScheduler(t)
	due, err := s.gron.IsDue(DefaultExpr)
	require.NoError(t, err)
	_ = due // result depends on wall clock; only validity matters here
}
