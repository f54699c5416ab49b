package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentcore/internal/agent"
	"github.com/agentforge/agentcore/internal/bus"
	"github.com/agentforge/agentcore/internal/message"
	"github.com/agentforge/agentcore/internal/provider"
	"github.com/agentforge/agentcore/internal/session"
	"github.com/agentforge/agentcore/internal/storage/memkv"
)

func newStores(t *testing.T) (*session.Store, *message.Store, *bus.Bus) {
	t.Helper()
	b := bus.New()
	kv := memkv.New()
	msgKV := memkv.New()
	messages := message.New(msgKV, b)
	sessions := session.New(kv, msgKV, b)
	return sessions, messages, b
}

// bigToolOutput returns a string whose token.Estimate is roughly n.
func bigToolOutput(tokens int) string {
	return strings.Repeat("x", tokens*4)
}

func TestPruneSkipsLatestTwoTurns(t *testing.T) {
	_, messages, _ := newStores(t)
	ctx := context.Background()
	sessionID := "sess-prune-1"

	// Turn 0 (latest): one assistant message with a huge tool result —
	// must never be touched since it's within the protected turns.
	_, err := messages.CreateUser(ctx, sessionID, "question")
	require.NoError(t, err)
	asst, err := messages.CreateAssistant(ctx, sessionID, "p", "m", false)
	require.NoError(t, err)
	_, err = messages.AddPart(ctx, sessionID, asst.ID, &message.Part{
		Type: message.PartToolResult, ToolName: "bash", ToolStatus: message.ToolCompleted,
		ToolOutput: bigToolOutput(PruneProtect * 2),
	})
	require.NoError(t, err)

	result, err := Prune(ctx, messages, sessionID)
	require.NoError(t, err)
	assert.Nil(t, result)

	got, err := messages.Get(ctx, sessionID, asst.ID)
	require.NoError(t, err)
	assert.NotEqual(t, pruneMarker, got.Parts[0].ToolOutput)
}

func TestPruneMarksOldToolOutputPastProtectBudget(t *testing.T) {
	_, messages, _ := newStores(t)
	ctx := context.Background()
	sessionID := "sess-prune-2"

	var oldPartMsgID, oldPartID string

	// Three older turns (2, 3, 4) each with a tool_result large enough
	// that, cumulatively, the scan passes PruneProtect.
	for i := 0; i < 5; i++ {
		_, err := messages.CreateUser(ctx, sessionID, "turn")
		require.NoError(t, err)
		asst, err := messages.CreateAssistant(ctx, sessionID, "p", "m", false)
		require.NoError(t, err)
		part, err := messages.AddPart(ctx, sessionID, asst.ID, &message.Part{
			Type: message.PartToolResult, ToolName: "bash", ToolStatus: message.ToolCompleted,
			ToolOutput: bigToolOutput(PruneProtect),
		})
		require.NoError(t, err)
		if i == 0 {
			oldPartMsgID, oldPartID = asst.ID, part.ID
		}
	}

	result, err := Prune(ctx, messages, sessionID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Greater(t, result.PrunedCount, 0)
	assert.Greater(t, result.TokensSaved, PruneMinimum)

	got, err := messages.Get(ctx, sessionID, oldPartMsgID)
	require.NoError(t, err)
	var found bool
	for _, p := range got.Parts {
		if p.ID == oldPartID {
			found = true
			assert.Equal(t, pruneMarker, p.ToolOutput)
		}
	}
	assert.True(t, found)
}

func TestPruneProtectsListedTools(t *testing.T) {
	_, messages, _ := newStores(t)
	ctx := context.Background()
	sessionID := "sess-prune-3"

	for i := 0; i < 5; i++ {
		_, err := messages.CreateUser(ctx, sessionID, "turn")
		require.NoError(t, err)
		asst, err := messages.CreateAssistant(ctx, sessionID, "p", "m", false)
		require.NoError(t, err)
		_, err = messages.AddPart(ctx, sessionID, asst.ID, &message.Part{
			Type: message.PartToolResult, ToolName: "skill", ToolStatus: message.ToolCompleted,
			ToolOutput: bigToolOutput(PruneProtect),
		})
		require.NoError(t, err)
	}

	result, err := Prune(ctx, messages, sessionID)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestPruneHaltsAtSummaryMessage(t *testing.T) {
	_, messages, _ := newStores(t)
	ctx := context.Background()
	sessionID := "sess-prune-4"

	// Oldest: a summary message with a huge tool result that must never
	// be reached because the scan halts before it.
	summaryAsst, err := messages.CreateAssistant(ctx, sessionID, "p", "m", true)
	require.NoError(t, err)
	summaryPart, err := messages.AddPart(ctx, sessionID, summaryAsst.ID, &message.Part{
		Type: message.PartToolResult, ToolName: "bash", ToolStatus: message.ToolCompleted,
		ToolOutput: bigToolOutput(PruneProtect * 3),
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := messages.CreateUser(ctx, sessionID, "turn")
		require.NoError(t, err)
		asst, err := messages.CreateAssistant(ctx, sessionID, "p", "m", false)
		require.NoError(t, err)
		_, err = messages.AddPart(ctx, sessionID, asst.ID, &message.Part{
			Type: message.PartToolResult, ToolName: "bash", ToolStatus: message.ToolCompleted,
			ToolOutput: bigToolOutput(PruneProtect),
		})
		require.NoError(t, err)
	}

	_, err = Prune(ctx, messages, sessionID)
	require.NoError(t, err)

	got, err := messages.Get(ctx, sessionID, summaryAsst.ID)
	require.NoError(t, err)
	for _, p := range got.Parts {
		if p.ID == summaryPart.ID {
			assert.NotEqual(t, pruneMarker, p.ToolOutput)
		}
	}
}

func TestCompactProducesSummaryMessage(t *testing.T) {
	sessions, messages, b := newStores(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, session.CreateInput{ProviderID: "fake", ModelID: "fake-model"})
	require.NoError(t, err)
	_, err = messages.CreateUser(ctx, sess.ID, "do the thing")
	require.NoError(t, err)
	asst, err := messages.CreateAssistant(ctx, sess.ID, "fake", "fake-model", false)
	require.NoError(t, err)
	_, err = messages.AddPart(ctx, sess.ID, asst.ID, &message.Part{Type: message.PartText, Content: "done"})
	require.NoError(t, err)

	providers := provider.NewRegistry()
	providers.Register(provider.NewFake(
		provider.StreamChunk{Type: provider.ChunkText, Text: "Summary: "},
		provider.StreamChunk{Type: provider.ChunkText, Text: "did the thing."},
		provider.StreamChunk{Type: provider.ChunkDone, StopReason: provider.StopEndTurn},
	), 0)
	providers.SetDefault("fake")

	agents := agent.NewCatalog()

	result, err := Compact(ctx, sessions, messages, providers, agents, b, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Summary: did the thing.", result.Summary)
	assert.Equal(t, 2, result.MessagesCompacted)

	history, err := messages.List(ctx, sess.ID, 0)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.True(t, last.Summary)
	require.Len(t, last.Parts, 1)
	assert.Equal(t, "Summary: did the thing.", last.Parts[0].Content)
}

func TestCompactFallsBackOnStreamError(t *testing.T) {
	sessions, messages, b := newStores(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, session.CreateInput{ProviderID: "fake", ModelID: "fake-model"})
	require.NoError(t, err)
	_, err = messages.CreateUser(ctx, sess.ID, "hello")
	require.NoError(t, err)

	providers := provider.NewRegistry()
	providers.Register(provider.NewFake(
		provider.StreamChunk{Type: provider.ChunkError, Err: "provider exploded"},
	), 0)
	providers.SetDefault("fake")

	agents := agent.NewCatalog()

	result, err := Compact(ctx, sessions, messages, providers, agents, b, sess.ID)
	require.NoError(t, err)
	assert.Contains(t, result.Summary, "[Conversation Summary")
}

func TestCompactReturnsNilWhenNoProviderRegistered(t *testing.T) {
	sessions, messages, b := newStores(t)
	ctx := context.Background()

	sess, err := sessions.Create(ctx, session.CreateInput{ProviderID: "missing", ModelID: "missing-model"})
	require.NoError(t, err)
	_, err = messages.CreateUser(ctx, sess.ID, "hello")
	require.NoError(t, err)

	providers := provider.NewRegistry()
	agents := agent.NewCatalog()

	result, err := Compact(ctx, sessions, messages, providers, agents, b, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestCheckBeforePromptRunsOverflowAndPruneConcurrently(t *testing.T) {
	_, messages, _ := newStores(t)
	ctx := context.Background()
	sessionID := "sess-check-1"

	for i := 0; i < 5; i++ {
		_, err := messages.CreateUser(ctx, sessionID, "turn")
		require.NoError(t, err)
		asst, err := messages.CreateAssistant(ctx, sessionID, "p", "m", false)
		require.NoError(t, err)
		_, err = messages.AddPart(ctx, sessionID, asst.ID, &message.Part{
			Type: message.PartToolResult, ToolName: "bash", ToolStatus: message.ToolCompleted,
			ToolOutput: bigToolOutput(PruneProtect),
		})
		require.NoError(t, err)
	}

	result, err := CheckBeforePrompt(ctx, messages, sessionID, provider.ModelInfo{ContextLimit: 1000, OutputLimit: 100})
	require.NoError(t, err)
	assert.True(t, result.Overflow)
	require.NotNil(t, result.Pruned)
	assert.Greater(t, result.Pruned.PrunedCount, 0)
}

func TestShouldCompactThreshold(t *testing.T) {
	history := make([]*message.Message, 49)
	assert.False(t, ShouldCompact(history))
	history = append(history, &message.Message{})
	assert.True(t, ShouldCompact(history))
}
