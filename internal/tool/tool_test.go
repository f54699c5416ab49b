package tool

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{}

func (echoTool) ID() string          { return "echo" }
func (echoTool) Description() string { return "echoes input" }
func (echoTool) ParameterSchema() map[string]any {
	return SchemaFor(struct {
		Text string `json:"text"`
	}{})
}
func (echoTool) Execute(_ context.Context, args map[string]any, _ Context) (Result, error) {
	text, _ := args["text"].(string)
	return Result{Title: "echo", Output: text}, nil
}

type failingTool struct{}

func (failingTool) ID() string                      { return "fail" }
func (failingTool) Description() string             { return "always errors" }
func (failingTool) ParameterSchema() map[string]any { return map[string]any{"type": "object"} }
func (failingTool) Execute(_ context.Context, _ map[string]any, _ Context) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}

func TestRegisterLastWriterWins(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool{})
	first, _ := r.Lookup("echo")
	r.Register(echoTool{})
	second, _ := r.Lookup("echo")
	assert.Equal(t, first.ID(), second.ID())
	assert.Len(t, r.List(), 1)
}

func TestExecuteUnregisteredReturnsError(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", nil, Context{})
	assert.Error(t, err)
}

func TestExecuteTruncatesLongOutput(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool{})

	long := strings.Repeat("a", DefaultMaxOutput+1000)
	res, err := r.Execute(context.Background(), "echo", map[string]any{"text": long}, Context{})
	require.NoError(t, err)
	assert.True(t, len(res.Output) < len(long))
	assert.Equal(t, true, res.Metadata["truncated"])
}

func TestExecuteLeavesShortOutputAlone(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool{})
	res, err := r.Execute(context.Background(), "echo", map[string]any{"text": "short"}, Context{})
	require.NoError(t, err)
	assert.Equal(t, "[echo]\nshort", res.Output)
}

func TestExecuteUnregisteredAndToolErrorAreDistinctMessages(t *testing.T) {
	r := NewRegistry()
	r.Register(failingTool{})

	_, notRegisteredErr := r.Execute(context.Background(), "missing", nil, Context{})
	require.Error(t, notRegisteredErr)

	res, err := r.Execute(context.Background(), "fail", nil, Context{})
	require.NoError(t, err)
	assert.Equal(t, "Error executing tool: boom", res.Output)
	assert.NotEqual(t, notRegisteredErr.Error(), res.Output)
}
