package mcpsource

import (
	"context"
	"sync/atomic"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentcore/internal/tool"
)

func TestAllowedDefaultsToAllWhenAllowEmpty(t *testing.T) {
	cfg := ServerConfig{}
	assert.True(t, allowed(cfg, "anything"))
}

func TestAllowedRespectsAllowList(t *testing.T) {
	cfg := ServerConfig{Allow: []string{"search"}}
	assert.True(t, allowed(cfg, "search"))
	assert.False(t, allowed(cfg, "delete"))
}

func TestAllowedDenyOverridesAllow(t *testing.T) {
	cfg := ServerConfig{Allow: []string{"search"}, Deny: []string{"search"}}
	assert.False(t, allowed(cfg, "search"))
}

func TestPrefixedIDJoinsWithUnderscore(t *testing.T) {
	cfg := ServerConfig{ToolPrefix: "github"}
	assert.Equal(t, "github_search_issues", prefixedID(cfg, "search_issues"))
}

func TestPrefixedIDNoPrefixReturnsBareName(t *testing.T) {
	cfg := ServerConfig{}
	assert.Equal(t, "search_issues", prefixedID(cfg, "search_issues"))
}

func TestConvertInputSchemaRoundTrips(t *testing.T) {
	schema := mcpgo.ToolInputSchema{Type: "object"}
	out := convertInputSchema(schema)
	require.NotNil(t, out)
	assert.Equal(t, "object", out["type"])
}

func TestBridgeToolExecuteRejectsWhenServerDisconnected(t *testing.T) {
	var connected atomic.Bool
	connected.Store(false)

	bt := &BridgeTool{server: "gh", original: "search", id: "gh_search", connected: &connected}
	res, err := bt.Execute(context.Background(), map[string]any{}, tool.Context{})
	require.Error(t, err)
	assert.Empty(t, res.Output)
}

func TestBridgeToolParameterSchemaDefaultsToObjectWhenUnknown(t *testing.T) {
	bt := &BridgeTool{id: "x"}
	schema := bt.ParameterSchema()
	assert.Equal(t, "object", schema["type"])
}

func TestBridgeToolDescriptionFallsBackToServerAndName(t *testing.T) {
	bt := &BridgeTool{server: "gh", original: "search"}
	assert.Contains(t, bt.Description(), "gh")
	assert.Contains(t, bt.Description(), "search")
}

func TestManagerServerStatusEmptyWhenNoneConfigured(t *testing.T) {
	m := NewManager(tool.NewRegistry())
	assert.Empty(t, m.ServerStatus())
}
