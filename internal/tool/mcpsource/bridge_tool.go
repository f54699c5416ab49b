package mcpsource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/agentforge/agentcore/internal/tool"
)

// BridgeTool wraps one tool discovered on an MCP server as a tool.Tool,
// so the Tool Registry never needs to know a tool's execution crosses a
// process boundary. connected is a pointer into the owning server's
// connection-state flag: when the health loop marks a server down,
// every BridgeTool for it starts refusing calls immediately rather than
// hanging on a dead client.
type BridgeTool struct {
	server    string
	original  string
	id        string
	desc      string
	schema    map[string]any
	client    *mcpclient.Client
	connected *atomic.Bool
}

// NewBridgeTool constructs a BridgeTool for one MCP tool discovered on
// server. registryID is the prefixed name it's registered under
// (server.ToolPrefix + original name); original is the bare name the
// MCP server itself knows it by, used in every CallTool request.
func NewBridgeTool(server string, mcpTool mcpgo.Tool, client *mcpclient.Client, registryID string, connected *atomic.Bool) *BridgeTool {
	return &BridgeTool{
		server:    server,
		original:  mcpTool.Name,
		id:        registryID,
		desc:      mcpTool.Description,
		schema:    convertInputSchema(mcpTool.InputSchema),
		client:    client,
		connected: connected,
	}
}

func (b *BridgeTool) ID() string          { return b.id }
func (b *BridgeTool) OriginalName() string { return b.original }
func (b *BridgeTool) Server() string       { return b.server }

func (b *BridgeTool) Description() string {
	if b.desc == "" {
		return fmt.Sprintf("MCP tool %q from server %q", b.original, b.server)
	}
	return b.desc
}

func (b *BridgeTool) ParameterSchema() map[string]any {
	if b.schema == nil {
		return map[string]any{"type": "object"}
	}
	return b.schema
}

func (b *BridgeTool) Execute(ctx context.Context, args map[string]any, _ tool.Context) (tool.Result, error) {
	if b.connected != nil && !b.connected.Load() {
		return tool.Result{}, fmt.Errorf("mcp server %q is disconnected", b.server)
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.original
	req.Params.Arguments = args

	resp, err := b.client.CallTool(ctx, req)
	if err != nil {
		return tool.Result{}, fmt.Errorf("mcp call %s/%s: %w", b.server, b.original, err)
	}

	texts := make([]string, 0, len(resp.Content))
	for _, c := range resp.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	output := strings.Join(texts, "\n")

	if resp.IsError {
		if output == "" {
			output = "unknown error from MCP tool"
		}
		return tool.Result{Title: b.id, Output: output, Metadata: map[string]any{"mcp_error": true}}, nil
	}

	return tool.Result{Title: b.id, Output: output}, nil
}

// convertInputSchema round-trips mcp-go's typed schema into a plain map,
// since tool.Tool's contract wants ParameterSchema as map[string]any and
// mcp-go's InputSchema is already JSON-Schema shaped.
func convertInputSchema(schema mcpgo.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
