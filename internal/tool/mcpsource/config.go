// Package mcpsource discovers tools from configured MCP (Model Context
// Protocol) servers and registers them into the same tool.Registry the
// built-in tools use — a second Tool Registry provider alongside the
// non-interactive tools, demonstrating the registry's pluggability.
// Grounded on the teacher's internal/mcp package (Manager, per-server
// connection state, health-check/reconnect loop); the teacher's own
// BridgeTool type was referenced throughout that package but never
// defined anywhere in the retrieved source, so BridgeTool here is built
// fresh against mark3labs/mcp-go's CallTool/ListTools surface, following
// the same call shapes used by the teacher's manager_connect.go and
// mirrored independently by another pack repo's MCP toolset.
package mcpsource

import "time"

// Transport names one of the MCP transports mcp-go supports.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// ServerConfig describes one configured MCP server.
type ServerConfig struct {
	Name      string
	Transport Transport

	// stdio
	Command string
	Args    []string
	Env     map[string]string

	// sse / streamable-http
	URL     string
	Headers map[string]string

	// ToolPrefix is prepended to every discovered tool's registry ID
	// (e.g. "github" + "search_issues" -> "github_search_issues"), so
	// that two servers exposing a same-named tool don't collide.
	ToolPrefix string

	// Allow/Deny filter which of the server's discovered tools are
	// actually registered. Deny takes priority over Allow. Empty Allow
	// means "all tools except those in Deny".
	Allow []string
	Deny  []string

	Timeout time.Duration
}

func (c ServerConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)
