package mcpsource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/agentforge/agentcore/internal/agent"
)

// connection holds the live mcp-go client for one server.
type connection struct {
	client *mcpclient.Client
}

func (c *connection) Close() error {
	return c.client.Close()
}

func newClient(cfg ServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case TransportStdio, "":
		return mcpclient.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
	case TransportSSE:
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)
	case TransportStreamableHTTP:
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
	default:
		return nil, fmt.Errorf("unsupported mcp transport %q", cfg.Transport)
	}
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// connectServer creates a client for ss's server, runs the MCP
// initialize handshake, discovers its tools, and registers every
// allowed tool as a BridgeTool.
func (m *Manager) connectServer(ctx context.Context, ss *serverState) error {
	cfg := ss.cfg

	client, err := newClient(cfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	// stdio auto-starts its subprocess transport; SSE and streamable-http
	// need an explicit Start to open the connection.
	if cfg.Transport != TransportStdio && cfg.Transport != "" {
		if err := client.Start(ctx); err != nil {
			client.Close()
			return fmt.Errorf("start transport: %w", err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "agentcore", Version: "1.0.0"}

	if _, err := client.Initialize(ctx, initReq); err != nil {
		client.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	listResp, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		client.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	ss.mu.Lock()
	ss.conn = &connection{client: client}
	ss.mu.Unlock()
	ss.connected.Store(true)

	toolNames := make([]string, 0, len(listResp.Tools))
	for _, mcpTool := range listResp.Tools {
		if !allowed(cfg, mcpTool.Name) {
			continue
		}
		registryID := prefixedID(cfg, mcpTool.Name)
		if _, exists := m.registry.Lookup(registryID); exists {
			slog.Warn("mcpsource: tool name collision, overwriting", "server", cfg.Name, "tool", registryID)
		}
		bridge := NewBridgeTool(cfg.Name, mcpTool, client, registryID, &ss.connected)
		m.registry.Register(bridge)
		toolNames = append(toolNames, registryID)
	}

	ss.mu.Lock()
	ss.toolNames = toolNames
	ss.reconnAtt = 0
	ss.lastErr = ""
	ss.mu.Unlock()

	if len(toolNames) > 0 {
		agent.RegisterGroup("mcp:"+cfg.Name, toolNames)
		m.updateMCPGroup()
	}

	slog.Info("mcpsource: connected", "server", cfg.Name, "transport", cfg.Transport, "tools", len(toolNames))
	return nil
}

// healthLoop pings ss's server periodically, and on failure hands off
// to tryReconnect with exponential backoff.
func (m *Manager) healthLoop(ctx context.Context, ss *serverState) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ss.mu.Lock()
			conn := ss.conn
			ss.mu.Unlock()
			if conn == nil {
				continue
			}

			err := conn.client.Ping(ctx)
			if err == nil || strings.Contains(strings.ToLower(err.Error()), "method not found") {
				continue
			}

			slog.Warn("mcpsource: health check failed", "server", ss.cfg.Name, "error", err)
			ss.connected.Store(false)
			ss.mu.Lock()
			ss.lastErr = err.Error()
			ss.mu.Unlock()
			m.tryReconnect(ctx, ss)
		}
	}
}

// tryReconnect makes one connectServer attempt after an exponential
// backoff (doubling from initialBackoff per attempt, capped at
// maxBackoff). Once maxReconnectAttempts attempts have failed it stops
// trying; the attempt count is reset only by a successful connect.
func (m *Manager) tryReconnect(ctx context.Context, ss *serverState) {
	ss.mu.Lock()
	if ss.reconnAtt >= maxReconnectAttempts {
		ss.lastErr = fmt.Sprintf("max reconnect attempts (%d) reached", maxReconnectAttempts)
		ss.mu.Unlock()
		slog.Error("mcpsource: reconnect exhausted", "server", ss.cfg.Name)
		return
	}
	ss.reconnAtt++
	attempt := ss.reconnAtt
	ss.mu.Unlock()

	backoff := initialBackoff * time.Duration(1<<(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	slog.Info("mcpsource: reconnecting", "server", ss.cfg.Name, "attempt", attempt, "backoff", backoff)

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	if err := m.connectServer(ctx, ss); err == nil {
		slog.Info("mcpsource: reconnected", "server", ss.cfg.Name)
		return
	}
}
