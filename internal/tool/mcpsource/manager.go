package mcpsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/agentforge/agentcore/internal/agent"
	"github.com/agentforge/agentcore/internal/tool"
)

// ServerStatus reports one configured server's current connection state,
// for an operator console or health endpoint to display.
type ServerStatus struct {
	Name      string
	Transport Transport
	Connected bool
	ToolCount int
	LastError string
}

type serverState struct {
	cfg ServerConfig

	mu        sync.Mutex
	conn      *connection
	connected atomic.Bool
	toolNames []string
	reconnAtt int
	lastErr   string
	cancel    context.CancelFunc
}

// Manager owns one connection per configured MCP server, discovers each
// server's tools, and registers them into a shared tool.Registry under
// server.ToolPrefix + original-name. For each server that connected in
// Start it runs a background health-check and exponential-backoff
// reconnect loop until Stop; a server whose initial connect failed gets
// no loop and is not retried.
type Manager struct {
	registry *tool.Registry

	mu      sync.RWMutex
	servers map[string]*serverState
}

// NewManager constructs a Manager that registers discovered tools into
// registry.
func NewManager(registry *tool.Registry) *Manager {
	return &Manager{registry: registry, servers: make(map[string]*serverState)}
}

// Start connects to every configured server. A server that fails to
// connect is logged and left in a disconnected state — one bad server
// config never prevents the others, or the rest of the process, from
// starting.
func (m *Manager) Start(ctx context.Context, configs []ServerConfig) {
	for _, cfg := range configs {
		cfg := cfg
		ss := &serverState{cfg: cfg}

		m.mu.Lock()
		m.servers[cfg.Name] = ss
		m.mu.Unlock()

		serverCtx, cancel := context.WithCancel(ctx)
		ss.cancel = cancel

		if err := m.connectServer(serverCtx, ss); err != nil {
			slog.Warn("mcpsource: initial connect failed", "server", cfg.Name, "error", err)
			ss.mu.Lock()
			ss.lastErr = err.Error()
			ss.mu.Unlock()
			continue
		}
		go m.healthLoop(serverCtx, ss)
	}
}

// Stop cancels every server's background loop and closes its connection.
// Its tools are not removed from the registry.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, ss := range m.servers {
		if ss.cancel != nil {
			ss.cancel()
		}
		ss.mu.Lock()
		conn := ss.conn
		toolNames := ss.toolNames
		ss.conn = nil
		ss.toolNames = nil
		ss.mu.Unlock()

		if conn != nil {
			if err := conn.Close(); err != nil {
				slog.Warn("mcpsource: close failed", "server", name, "error", err)
			}
		}
		// The base Registry is last-writer-wins with no removal path;
		// a stopped server's tools stay registered but inert until the
		// process restarts or a later Start call overwrites them.
		_ = toolNames
		ss.connected.Store(false)
	}
}

// ServerStatus reports the current state of every configured server.
func (m *Manager) ServerStatus() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.servers))
	for _, ss := range m.servers {
		ss.mu.Lock()
		out = append(out, ServerStatus{
			Name:      ss.cfg.Name,
			Transport: ss.cfg.Transport,
			Connected: ss.connected.Load(),
			ToolCount: len(ss.toolNames),
			LastError: ss.lastErr,
		})
		ss.mu.Unlock()
	}
	return out
}

func allowed(cfg ServerConfig, name string) bool {
	for _, d := range cfg.Deny {
		if d == name {
			return false
		}
	}
	if len(cfg.Allow) == 0 {
		return true
	}
	for _, a := range cfg.Allow {
		if a == name {
			return true
		}
	}
	return false
}

func prefixedID(cfg ServerConfig, name string) string {
	if cfg.ToolPrefix == "" {
		return name
	}
	return fmt.Sprintf("%s_%s", cfg.ToolPrefix, name)
}

// updateMCPGroup rebuilds the composite "mcp" permission group from the
// tools of every server that has connected and not been stopped (a
// server marked down by the health loop keeps its tools in the group),
// so an agent can write one
// "group:mcp" deny rule instead of naming every external tool.
func (m *Manager) updateMCPGroup() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []string
	for _, ss := range m.servers {
		ss.mu.Lock()
		all = append(all, ss.toolNames...)
		ss.mu.Unlock()
	}
	agent.RegisterGroup("mcp", all)
}
