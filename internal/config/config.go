// Package config loads and hot-reloads agentcore's JSON5 configuration
// file. It keeps the teacher's accessor shape — a single Config value
// guarded by a sync.RWMutex, updated in place by ReplaceFrom so callers
// holding a *Config never need to re-fetch one — but trims the sub-config
// set down to what this server's domain actually has: providers, agent
// defaults/overrides, tools (including MCP servers), the gateway, storage,
// telemetry, and the maintenance sweep's cron expression. Grounded on the
// teacher's internal/config/config.go for the struct/mutex shape; the
// channel (Telegram/Discord/Slack/WhatsApp/Zalo/Feishu), TTS, Tailscale,
// and sandboxed-exec sub-configs it also carries have no home in this
// domain and are dropped rather than carried as dead weight.
package config

import "sync"

// ProviderConfig holds one LLM provider's credentials and base URL.
// APIKey is never serialized — it is read from the environment only
// (see ApplyEnvOverrides), so a config file on disk or a hot-reload
// event never leaks it.
type ProviderConfig struct {
	APIKey  string `json:"-"`
	APIBase string `json:"apiBase,omitempty"`
}

// ProvidersConfig lists the credentials for every LLM provider
// internal/provider.Registry can register.
type ProvidersConfig struct {
	Anthropic  ProviderConfig `json:"anthropic"`
	OpenAI     ProviderConfig `json:"openai"`
	OpenRouter ProviderConfig `json:"openrouter"`
	Groq       ProviderConfig `json:"groq"`
	Gemini     ProviderConfig `json:"gemini"`
}

// HasAnyProvider reports whether at least one provider has credentials,
// used by the serve command to decide whether to warn on startup.
func (p ProvidersConfig) HasAnyProvider() bool {
	return p.Anthropic.APIKey != "" || p.OpenAI.APIKey != "" || p.OpenRouter.APIKey != "" ||
		p.Groq.APIKey != "" || p.Gemini.APIKey != ""
}

// AgentDefaults are the fallback values an AgentSpec inherits when it
// doesn't override a field.
type AgentDefaults struct {
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	MaxTokens   int      `json:"maxTokens"`
	Temperature float64  `json:"temperature"`
	MaxSteps    int      `json:"maxSteps"`
	System      string   `json:"system,omitempty"`
	Permissions []string `json:"permissions,omitempty"` // "tool:action" pairs, e.g. "bash:deny"
}

// AgentSpec is a named agent's configuration, overriding AgentDefaults
// field by field. A zero value for a field means "inherit the default".
type AgentSpec struct {
	Mode            string   `json:"mode,omitempty"` // "primary", "subagent", or "all"
	Hidden          bool     `json:"hidden,omitempty"`
	Prompt          string   `json:"prompt,omitempty"`
	Provider        string   `json:"provider,omitempty"`
	Model           string   `json:"model,omitempty"`
	MaxTokens       int      `json:"maxTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxSteps        int      `json:"maxSteps,omitempty"`
	PauseOnQuestion bool     `json:"pauseOnQuestion,omitempty"`
	Permissions     []string `json:"permissions,omitempty"`
}

// AgentsConfig is the agent catalog's configuration: shared defaults
// plus a named list of per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// MCPServerConfig describes one configured MCP server. The serve
// command's buildMCPServerConfigs converts it into an
// internal/tool/mcpsource.ServerConfig (TimeoutSec becomes Timeout;
// Enabled is applied by MCPServers and not carried over).
type MCPServerConfig struct {
	Transport  string            `json:"transport"` // "stdio", "sse", "streamable-http"
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	URL        string            `json:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Enabled    *bool             `json:"enabled,omitempty"`
	ToolPrefix string            `json:"toolPrefix,omitempty"`
	Allow      []string          `json:"allow,omitempty"`
	Deny       []string          `json:"deny,omitempty"`
	TimeoutSec int               `json:"timeoutSec,omitempty"`
}

// IsEnabled defaults to true when Enabled is unset.
func (c MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// WebFetchConfig configures the built-in web-fetch tool.
type WebFetchConfig struct {
	Enabled    bool `json:"enabled"`
	TimeoutSec int  `json:"timeoutSec,omitempty"`
	MaxBytes   int  `json:"maxBytes,omitempty"`
}

// WebSearchConfig configures the built-in web-search tool's provider
// chain. BraveAPIKey is a secret, sourced only from the environment.
type WebSearchConfig struct {
	Enabled      bool   `json:"enabled"`
	BraveEnabled bool   `json:"braveEnabled,omitempty"`
	BraveAPIKey  string `json:"-"`
	DDGEnabled   bool   `json:"ddgEnabled,omitempty"`
}

// ToolsConfig configures which tools are available and how they behave.
type ToolsConfig struct {
	Profile    string                      `json:"profile,omitempty"` // "full", "readonly", "none"
	Allow      []string                    `json:"allow,omitempty"`
	Deny       []string                    `json:"deny,omitempty"`
	WebFetch   WebFetchConfig              `json:"webFetch"`
	WebSearch  WebSearchConfig             `json:"webSearch"`
	McpServers map[string]*MCPServerConfig `json:"mcpServers,omitempty"`
}

// GatewayConfig configures the HTTP/WS/SSE gateway surface.
type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	Token           string   `json:"-"` // bearer token, env only
	AllowedOrigins  []string `json:"allowedOrigins,omitempty"`
	MaxMessageChars int      `json:"maxMessageChars,omitempty"`
	RateLimitRPM    int      `json:"rateLimitRpm,omitempty"`
}

// DatabaseConfig configures the session/message/bus storage backend.
type DatabaseConfig struct {
	Driver       string `json:"driver"` // "sqlite" or "postgres"
	SQLitePath   string `json:"sqlitePath,omitempty"`
	PostgresDSN  string `json:"-"` // env only, never serialized
	MaxOpenConns int    `json:"maxOpenConns,omitempty"`
}

// IsManagedMode reports whether the database is a managed Postgres
// instance rather than the embedded SQLite default.
func (d DatabaseConfig) IsManagedMode() bool {
	return d.Driver == "postgres"
}

// TelemetryConfig configures internal/telemetry.New. Field names
// mirror telemetry.Config directly so the serve command can copy one
// into the other without renaming.
type TelemetryConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName,omitempty"`
	ServiceVersion string  `json:"serviceVersion,omitempty"`
	Environment    string  `json:"environment,omitempty"`
	Endpoint       string  `json:"endpoint,omitempty"`
	Protocol       string  `json:"protocol,omitempty"`
	Insecure       bool    `json:"insecure,omitempty"`
	SamplingRate   float64 `json:"samplingRate,omitempty"`
}

// CronConfig tunes internal/maintenance.Scheduler.
type CronConfig struct {
	Expr string `json:"expr,omitempty"`
}

// Config is the root configuration value. One instance is shared
// process-wide; Load returns a fresh Config, and the hot-reload Watcher
// swaps newly loaded values into the shared one via ReplaceFrom so every
// holder of a *Config observes a reload without re-fetching.
type Config struct {
	Providers ProvidersConfig `json:"providers"`
	Agents    AgentsConfig    `json:"agents"`
	Tools     ToolsConfig     `json:"tools"`
	Gateway   GatewayConfig   `json:"gateway"`
	Database  DatabaseConfig  `json:"database"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Cron      CronConfig      `json:"cron"`

	mu sync.RWMutex
}

// ReplaceFrom overwrites c's fields with src's, preserving c's mutex and
// its env-sourced secrets. Used by the hot-reload watcher to swap in
// newly loaded, non-secret values without invalidating pointers callers
// already hold to c.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	secretProviders := c.Providers
	secretToken := c.Gateway.Token
	secretDSN := c.Database.PostgresDSN
	secretBrave := c.Tools.WebSearch.BraveAPIKey

	c.Agents = src.Agents
	c.Tools = src.Tools
	c.Gateway = src.Gateway
	c.Database = src.Database
	c.Telemetry = src.Telemetry
	c.Cron = src.Cron
	c.Providers = src.Providers

	// Secrets are env-sourced only; a reload never comes from the
	// environment, so keep what was already applied at startup.
	c.Providers.Anthropic.APIKey = secretProviders.Anthropic.APIKey
	c.Providers.OpenAI.APIKey = secretProviders.OpenAI.APIKey
	c.Providers.OpenRouter.APIKey = secretProviders.OpenRouter.APIKey
	c.Providers.Groq.APIKey = secretProviders.Groq.APIKey
	c.Providers.Gemini.APIKey = secretProviders.Gemini.APIKey
	c.Gateway.Token = secretToken
	c.Database.PostgresDSN = secretDSN
	c.Tools.WebSearch.BraveAPIKey = secretBrave
}

// Snapshot returns a copy of c's current values, safe to read without
// holding c's mutex afterward.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	return cp
}

// ResolveAgent merges AgentDefaults with the named AgentSpec override,
// returning the effective settings for that agent. Unknown IDs resolve
// to the bare defaults.
func (c *Config) ResolveAgent(agentID string) AgentSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	temp := d.Temperature
	spec := AgentSpec{
		Mode:        "primary",
		Prompt:      d.System,
		Provider:    d.Provider,
		Model:       d.Model,
		MaxTokens:   d.MaxTokens,
		Temperature: &temp,
		MaxSteps:    d.MaxSteps,
		Permissions: d.Permissions,
	}
	override, ok := c.Agents.List[agentID]
	if !ok {
		return spec
	}
	if override.Mode != "" {
		spec.Mode = override.Mode
	}
	spec.Hidden = override.Hidden
	if override.Prompt != "" {
		spec.Prompt = override.Prompt
	}
	if override.Provider != "" {
		spec.Provider = override.Provider
	}
	if override.Model != "" {
		spec.Model = override.Model
	}
	if override.MaxTokens != 0 {
		spec.MaxTokens = override.MaxTokens
	}
	if override.Temperature != nil {
		spec.Temperature = override.Temperature
	}
	if override.MaxSteps != 0 {
		spec.MaxSteps = override.MaxSteps
	}
	spec.PauseOnQuestion = override.PauseOnQuestion
	if len(override.Permissions) > 0 {
		spec.Permissions = override.Permissions
	}
	return spec
}

// ResolveDefaultAgentID returns the ID of a non-hidden listed agent whose
// mode is "primary", "all" or unset, or "" when the list has none —
// callers fall back to a built-in default agent in that case. When
// several agents qualify, which one is returned is not defined.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, spec := range c.Agents.List {
		if !spec.Hidden && (spec.Mode == "" || spec.Mode == "primary" || spec.Mode == "all") {
			return id
		}
	}
	return ""
}

// TelemetryOptions returns the effective telemetry config, or the zero
// value (disabled) when Telemetry.Enabled is false.
func (c *Config) TelemetryOptions() TelemetryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.Telemetry.Enabled {
		return TelemetryConfig{}
	}
	return c.Telemetry
}

// MCPServers returns the enabled MCP server configs keyed by name.
func (c *Config) MCPServers() map[string]*MCPServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*MCPServerConfig, len(c.Tools.McpServers))
	for name, srv := range c.Tools.McpServers {
		if srv.IsEnabled() {
			out[name] = srv
		}
	}
	return out
}
