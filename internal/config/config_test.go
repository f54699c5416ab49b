package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentcore/internal/bus"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json5"))
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Agents.Defaults.Provider)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadParsesJSON5WithCommentsAndTrailingCommas(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	body := `{
  // trailing comma and a comment, valid JSON5 but not JSON
  agents: {
    defaults: { provider: "openai", model: "gpt-5", maxTokens: 4096, temperature: 0.2, maxSteps: 10 },
  },
  gateway: { host: "0.0.0.0", port: 9000 },
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Agents.Defaults.Provider)
	assert.Equal(t, "gpt-5", cfg.Agents.Defaults.Model)
	assert.Equal(t, "0.0.0.0", cfg.Gateway.Host)
	assert.Equal(t, 9000, cfg.Gateway.Port)
}

func TestSecretsNeverLoadedFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	body := `{ "providers": { "anthropic": { "apiKey": "sk-should-not-load" } } }`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers.Anthropic.APIKey)
}

func TestApplyEnvOverridesPopulatesSecrets(t *testing.T) {
	t.Setenv("AGENTCORE_ANTHROPIC_API_KEY", "sk-test-123")
	t.Setenv("AGENTCORE_GATEWAY_PORT", "9191")
	t.Setenv("AGENTCORE_BRAVE_API_KEY", "brave-test-456")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "sk-test-123", cfg.Providers.Anthropic.APIKey)
	assert.Equal(t, 9191, cfg.Gateway.Port)
	assert.Equal(t, "brave-test-456", cfg.Tools.WebSearch.BraveAPIKey)
}

func TestSaveNeverWritesSecretFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json5")

	cfg := Default()
	cfg.Providers.Anthropic.APIKey = "sk-must-not-appear"
	cfg.Gateway.Token = "bearer-must-not-appear"
	cfg.Database.PostgresDSN = "postgres://must-not-appear"

	require.NoError(t, Save(path, cfg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.NotContains(t, string(data), "sk-must-not-appear")
	assert.NotContains(t, string(data), "bearer-must-not-appear")
	assert.NotContains(t, string(data), "must-not-appear")
}

func TestResolveAgentInheritsDefaultsAndAppliesOverride(t *testing.T) {
	cfg := Default()
	cfg.Agents.List = map[string]AgentSpec{
		"reviewer": {Model: "claude-opus-4-1", MaxSteps: 20},
	}

	base := cfg.ResolveAgent("unknown-agent")
	assert.Equal(t, cfg.Agents.Defaults.Model, base.Model)

	override := cfg.ResolveAgent("reviewer")
	assert.Equal(t, "claude-opus-4-1", override.Model)
	assert.Equal(t, 20, override.MaxSteps)
	assert.Equal(t, cfg.Agents.Defaults.Provider, override.Provider)
}

func TestReplaceFromPreservesSecretsAcrossReload(t *testing.T) {
	cfg := Default()
	cfg.Providers.Anthropic.APIKey = "sk-keep-me"
	cfg.Gateway.Token = "token-keep-me"
	cfg.Tools.WebSearch.BraveAPIKey = "brave-keep-me"

	fresh := Default()
	fresh.Gateway.Port = 7777
	fresh.Providers.Anthropic.APIKey = "sk-should-be-ignored"
	fresh.Tools.WebSearch.BraveAPIKey = "brave-should-be-ignored"

	cfg.ReplaceFrom(fresh)

	assert.Equal(t, 7777, cfg.Gateway.Port)
	assert.Equal(t, "sk-keep-me", cfg.Providers.Anthropic.APIKey)
	assert.Equal(t, "token-keep-me", cfg.Gateway.Token)
	assert.Equal(t, "brave-keep-me", cfg.Tools.WebSearch.BraveAPIKey)
}

func TestMCPServersFiltersDisabled(t *testing.T) {
	disabled := false
	cfg := Default()
	cfg.Tools.McpServers = map[string]*MCPServerConfig{
		"github": {Transport: "stdio", Command: "mcp-github"},
		"legacy": {Transport: "sse", URL: "http://x", Enabled: &disabled},
	}

	enabled := cfg.MCPServers()
	assert.Len(t, enabled, 1)
	assert.Contains(t, enabled, "github")
}

func TestWatcherReloadsOnFileWriteAndPublishesEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{ "gateway": { "port": 1000 } }`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.Gateway.Port)

	b := bus.New()
	events := make(chan bus.Event, 4)
	b.Subscribe(bus.TopicConfigReloaded, func(ev bus.Event) { events <- ev })

	w := NewWatcher(path, cfg, b)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond) // let the watcher register before we write
	require.NoError(t, os.WriteFile(path, []byte(`{ "gateway": { "port": 2000 } }`), 0o644))

	select {
	case ev := <-events:
		assert.Equal(t, bus.TopicConfigReloaded, ev.Topic)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config.reloaded event")
	}
	assert.Equal(t, 2000, cfg.Gateway.Port)
}
