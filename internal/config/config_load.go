package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible out-of-the-box values: SQLite
// storage, Anthropic's flagship model, the gateway bound to localhost,
// and the full tool profile enabled. Env overrides are NOT applied here
// — callers that want them call ApplyEnvOverrides or use Load.
func Default() *Config {
	return &Config{
		Providers: ProvidersConfig{},
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Provider:    "anthropic",
				Model:       "claude-sonnet-4-5",
				MaxTokens:   8192,
				Temperature: 1.0,
				MaxSteps:    50,
			},
		},
		Tools: ToolsConfig{
			Profile: "full",
			WebFetch: WebFetchConfig{
				Enabled:    true,
				TimeoutSec: 30,
				MaxBytes:   1 << 20,
			},
			WebSearch: WebSearchConfig{
				Enabled:    true,
				DDGEnabled: true,
			},
		},
		Gateway: GatewayConfig{
			Host:            "127.0.0.1",
			Port:            8790,
			MaxMessageChars: 100_000,
			RateLimitRPM:    60,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			SQLitePath:   "agentcore.db",
			MaxOpenConns: 1,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "agentcore",
			SamplingRate: 1.0,
		},
		Cron: CronConfig{
			Expr: "*/5 * * * *",
		},
	}
}

// Load reads and parses the JSON5 config file at path, falling back to
// Default (plus env overrides) when the file doesn't exist. Secrets
// (provider API keys, gateway token, Postgres DSN) always come from the
// environment, never from the file — their struct fields carry
// `json:"-"` so json5.Unmarshal can't populate them even if a stray
// file does contain them.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides re-reads AGENTCORE_* environment variables into cfg,
// the only source for every secret field and the mechanism by which a
// deployment overrides file-based settings without editing the file.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverridesLocked()
}

func (c *Config) applyEnvOverridesLocked() {
	strVar := func(dst *string, name string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	intVar := func(dst *int, name string) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolVar := func(dst *bool, name string) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	strVar(&c.Providers.Anthropic.APIKey, "AGENTCORE_ANTHROPIC_API_KEY")
	strVar(&c.Providers.OpenAI.APIKey, "AGENTCORE_OPENAI_API_KEY")
	strVar(&c.Providers.OpenRouter.APIKey, "AGENTCORE_OPENROUTER_API_KEY")
	strVar(&c.Providers.Groq.APIKey, "AGENTCORE_GROQ_API_KEY")
	strVar(&c.Providers.Gemini.APIKey, "AGENTCORE_GEMINI_API_KEY")
	strVar(&c.Tools.WebSearch.BraveAPIKey, "AGENTCORE_BRAVE_API_KEY")

	strVar(&c.Gateway.Host, "AGENTCORE_GATEWAY_HOST")
	intVar(&c.Gateway.Port, "AGENTCORE_GATEWAY_PORT")
	strVar(&c.Gateway.Token, "AGENTCORE_GATEWAY_TOKEN")

	strVar(&c.Database.Driver, "AGENTCORE_DATABASE_DRIVER")
	strVar(&c.Database.SQLitePath, "AGENTCORE_DATABASE_SQLITE_PATH")
	strVar(&c.Database.PostgresDSN, "AGENTCORE_DATABASE_DSN")

	boolVar(&c.Telemetry.Enabled, "AGENTCORE_TELEMETRY_ENABLED")
	strVar(&c.Telemetry.Endpoint, "AGENTCORE_TELEMETRY_ENDPOINT")
	strVar(&c.Telemetry.Protocol, "AGENTCORE_TELEMETRY_PROTOCOL")
	boolVar(&c.Telemetry.Insecure, "AGENTCORE_TELEMETRY_INSECURE")

	strVar(&c.Cron.Expr, "AGENTCORE_CRON_EXPR")
}

// Save marshals cfg as indented JSON and writes it to path with
// restrictive permissions, since even with secrets excluded the file
// can carry internal hostnames and tool allowlists.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Hash returns a hex SHA-256 digest of cfg's non-secret fields, used by
// the watcher to decide whether a filesystem event actually changed
// anything observable (fsnotify fires on metadata-only touches too).
func (c *Config) Hash() string {
	c.mu.RLock()
	data, err := json.Marshal(c)
	c.mu.RUnlock()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ExpandHome expands a leading "~" in path to the user's home
// directory, matching the shell's own expansion for config-file paths
// supplied on the command line.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	rest := strings.TrimPrefix(path, "~")
	return filepath.Join(home, rest)
}
