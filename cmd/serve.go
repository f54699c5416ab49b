package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentforge/agentcore/internal/agent"
	"github.com/agentforge/agentcore/internal/bus"
	agentconfig "github.com/agentforge/agentcore/internal/config"
	"github.com/agentforge/agentcore/internal/gateway"
	"github.com/agentforge/agentcore/internal/maintenance"
	"github.com/agentforge/agentcore/internal/message"
	"github.com/agentforge/agentcore/internal/orchestrator"
	"github.com/agentforge/agentcore/internal/provider"
	"github.com/agentforge/agentcore/internal/session"
	"github.com/agentforge/agentcore/internal/storage"
	"github.com/agentforge/agentcore/internal/storage/pg"
	"github.com/agentforge/agentcore/internal/storage/sqlitekv"
	"github.com/agentforge/agentcore/internal/telemetry"
	"github.com/agentforge/agentcore/internal/tool"
	"github.com/agentforge/agentcore/internal/tool/mcpsource"
	"github.com/agentforge/agentcore/internal/tool/question"
	"github.com/agentforge/agentcore/internal/tool/todo"
	"github.com/agentforge/agentcore/internal/tool/webfetch"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agent gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))

	cfgPath := resolveConfigPath()
	cfg, err := agentconfig.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Providers.HasAnyProvider() {
		slog.Warn("serve: no provider API keys configured; set AGENTCORE_ANTHROPIC_API_KEY or similar")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bus.New()

	sessionKV, messageKV, kvStore, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer closeStores()

	messages := message.New(messageKV, b)
	sessions := session.New(sessionKV, messageKV, b)

	providers := buildProviderRegistry(cfg)
	questions := question.New(b)
	tools := buildToolRegistry(cfg, kvStore, questions)

	mcpManager := mcpsource.NewManager(tools)
	mcpConfigs := buildMCPServerConfigs(cfg)
	if len(mcpConfigs) > 0 {
		mcpManager.Start(ctx, mcpConfigs)
		defer mcpManager.Stop()
	}

	catalog := buildAgentCatalog(cfg)

	telOpts := cfg.TelemetryOptions()
	tel, shutdownTel, err := telemetry.New(ctx, telemetry.Config{
		ServiceName:    telOpts.ServiceName,
		ServiceVersion: telOpts.ServiceVersion,
		Environment:    telOpts.Environment,
		Endpoint:       telOpts.Endpoint,
		Protocol:       telOpts.Protocol,
		Insecure:       telOpts.Insecure,
		SamplingRate:   telOpts.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTel(shutdownCtx)
	}()

	orch := orchestrator.New(sessions, messages, providers, tools, catalog, b, kvStore)
	orch.Telemetry = tel

	sched := maintenance.New(sessions, messages, providers, catalog, b)
	sched.Expr = cfg.Cron.Expr
	sched.Telemetry = tel
	go sched.Run(ctx)

	watcher := agentconfig.NewWatcher(cfgPath, cfg, b)
	go watcher.Run(ctx)

	srv := gateway.NewServer(cfg, b, orch, sessions, questions)

	slog.Info("serve: starting", "host", cfg.Gateway.Host, "port", cfg.Gateway.Port)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("gateway server: %w", err)
	}
	slog.Info("serve: shut down cleanly")
	return nil
}

// openStores builds the session/message/generic-object stores per
// cfg.Database.Driver, mirroring the teacher's file-vs-managed-Postgres
// store selection in cmd/gateway.go but collapsed to the two backends
// this domain actually supports. With postgres, sessions and messages
// live in Postgres and every other prefix stays in the local sqlite file.
func openStores(ctx context.Context, cfg *agentconfig.Config) (sessionKV, messageKV, objectKV storage.Store, closeFn func(), err error) {
	path := agentconfig.ExpandHome(cfg.Database.SQLitePath)
	if path == "" {
		path = "agentcore.db"
	}
	switch cfg.Database.Driver {
	case "postgres":
		st, err := pg.Open(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		local, err := sqlitekv.Open(path)
		if err != nil {
			st.Close()
			return nil, nil, nil, nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		return st, st, local, func() { st.Close(); local.Close() }, nil
	default:
		st, err := sqlitekv.Open(path)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("open sqlite %s: %w", path, err)
		}
		return st, st, st, func() { st.Close() }, nil
	}
}

// buildProviderRegistry registers a provider adapter per configured API
// key, with a small static model table standing in for the teacher's
// richer model-catalog fetch (spec.md's Non-goals exclude model
// discovery, so the list here is fixed rather than queried).
func buildProviderRegistry(cfg *agentconfig.Config) *provider.Registry {
	reg := provider.NewRegistry()

	if key := cfg.Providers.Anthropic.APIKey; key != "" {
		reg.Register(provider.NewAnthropicAdapter(key, map[string]provider.ModelInfo{
			"claude-sonnet-4-5": {ContextLimit: 200_000, OutputLimit: 64_000, SupportsTools: true, SupportsStream: true, CostInputPerMTok: 3, CostOutputPerMTok: 15},
			"claude-opus-4-1":   {ContextLimit: 200_000, OutputLimit: 32_000, SupportsTools: true, SupportsStream: true, CostInputPerMTok: 15, CostOutputPerMTok: 75},
			"claude-haiku-4-5":  {ContextLimit: 200_000, OutputLimit: 64_000, SupportsTools: true, SupportsStream: true, CostInputPerMTok: 1, CostOutputPerMTok: 5},
		}), 10)
		reg.SetDefault("anthropic")
	}
	if key := cfg.Providers.OpenAI.APIKey; key != "" {
		reg.Register(provider.NewOpenAICompatAdapter("openai", key, cfg.Providers.OpenAI.APIBase, map[string]provider.ModelInfo{
			"gpt-5":      {ContextLimit: 400_000, OutputLimit: 128_000, SupportsTools: true, SupportsStream: true},
			"gpt-5-mini": {ContextLimit: 400_000, OutputLimit: 128_000, SupportsTools: true, SupportsStream: true},
		}), 10)
	}
	if key := cfg.Providers.OpenRouter.APIKey; key != "" {
		base := cfg.Providers.OpenRouter.APIBase
		if base == "" {
			base = "https://openrouter.ai/api/v1"
		}
		reg.Register(provider.NewOpenAICompatAdapter("openrouter", key, base, map[string]provider.ModelInfo{
			"anthropic/claude-sonnet-4.5": {ContextLimit: 200_000, OutputLimit: 64_000, SupportsTools: true, SupportsStream: true},
		}), 10)
	}
	if key := cfg.Providers.Groq.APIKey; key != "" {
		base := cfg.Providers.Groq.APIBase
		if base == "" {
			base = "https://api.groq.com/openai/v1"
		}
		reg.Register(provider.NewOpenAICompatAdapter("groq", key, base, map[string]provider.ModelInfo{
			"llama-3.3-70b-versatile": {ContextLimit: 128_000, OutputLimit: 32_768, SupportsTools: true, SupportsStream: true},
		}), 30)
	}
	if key := cfg.Providers.Gemini.APIKey; key != "" {
		base := cfg.Providers.Gemini.APIBase
		if base == "" {
			base = "https://generativelanguage.googleapis.com/v1beta/openai"
		}
		reg.Register(provider.NewOpenAICompatAdapter("gemini", key, base, map[string]provider.ModelInfo{
			"gemini-2.5-pro": {ContextLimit: 1_048_576, OutputLimit: 65_536, SupportsTools: true, SupportsStream: true},
		}), 15)
	}
	return reg
}

// buildToolRegistry wires the always-on tools (todo, question) and, when
// enabled in cfg.Tools, web fetch and web search. MCP-sourced tools are
// added separately once the registry exists, since mcpsource.Manager
// registers directly into it.
func buildToolRegistry(cfg *agentconfig.Config, st storage.Store, questions *question.Channel) *tool.Registry {
	reg := tool.NewRegistry()
	reg.Register(todo.New(st))
	reg.Register(question.NewTool(questions))

	if cfg.Tools.WebFetch.Enabled {
		reg.Register(webfetch.NewFetchTool(webfetch.FetchConfig{MaxChars: cfg.Tools.WebFetch.MaxBytes}))
	}
	if cfg.Tools.WebSearch.Enabled {
		if t := webfetch.NewSearchTool(webfetch.SearchConfig{
			BraveAPIKey:  cfg.Tools.WebSearch.BraveAPIKey,
			BraveEnabled: cfg.Tools.WebSearch.BraveEnabled,
			DDGEnabled:   cfg.Tools.WebSearch.DDGEnabled,
		}); t != nil {
			reg.Register(t)
		}
	}
	return reg
}

func buildMCPServerConfigs(cfg *agentconfig.Config) []mcpsource.ServerConfig {
	var out []mcpsource.ServerConfig
	for name, srv := range cfg.MCPServers() {
		out = append(out, mcpsource.ServerConfig{
			Name:       name,
			Transport:  mcpsource.Transport(srv.Transport),
			Command:    srv.Command,
			Args:       srv.Args,
			Env:        srv.Env,
			URL:        srv.URL,
			Headers:    srv.Headers,
			ToolPrefix: srv.ToolPrefix,
			Allow:      srv.Allow,
			Deny:       srv.Deny,
			Timeout:    time.Duration(srv.TimeoutSec) * time.Second,
		})
	}
	return out
}

// buildAgentCatalog layers configured agent overrides (cfg.Agents.List)
// over the built-in catalog, converting each config.AgentSpec into an
// agent.Agent via ResolveAgent so defaults/overrides merge exactly once.
func buildAgentCatalog(cfg *agentconfig.Config) *agent.Catalog {
	catalog := agent.NewCatalog()
	for id := range cfg.Agents.List {
		spec := cfg.ResolveAgent(id)
		mode := agent.ModeSubagent
		switch spec.Mode {
		case "primary":
			mode = agent.ModePrimary
		case "all":
			mode = agent.ModeAll
		}
		var perms []agent.Permission
		for _, rule := range spec.Permissions {
			name, action := rule, agent.ActionAllow
			if i := strings.LastIndex(rule, ":"); i >= 0 {
				switch a := agent.PermissionAction(rule[i+1:]); a {
				case agent.ActionAllow, agent.ActionDeny, agent.ActionAsk:
					name, action = rule[:i], a
				}
			}
			perms = append(perms, agent.Permission{ToolName: name, Action: action})
		}
		catalog.Register(agent.Agent{
			ID:              id,
			Mode:            mode,
			Hidden:          spec.Hidden,
			Prompt:          spec.Prompt,
			Permissions:     perms,
			MaxSteps:        spec.MaxSteps,
			PauseOnQuestion: spec.PauseOnQuestion,
		})
	}
	return catalog
}
