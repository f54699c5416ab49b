// Package orchestrator implements the prompt loop: the component that
// turns one user message into a streamed assistant turn (or a bounded
// run of several turns when tools are in play), wiring together the
// Session Processor, Message/Session Stores, Provider Registry, Tool
// Registry, and Agent Catalog. Grounded on the teacher's
// internal/agent.Loop (Run/runLoop phase structure, slog-per-step
// logging, AgentEvent emission) generalized from its managed-chat-bot
// shape to the spec's StreamChunk/part-append contract.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentforge/agentcore/internal/agent"
	"github.com/agentforge/agentcore/internal/bus"
	"github.com/agentforge/agentcore/internal/message"
	"github.com/agentforge/agentcore/internal/processor"
	"github.com/agentforge/agentcore/internal/provider"
	"github.com/agentforge/agentcore/internal/session"
	"github.com/agentforge/agentcore/internal/storage"
	"github.com/agentforge/agentcore/internal/telemetry"
	"github.com/agentforge/agentcore/internal/tool"
)

// DefaultMaxSteps and DefaultMaxTodoReminders match the agentic loop's
// built-in ceilings when neither the request nor the agent specifies
// one.
const (
	DefaultMaxSteps        = 50
	DefaultMaxTodoReminders = 3
	DefaultDoomThreshold    = 3
)

const todoReminderText = "You have pending todos. Please continue working through them, or mark them complete if they're done."

// PromptInput is the orchestrator's entry point payload (spec.md §4.12).
type PromptInput struct {
	Content      string
	ProviderID   string
	ModelID      string
	System       string
	Temperature  *float64
	MaxTokens    *int
	ToolsEnabled bool
	AutoContinue *bool
	MaxSteps     int
}

// Orchestrator is the prompt loop. One instance is shared process-wide;
// per-session state lives in the stores and the Processor registry it
// holds, not on the Orchestrator itself.
type Orchestrator struct {
	Sessions  *session.Store
	Messages  *message.Store
	Providers *provider.Registry
	Tools     *tool.Registry
	Agents    *agent.Catalog
	Bus       *bus.Bus
	Storage   storage.Store // todo/{session_id} and other auxiliary keys
	Procs     *processor.Registry
	Telemetry *telemetry.Telemetry // nil-safe: every method degrades to a no-op when unset

	mu         sync.Mutex
	loopStates map[string]*loopState
}

// New constructs an Orchestrator wired to the given components.
func New(sessions *session.Store, messages *message.Store, providers *provider.Registry, tools *tool.Registry, agents *agent.Catalog, b *bus.Bus, st storage.Store) *Orchestrator {
	return &Orchestrator{
		Sessions:   sessions,
		Messages:   messages,
		Providers:  providers,
		Tools:      tools,
		Agents:     agents,
		Bus:        b,
		Storage:    st,
		Procs:      processor.NewRegistry(DefaultMaxSteps, DefaultDoomThreshold),
		loopStates: make(map[string]*loopState),
	}
}

// resolveAgent returns the session-bound agent, falling back to the
// catalog default when the session names one the catalog no longer
// knows (e.g. a custom agent that was unregistered).
func (o *Orchestrator) resolveAgent(sess *session.Session) agent.Agent {
	if sess.AgentID != "" {
		if a, ok := o.Agents.Lookup(sess.AgentID); ok {
			return a
		}
	}
	return o.Agents.Default()
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// Prompt is the orchestrator's single entry point (§4.12 "Entry").
// It loads the session, resolves the agent, and either runs exactly
// one turn or enters the multi-step agentic loop, emitting
// provider.StreamChunks to the returned channel. The channel is closed
// once the turn (or loop) completes.
func (o *Orchestrator) Prompt(ctx context.Context, sessionID string, in PromptInput) (<-chan provider.StreamChunk, error) {
	sess, err := o.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load session %s: %w", sessionID, err)
	}
	ag := o.resolveAgent(sess)

	autoContinue := boolOr(in.AutoContinue, true)
	maxSteps := in.MaxSteps
	if maxSteps <= 0 {
		maxSteps = ag.MaxSteps
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	out := make(chan provider.StreamChunk, 16)

	if !autoContinue {
		go func() {
			defer close(out)
			o.runSingleTurn(ctx, sess, ag, in, out, true)
		}()
		return out, nil
	}

	go func() {
		defer close(out)
		o.runAgenticLoop(ctx, sess, ag, in, maxSteps, out)
	}()
	return out, nil
}

func (o *Orchestrator) log() *slog.Logger { return slog.Default() }
