// Package provider normalizes heterogeneous LLM backends into a single
// streaming chunk contract, ported from the teacher's internal/providers
// package (Provider interface, ChatStream-via-callback shape) and
// generalized to the spec's StreamChunk sum type, stop-reason override
// rule, and argument-reassembly contract.
package provider

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
)

// Role is a provider-level message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in a provider-level conversation.
type Message struct {
	Role    Role
	Content string
}

// ToolSchema describes one tool's name/description/JSON-schema parameters
// for inclusion in a provider's tool-calling request.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// StreamRequest is the input to Provider.Stream.
type StreamRequest struct {
	ModelID     string
	Messages    []Message
	Tools       []ToolSchema
	System      string
	Temperature *float64
	MaxTokens   *int
	// Thinking requests extended-thinking mode; adapters that don't
	// support it, or whose backend rejects it, retry once without it
	// per the extended-thinking fallback rule.
	Thinking bool
}

// ChunkType discriminates StreamChunk's variants.
type ChunkType string

const (
	ChunkText      ChunkType = "text"
	ChunkReasoning ChunkType = "reasoning"
	ChunkToolCall  ChunkType = "tool_call"
	ChunkDone      ChunkType = "done"
	ChunkError     ChunkType = "error"
	// ChunkToolResult is never emitted by a Provider adapter itself — the
	// orchestrator synthesizes it on the outward stream once a tool call
	// has been permission-checked (denied) or executed, per §4.12.2.
	ChunkToolResult ChunkType = "tool_result"
)

// StopReason is the normalized termination code every adapter must map
// its native reason into.
type StopReason string

const (
	StopEndTurn       StopReason = "end_turn"
	StopToolCalls     StopReason = "tool_calls"
	StopMaxTokens     StopReason = "max_tokens"
	StopContentFilter StopReason = "content_filter"
	StopSafety        StopReason = "safety"
)

// ToolCall is a fully-parsed tool invocation: only emitted once its
// arguments are complete, even if the backend streamed them as
// fragmented JSON deltas.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Usage is the provider-reported token accounting for one stream.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// StreamChunk is the discriminated record every adapter emits. Exactly
// one Done chunk terminates a successful stream; at most one Error chunk
// terminates a failed one — adapters never panic or return an error out
// of Stream itself, they convert failures into an Error chunk.
type StreamChunk struct {
	Type ChunkType

	Text     string // ChunkText, ChunkReasoning
	ToolCall ToolCall // ChunkToolCall, ChunkToolResult (ID pairs the two)

	Usage      *Usage     // ChunkDone
	StopReason StopReason // ChunkDone

	Err string // ChunkError

	ToolOutput string // ChunkToolResult
	ToolError  bool   // ChunkToolResult: true when ToolOutput is an error message
}

// Provider is a registered LLM backend handle.
type Provider interface {
	ID() string
	Name() string
	Models() map[string]ModelInfo
	// Stream opens a streaming call and returns a channel of chunks. The
	// channel is closed after the terminal chunk (Done or Error) is sent.
	// Stream itself never returns a non-nil error for provider-level
	// failures — those become an Error chunk — only for request-shape
	// problems caught before any network call (unknown model, etc).
	Stream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error)
}

// ModelInfo describes one model a provider exposes.
type ModelInfo struct {
	ContextLimit    int
	OutputLimit     int
	SupportsTools   bool
	SupportsStream  bool
	CostInputPerMTok  float64
	CostOutputPerMTok float64
}

// Registry holds registered providers and resolves a model ID to an
// adapter via the prefix-inference table when no explicit provider ID is
// given.
type Registry struct {
	providers map[string]Provider
	limiters  map[string]*rate.Limiter
	defaultID string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Register adds or replaces a provider, optionally rate-limited to
// ratePerSec calls/sec with a burst of int(ratePerSec)+1 (0 disables
// limiting for that provider).
func (r *Registry) Register(p Provider, ratePerSec float64) {
	r.providers[p.ID()] = p
	if ratePerSec > 0 {
		r.limiters[p.ID()] = rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1)
	}
}

// SetDefault names the provider used when no explicit or inferred
// provider ID resolves.
func (r *Registry) SetDefault(id string) { r.defaultID = id }

// prefixRoutes maps model-ID prefixes to the gateway-adapter provider ID
// they route to, per the resolution table.
var prefixRoutes = []struct {
	prefix string
	id     string
}{
	{"gemini/", "litellm"},
	{"groq/", "litellm"},
	{"deepseek/", "litellm"},
	{"openrouter/", "litellm"},
	{"zai/", "litellm"}, // single "litellm" registration; no separate "zai" provider (Open Question 1)
	{"claude-", "anthropic"},
	{"gpt-", "openai"},
	{"o1", "openai"},
}

// Resolve picks a provider for modelID given an explicit providerID
// (highest precedence, may be empty). Returns an error when no provider
// ID can be determined or the determined ID is not registered — the
// caller turns that into a
// terminal error chunk rather than propagating it further, per §4.12.1.
func (r *Registry) Resolve(providerID, modelID string) (Provider, error) {
	id := providerID
	if id == "" {
		for _, route := range prefixRoutes {
			if strings.HasPrefix(modelID, route.prefix) {
				id = route.id
				break
			}
		}
	}
	if id == "" {
		id = r.defaultID
	}
	if id == "" {
		return nil, fmt.Errorf("provider: no provider registered and none could be inferred for model %q", modelID)
	}
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider: %q is not registered", id)
	}
	return p, nil
}

// Stream resolves a provider for the request and opens its stream,
// respecting the provider's configured rate limit.
func (r *Registry) Stream(ctx context.Context, providerID, modelID string, req StreamRequest) (<-chan StreamChunk, error) {
	p, err := r.Resolve(providerID, modelID)
	if err != nil {
		return nil, err
	}
	if lim, ok := r.limiters[p.ID()]; ok {
		if err := lim.Wait(ctx); err != nil {
			return errorChunkOnly(fmt.Errorf("provider: rate limit wait: %w", err)), nil
		}
	}
	return p.Stream(ctx, req)
}

// errorChunkOnly returns a single-chunk channel carrying err as a
// terminal Error chunk; Stream uses it when waiting on a provider's
// rate limiter fails.
func errorChunkOnly(err error) <-chan StreamChunk {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Type: ChunkError, Err: err.Error()}
	close(ch)
	return ch
}
