// Package tool implements the Tool Registry and Tool Contract: a
// process-wide, last-writer-wins registry of named tools exposing a JSON
// schema for their parameters and a uniform Result shape. Grounded on the
// teacher's internal/tools package (Result, Registry, truncation
// conventions), collapsed from its richer {ForLLM, ForUser, Silent,
// Async, Usage, Provider, Model} result shape down to the spec's simpler
// {title, output, metadata} contract.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/mattn/go-runewidth"
)

// DefaultMaxOutput is the per-tool output cap (characters) before
// truncation, unless a tool overrides it.
const DefaultMaxOutput = 50000

const truncationMarker = "\n\n[...output truncated...]"

// Context is passed to every tool execution, carrying the orchestrator
// state a tool may need without giving it direct access to session/message
// internals.
type Context struct {
	SessionID  string
	MessageID  string
	ToolCallID string
	AgentID    string
}

// Result is a tool's execution outcome.
type Result struct {
	Title    string         `json:"title"`
	Output   string         `json:"output"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Tool is the contract every registered tool implements. ParameterSchema
// returns a JSON-schema-shaped map built via invopop/jsonschema from a Go
// options struct, rather than hand-writing schema maps per tool.
type Tool interface {
	ID() string
	Description() string
	ParameterSchema() map[string]any
	Execute(ctx context.Context, args map[string]any, tc Context) (Result, error)
}

// SchemaFor reflects an options struct into a JSON-schema map suitable
// for ParameterSchema, sparing each tool from hand-authoring its schema.
func SchemaFor(options any) map[string]any {
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(options)
	raw, err := schema.MarshalJSON()
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

// Registry is the process-wide tool registry: last-writer-wins on name
// collision, as the spec requires.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool under its own ID.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.ID()] = t
}

// Lookup returns the tool named name, or false if none is registered.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool, in no particular order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Execute runs the named tool, applying the default output-truncation
// rule and, on success, the "[title]\noutput" framing a tool_result's
// content carries. Returns an error only when the tool itself is
// unregistered — callers translate "not found" into the orchestrator's
// synthetic tool_result error per §7, same as a deny decision.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, tc Context) (Result, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return Result{}, fmt.Errorf("tool: %q is not registered", name)
	}
	res, err := t.Execute(ctx, args, tc)
	if err != nil {
		return Result{
			Title:  res.Title,
			Output: fmt.Sprintf("Error executing tool: %s", err),
		}, nil
	}
	res.Output, res.Metadata = truncate(res.Output, res.Metadata, DefaultMaxOutput)
	res.Output = formatOutput(res.Title, res.Output)
	return res, nil
}

// formatOutput wraps a successful tool's output with its title, matching
// original_source's session/prompt.py success framing
// (f"[{result.title}]\n{truncated_output}"): the title is applied after
// truncation, not before, so the truncation marker itself is never
// pushed past the char budget by the title's own length.
func formatOutput(title, output string) string {
	if title == "" {
		return output
	}
	return fmt.Sprintf("[%s]\n%s", title, output)
}

// truncate caps output at maxLen characters, appending a visible marker
// without splitting a multi-byte rune in half — go-runewidth's Truncate
// counts runes by display width rather than bytes, so the cut point is
// always a rune boundary.
func truncate(output string, metadata map[string]any, maxLen int) (string, map[string]any) {
	if len([]rune(output)) <= maxLen {
		return output, metadata
	}
	truncated := runewidth.Truncate(output, maxLen, "")
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["truncated"] = true
	metadata["original_length"] = len(output)
	return truncated + truncationMarker, metadata
}
