package agent

import (
	"sort"
	"sync"
)

// Catalog holds built-in agents plus runtime-registered custom ones.
// Lookup and List merge custom entries over built-ins of the same ID,
// per spec.md §4.10.
type Catalog struct {
	mu       sync.RWMutex
	builtins map[string]Agent
	custom   map[string]Agent
}

// NewCatalog constructs a Catalog pre-populated with the four built-in
// agents: build (primary default), general and explore (visible
// subagents), and compaction (hidden summarizer).
func NewCatalog() *Catalog {
	c := &Catalog{builtins: make(map[string]Agent), custom: make(map[string]Agent)}
	for _, a := range builtinAgents() {
		c.builtins[a.ID] = a
	}
	return c
}

// Register adds or replaces a custom agent, shadowing any built-in of
// the same ID.
func (c *Catalog) Register(a Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.custom[a.ID] = a
}

// Lookup returns the agent named id, custom entries taking priority.
func (c *Catalog) Lookup(id string) (Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if a, ok := c.custom[id]; ok {
		return a, true
	}
	a, ok := c.builtins[id]
	return a, ok
}

// List returns every agent, optionally filtered by mode, in ID order.
// Hidden agents (compaction) are excluded unless includeHidden is true.
// mode == "" means "no filter" (every agent, regardless of its own
// Mode) — a different concept from an agent whose own Mode is ModeAll,
// which instead means "this particular agent matches any filter the
// caller passes". So an agent declared with ModeAll always passes the
// mode filter, whatever mode is requested, while mode == "" passes
// every agent regardless of what any of them declare.
func (c *Catalog) List(mode Mode, includeHidden bool) []Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	merged := make(map[string]Agent, len(c.builtins)+len(c.custom))
	for id, a := range c.builtins {
		merged[id] = a
	}
	for id, a := range c.custom {
		merged[id] = a
	}

	out := make([]Agent, 0, len(merged))
	for _, a := range merged {
		if !includeHidden && a.Hidden {
			continue
		}
		if mode != "" && a.Mode != mode && a.Mode != ModeAll {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Default returns the build agent, the default agent for a new session.
func (c *Catalog) Default() Agent {
	a, _ := c.Lookup("build")
	return a
}

func builtinAgents() []Agent {
	return []Agent{
		{
			ID:              "build",
			Mode:            ModePrimary,
			Prompt:          buildPrompt,
			MaxSteps:        50,
			PauseOnQuestion: true,
		},
		{
			ID:          "general",
			Mode:        ModeSubagent,
			Prompt:      generalPrompt,
			Permissions: []Permission{{ToolName: "*", Action: ActionAllow}},
			MaxSteps:    30,
		},
		{
			ID:     "explore",
			Mode:   ModeSubagent,
			Prompt: explorePrompt,
			Permissions: []Permission{
				{ToolName: "*", Action: ActionAllow},
				{ToolName: "group:write", Action: ActionDeny},
			},
			MaxSteps: 20,
		},
		{
			ID:     "compaction",
			Mode:   ModeSubagent,
			Hidden: true,
			Prompt: compactionPrompt,
			Permissions: []Permission{
				{ToolName: "*", Action: ActionDeny},
			},
			MaxSteps: 1,
		},
	}
}
