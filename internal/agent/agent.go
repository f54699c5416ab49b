// Package agent implements the Agent Catalog: built-in agents plus
// runtime-registered custom ones, last-match-wins permission resolution
// (Testable Property 2), and system-prompt composition. Grounded on
// spec.md §4.10 directly — no close original_source equivalent covers a
// multi-agent catalog — with the permission rule shape and tool-group
// expansion idiom adapted from the teacher's internal/tools/policy.go.
package agent

import "strings"

// Mode classifies how an agent may be invoked. ModeAll declares an agent
// usable either as the primary session agent or as a subagent; Catalog.List's
// mode filter treats it as matching any requested mode (see catalog.go).
type Mode string

const (
	ModePrimary  Mode = "primary"
	ModeSubagent Mode = "subagent"
	ModeAll      Mode = "all"
)

// PermissionAction is the effect a Permission rule assigns to a tool.
type PermissionAction string

const (
	ActionAllow PermissionAction = "allow"
	ActionDeny  PermissionAction = "deny"
	ActionAsk   PermissionAction = "ask"
)

// Permission is one ordered rule in an agent's permission list.
// ToolName is either a literal tool ID, "*" (matches everything), or
// "group:name" (matches every tool registered under that group).
type Permission struct {
	ToolName string
	Action   PermissionAction
}

// Agent bundles a system prompt, a permission list, and loop defaults
// under a stable catalog ID.
type Agent struct {
	ID              string
	Mode            Mode
	Hidden          bool
	Prompt          string
	Permissions     []Permission
	MaxSteps        int
	PauseOnQuestion bool
}

// Resolve applies Testable Property 2 (permission last-match-wins): scan
// permissions in order; each rule matching toolName sets the running
// result; the last match wins. A tool matched by no rule defaults to
// allow. "ask" is returned as-is — the orchestrator treats it as allow
// unless the host implements an interstitial prompt (§4.10).
func (a Agent) Resolve(toolName string) PermissionAction {
	result := ActionAllow
	for _, p := range a.Permissions {
		if matchesRule(p.ToolName, toolName) {
			result = p.Action
		}
	}
	return result
}

// IsAllowed is a convenience wrapper: only ActionDeny blocks execution.
func (a Agent) IsAllowed(toolName string) bool {
	return a.Resolve(toolName) != ActionDeny
}

func matchesRule(rule, toolName string) bool {
	if rule == "*" || rule == toolName {
		return true
	}
	if name, ok := strings.CutPrefix(rule, "group:"); ok {
		return groupContains(name, toolName)
	}
	return false
}
