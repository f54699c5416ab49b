package agent

import "sync"

// groups maps a group name to the tool IDs it contains, expanded by
// Permission rules shaped "group:name". Adapted from the teacher's
// internal/tools/policy.go toolGroups/RegisterToolGroup pair: its MCP
// manager registers a "mcp:<server>" group per connected server so a
// whole server's tools can be allowed/denied in one rule, and this
// package keeps that registration point for the same purpose
// (internal/tool/mcpsource registers into it once a server's tools are
// discovered) instead of hand-listing every discovered tool name.
var (
	groupsMu sync.RWMutex
	groups   = map[string][]string{
		"web": {"web_fetch", "web_search"},
	}
)

// RegisterGroup adds or replaces a named group's member tool IDs.
func RegisterGroup(name string, members []string) {
	groupsMu.Lock()
	defer groupsMu.Unlock()
	groups[name] = append([]string(nil), members...)
}

// UnregisterGroup removes a named group entirely.
func UnregisterGroup(name string) {
	groupsMu.Lock()
	defer groupsMu.Unlock()
	delete(groups, name)
}

func groupContains(name, toolName string) bool {
	groupsMu.RLock()
	defer groupsMu.RUnlock()
	for _, m := range groups[name] {
		if m == toolName {
			return true
		}
	}
	return false
}
