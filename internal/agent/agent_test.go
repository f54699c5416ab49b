package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaultsToAllowWhenNoRuleMatches(t *testing.T) {
	a := Agent{}
	assert.Equal(t, ActionAllow, a.Resolve("anything"))
}

func TestResolveLastMatchWins(t *testing.T) {
	a := Agent{Permissions: []Permission{
		{ToolName: "*", Action: ActionAllow},
		{ToolName: "exec", Action: ActionDeny},
		{ToolName: "*", Action: ActionAsk},
		{ToolName: "exec", Action: ActionAllow},
	}}
	assert.Equal(t, ActionAllow, a.Resolve("exec"))
	assert.Equal(t, ActionAsk, a.Resolve("read_file"))
}

func TestResolveWildcardThenSpecificDeny(t *testing.T) {
	a := Agent{Permissions: []Permission{
		{ToolName: "*", Action: ActionAllow},
		{ToolName: "exec", Action: ActionDeny},
	}}
	assert.Equal(t, ActionDeny, a.Resolve("exec"))
	assert.Equal(t, ActionAllow, a.Resolve("read_file"))
}

func TestResolveGroupRuleExpandsMembers(t *testing.T) {
	RegisterGroup("scratch-test-group", []string{"alpha", "beta"})
	defer UnregisterGroup("scratch-test-group")

	a := Agent{Permissions: []Permission{
		{ToolName: "*", Action: ActionAllow},
		{ToolName: "group:scratch-test-group", Action: ActionDeny},
	}}
	assert.Equal(t, ActionDeny, a.Resolve("alpha"))
	assert.Equal(t, ActionDeny, a.Resolve("beta"))
	assert.Equal(t, ActionAllow, a.Resolve("gamma"))
}

func TestIsAllowedOnlyFalseForDeny(t *testing.T) {
	a := Agent{Permissions: []Permission{{ToolName: "exec", Action: ActionAsk}}}
	assert.True(t, a.IsAllowed("exec"))

	denied := Agent{Permissions: []Permission{{ToolName: "exec", Action: ActionDeny}}}
	assert.False(t, denied.IsAllowed("exec"))
}

func TestCatalogLookupFindsBuiltins(t *testing.T) {
	c := NewCatalog()
	a, ok := c.Lookup("build")
	require.True(t, ok)
	assert.Equal(t, ModePrimary, a.Mode)
}

func TestCatalogDefaultIsBuild(t *testing.T) {
	c := NewCatalog()
	assert.Equal(t, "build", c.Default().ID)
}

func TestCatalogRegisterShadowsBuiltin(t *testing.T) {
	c := NewCatalog()
	c.Register(Agent{ID: "build", Mode: ModeSubagent, Prompt: "custom"})

	a, ok := c.Lookup("build")
	require.True(t, ok)
	assert.Equal(t, ModeSubagent, a.Mode)
	assert.Equal(t, "custom", a.Prompt)
}

func TestCatalogListExcludesHiddenByDefault(t *testing.T) {
	c := NewCatalog()
	ids := idsOf(c.List("", false))
	assert.NotContains(t, ids, "compaction")

	withHidden := idsOf(c.List("", true))
	assert.Contains(t, withHidden, "compaction")
}

func TestCatalogListFiltersByMode(t *testing.T) {
	c := NewCatalog()
	primaries := idsOf(c.List(ModePrimary, false))
	assert.Equal(t, []string{"build"}, primaries)
}

func TestCatalogListAlwaysMatchesModeAllAgents(t *testing.T) {
	c := NewCatalog()
	c.Register(Agent{ID: "utility", Mode: ModeAll})

	primaries := idsOf(c.List(ModePrimary, false))
	assert.Contains(t, primaries, "utility")

	subagents := idsOf(c.List(ModeSubagent, false))
	assert.Contains(t, subagents, "utility")
}

func idsOf(agents []Agent) []string {
	out := make([]string, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.ID)
	}
	return out
}

func TestComposeSystemPromptSkipsEmptySegments(t *testing.T) {
	got := ComposeSystemPrompt("", "agent prompt", "")
	assert.Equal(t, "agent prompt", got)
}

func TestComposeSystemPromptJoinsAllThree(t *testing.T) {
	got := ComposeSystemPrompt("provider", "agent", "override")
	assert.Equal(t, "provider\n\nagent\n\noverride", got)
}

func TestComposeSystemPromptSkipsAgentPromptIdenticalToTemplate(t *testing.T) {
	got := ComposeSystemPrompt("same", "same", "override")
	assert.Equal(t, "same\n\noverride", got)
}
