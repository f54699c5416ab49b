package agent

import "strings"

// ComposeSystemPrompt concatenates, in order, a provider-specific
// template, the agent's own prompt (if distinct from the template), and
// a caller-supplied override — skipping empty segments — per spec.md
// §4.10's system-prompt composition rule.
func ComposeSystemPrompt(providerTemplate, agentPrompt, override string) string {
	segments := make([]string, 0, 3)
	if providerTemplate != "" {
		segments = append(segments, providerTemplate)
	}
	if agentPrompt != "" && agentPrompt != providerTemplate {
		segments = append(segments, agentPrompt)
	}
	if override != "" {
		segments = append(segments, override)
	}
	return strings.Join(segments, "\n\n")
}
