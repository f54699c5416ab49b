// Package compaction implements the two independent operations spec.md
// §4.13 defines over a session's message log: Prune (drop stale tool
// output once the log exceeds a protection budget) and Compact
// (summarize the whole history into a single message via the compaction
// agent). Grounded on
// _examples/original_source/src/opencode_api/session/compaction.py's
// prune/compact pair.
package compaction

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/agentforge/agentcore/internal/agent"
	"github.com/agentforge/agentcore/internal/bus"
	"github.com/agentforge/agentcore/internal/message"
	"github.com/agentforge/agentcore/internal/provider"
	"github.com/agentforge/agentcore/internal/session"
	"github.com/agentforge/agentcore/internal/token"
)

const (
	// PruneProtect is the token budget of recent tool output Prune never
	// touches: scanning newest-to-oldest, marking starts only once the
	// running total exceeds this.
	PruneProtect = 40000
	// PruneMinimum is the floor on tokens-that-would-be-pruned below
	// which Prune does nothing — not worth a write for a few hundred
	// tokens.
	PruneMinimum = 20000
	// pruneMarker replaces a pruned part's tool_output; its presence is
	// also the boundary Prune stops at on a later pass.
	pruneMarker = "[pruned]"
	// messageCountCompactThreshold is should_compact's trigger.
	messageCountCompactThreshold = 50
)

// protectedTools are never pruned regardless of age.
var protectedTools = map[string]bool{"skill": true}

// PruneResult reports what one Prune call did; a nil result (no error)
// means the scan didn't find enough to prune.
type PruneResult struct {
	PrunedCount int
	TokensSaved int
}

// Prune scans sessionID's messages newest-to-oldest, replacing old
// completed tool_result output with a marker once enough of it has
// accumulated past PruneProtect, per §4.13.1.
func Prune(ctx context.Context, messages *message.Store, sessionID string) (*PruneResult, error) {
	history, err := messages.List(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("compaction: prune: load history: %w", err)
	}

	// List returns ascending order; walk newest-to-oldest.
	type candidate struct {
		messageID string
		partID    string
		estimate  int
	}

	turn := -1
	var total int
	var marked []candidate
	var pruned int

scan:
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]

		if m.Role == message.RoleUser {
			turn++
		}
		if turn < 2 {
			continue
		}
		if m.Role == message.RoleAssistant && m.Summary {
			break scan
		}
		if m.Role != message.RoleAssistant {
			continue
		}

		for j := len(m.Parts) - 1; j >= 0; j-- {
			p := m.Parts[j]
			if p.Type != message.PartToolResult || p.ToolStatus != message.ToolCompleted {
				continue
			}
			if protectedTools[p.ToolName] {
				continue
			}
			if strings.HasPrefix(p.ToolOutput, pruneMarker) {
				break scan
			}

			est := token.Estimate(p.ToolOutput)
			total += est
			if total > PruneProtect {
				marked = append(marked, candidate{messageID: m.ID, partID: p.ID, estimate: est})
				pruned += est
			}
		}
	}

	if pruned <= PruneMinimum {
		return nil, nil
	}

	for _, c := range marked {
		if _, err := messages.UpdatePart(ctx, sessionID, c.messageID, c.partID, func(p *message.Part) {
			p.ToolOutput = pruneMarker
		}); err != nil {
			return nil, fmt.Errorf("compaction: prune: update part %s: %w", c.partID, err)
		}
	}

	return &PruneResult{PrunedCount: len(marked), TokensSaved: pruned}, nil
}

// CompactResult reports the outcome of a Compact call.
type CompactResult struct {
	Summary           string
	MessagesCompacted int
	TokensSaved       int
	CostSaved         float64
}

const compactTrailer = "Provide a detailed prompt for continuing our conversation above, covering what has been done, what remains, and any constraints discovered along the way."

// costPerToken approximates spec.md §4.13.2's cost_saved ≈ tokens_saved · 10^-8
// (Open Question: the unit this multiplier is denominated in is left
// unresolved by the spec; carried through verbatim rather than invented).
const costPerToken = 1e-8

// Compact summarizes sessionID's entire message history into one
// summary=true assistant message via the compaction agent, per §4.13.2.
// On a provider stream error it falls back to a deterministic structural
// summary instead of failing the call.
func Compact(ctx context.Context, sessions *session.Store, messages *message.Store, providers *provider.Registry, agents *agent.Catalog, b *bus.Bus, sessionID string) (*CompactResult, error) {
	sess, err := sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("compaction: compact: load session %s: %w", sessionID, err)
	}
	history, err := messages.List(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("compaction: compact: load history: %w", err)
	}

	compactionAgent, _ := agents.Lookup("compaction")
	modelID := sess.ModelID
	providerID := sess.ProviderID

	// No provider registered for this session is a distinct outcome from
	// "provider registered but streaming failed" (which falls back to
	// structuralFallback below): per §4.13.2's S6 scenario, Compact must
	// return nil rather than fabricate a summary when there's no model
	// to summarize with at all.
	if _, err := providers.Resolve(providerID, modelID); err != nil {
		return nil, nil
	}

	preEstimate := token.Count(history).Total()

	summaryMsg, err := messages.CreateAssistant(ctx, sessionID, providerID, modelID, true)
	if err != nil {
		return nil, fmt.Errorf("compaction: compact: create summary message: %w", err)
	}

	providerMessages := buildProviderMessages(history)
	providerMessages = append(providerMessages, provider.Message{Role: provider.RoleUser, Content: compactTrailer})

	system := agent.ComposeSystemPrompt("", compactionAgent.Prompt, "")

	summary, streamErr := streamSummary(ctx, providers, providerID, modelID, system, providerMessages)
	if streamErr != nil {
		summary = structuralFallback(history)
	}

	if _, err := messages.AddPart(ctx, sessionID, summaryMsg.ID, &message.Part{
		Type:    message.PartText,
		Content: summary,
	}); err != nil {
		return nil, fmt.Errorf("compaction: compact: add summary part: %w", err)
	}

	if b != nil {
		b.Publish(bus.Event{Topic: bus.TopicSessionUpdated, Publisher: sessionID, Payload: sess})
		b.Publish(bus.Event{Topic: bus.TopicCompactionDone, Publisher: sessionID, Payload: map[string]any{"session_id": sessionID}})
	}

	postEstimate := token.Estimate(summary)
	tokensSaved := preEstimate - postEstimate
	if tokensSaved < 0 {
		tokensSaved = 0
	}

	return &CompactResult{
		Summary:           summary,
		MessagesCompacted: len(history),
		TokensSaved:       tokensSaved,
		CostSaved:         float64(tokensSaved) * costPerToken,
	}, nil
}

// streamSummary opens a tool-free provider stream and concatenates every
// text chunk into one string.
func streamSummary(ctx context.Context, providers *provider.Registry, providerID, modelID, system string, messages []provider.Message) (string, error) {
	ch, err := providers.Stream(ctx, providerID, modelID, provider.StreamRequest{
		ModelID:  modelID,
		Messages: messages,
		System:   system,
	})
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for chunk := range ch {
		switch chunk.Type {
		case provider.ChunkText:
			out.WriteString(chunk.Text)
		case provider.ChunkError:
			return "", fmt.Errorf("compaction: provider stream error: %s", chunk.Err)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("compaction: empty summary stream")
	}
	return out.String(), nil
}

// structuralFallback builds a deterministic summary (first and last
// messages plus totals) when the summarizing stream fails, so Compact
// never surfaces a provider outage to its caller. The "[Conversation
// Summary - N messages]" header matches the literal substring §4.13.2's
// S6 scenario asserts on, same as original_source's generate_summary.
func structuralFallback(history []*message.Message) string {
	if len(history) == 0 {
		return "[Conversation Summary - 0 messages]\nNo prior conversation to summarize."
	}
	first := history[0]
	last := history[len(history)-1]
	usage := token.Count(history)
	return fmt.Sprintf(
		"[Conversation Summary - %d messages]\nProvider summary unavailable, ~%d tokens.\nFirst: %s\nLast: %s",
		len(history), usage.Total(), snippet(first), snippet(last),
	)
}

func snippet(m *message.Message) string {
	if m.Role == message.RoleUser {
		return truncateText(m.Content, 200)
	}
	var text strings.Builder
	for _, p := range m.Parts {
		if p.Type == message.PartText || p.Type == message.PartReasoning {
			text.WriteString(p.Content)
		}
	}
	return truncateText(text.String(), 200)
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// buildProviderMessages projects history into the provider wire shape,
// identical to the orchestrator's single-turn projection (§4.12.2 step
// 3): duplicated here rather than imported to avoid a compaction ->
// orchestrator dependency (orchestrator already depends on nothing in
// this package, and a cycle would otherwise form once the orchestrator
// calls Compact).
func buildProviderMessages(history []*message.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case message.RoleUser:
			if m.Content == "" {
				continue
			}
			out = append(out, provider.Message{Role: provider.RoleUser, Content: m.Content})

		case message.RoleAssistant:
			var text strings.Builder
			var toolBlocks []string
			for _, p := range m.Parts {
				switch p.Type {
				case message.PartText, message.PartReasoning:
					if text.Len() > 0 {
						text.WriteString("\n")
					}
					text.WriteString(p.Content)
				case message.PartToolResult:
					if p.ToolStatus == message.ToolCompleted || p.ToolStatus == message.ToolError {
						toolBlocks = append(toolBlocks, fmt.Sprintf("Tool result:\n%s", p.ToolOutput))
					}
				}
			}
			if text.Len() > 0 {
				out = append(out, provider.Message{Role: provider.RoleAssistant, Content: text.String()})
			}
			if len(toolBlocks) > 0 {
				out = append(out, provider.Message{Role: provider.RoleUser, Content: strings.Join(toolBlocks, "\n\n")})
			}
		}
	}
	return out
}

// IsOverflow reports whether sessionID's current history exceeds the
// given model's usable context window.
func IsOverflow(history []*message.Message, model provider.ModelInfo) bool {
	return token.IsOverflow(history, model.ContextLimit, model.OutputLimit)
}

// ShouldCompact implements §4.13.2's should_compact threshold.
func ShouldCompact(history []*message.Message) bool {
	return len(history) >= messageCountCompactThreshold
}

// PrePromptCheck is the pair of checks a caller can run before opening
// a provider stream: whether the session's history already overflows
// model's context window, and an opportunistic Prune pass. Neither
// depends on the other's outcome, so they run concurrently via
// errgroup. The orchestrator's turn does not call CheckBeforePrompt.
type PrePromptCheck struct {
	Overflow bool
	Pruned   *PruneResult
}

// CheckBeforePrompt runs IsOverflow and Prune concurrently over
// sessionID's history and model.
func CheckBeforePrompt(ctx context.Context, messages *message.Store, sessionID string, model provider.ModelInfo) (*PrePromptCheck, error) {
	g, gctx := errgroup.WithContext(ctx)
	result := &PrePromptCheck{}

	g.Go(func() error {
		history, err := messages.List(gctx, sessionID, 0)
		if err != nil {
			return fmt.Errorf("compaction: check: load history for overflow: %w", err)
		}
		result.Overflow = IsOverflow(history, model)
		return nil
	})

	g.Go(func() error {
		pruned, err := Prune(gctx, messages, sessionID)
		if err != nil {
			return err
		}
		result.Pruned = pruned
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
