// Package token implements the orchestrator's token accountant: a cheap
// character-count heuristic (no tokenizer dependency) used for pruning and
// overflow decisions that precede a real provider call.
package token

import (
	"encoding/json"
	"math"

	"github.com/agentforge/agentcore/internal/message"
)

// Estimate approximates the token count of text as round(len(text)/4),
// clamped to >= 0. This is deliberately not a real tokenizer: it only
// needs to be cheap, deterministic, and good enough to drive pruning.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := int(math.Round(float64(len(text)) / 4.0))
	if n < 0 {
		return 0
	}
	return n
}

// Usage is the per-role token split produced by Count.
type Usage struct {
	Input  int
	Output int
}

// Total returns Input + Output.
func (u Usage) Total() int { return u.Input + u.Output }

// Count aggregates estimated tokens across a list of messages, classifying
// each contribution the way the accountant's rules require: user content
// counts as input; assistant text/reasoning counts as output; tool-call
// name+args (JSON-serialized) counts as output; tool-result output counts
// as input.
func Count(messages []*message.Message) Usage {
	var u Usage
	for _, m := range messages {
		switch m.Role {
		case message.RoleUser:
			u.Input += Estimate(m.Content)
		case message.RoleAssistant:
			for _, p := range m.Parts {
				switch p.Type {
				case message.PartText, message.PartReasoning:
					u.Output += Estimate(p.Content)
				case message.PartToolCall:
					u.Output += Estimate(toolCallText(p))
				case message.PartToolResult:
					u.Input += Estimate(p.ToolOutput)
				}
			}
		}
	}
	return u
}

func toolCallText(p *message.Part) string {
	argsJSON, err := json.Marshal(p.ToolArgs)
	if err != nil {
		argsJSON = []byte("{}")
	}
	return p.ToolName + string(argsJSON)
}

// IsOverflow reports whether the aggregated usage over messages exceeds
// the model's usable context: total > context_limit - min(output_limit, 16384).
func IsOverflow(messages []*message.Message, contextLimit, outputLimit int) bool {
	reserve := outputLimit
	if reserve > 16384 {
		reserve = 16384
	}
	total := Count(messages).Total()
	return total > contextLimit-reserve
}
