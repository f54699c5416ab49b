package question

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentforge/agentcore/internal/tool"
)

const description = `Use this tool when you need to ask the user questions during execution. This allows you to:
1. Gather user preferences or requirements
2. Clarify ambiguous instructions
3. Get decisions on implementation choices as you work
4. Offer choices to the user about what direction to take.

IMPORTANT: You MUST provide at least 2 options for each question. Never ask open-ended questions without choices.

Usage notes:
- REQUIRED: every question MUST have at least 2 options
- When "custom" is enabled (default), a "Type your own answer" option is added automatically; don't include "Other" or catch-all options
- Answers are returned as arrays of labels; set "multiple" to true to allow selecting more than one
- If you recommend a specific option, make that the first option in the list and add "(Recommended)" at the end of the label`

type optionParam struct {
	Label       string `json:"label" jsonschema:"required,description=Display text (1-5 words, concise)"`
	Description string `json:"description" jsonschema:"required,description=Explanation of choice"`
}

type questionParam struct {
	Question string        `json:"question" jsonschema:"required,description=Complete question"`
	Header   string        `json:"header" jsonschema:"required,description=Very short label (max 30 chars)"`
	Options  []optionParam `json:"options" jsonschema:"required,minItems=2,description=Available choices (MUST provide at least 2)"`
	Multiple bool          `json:"multiple,omitempty" jsonschema:"description=Allow selecting multiple choices"`
}

type params struct {
	Questions []questionParam `json:"questions" jsonschema:"required,description=Questions to ask"`
}

// Tool is the question tool exposed to the agentic loop: it registers
// under the "question" ID and delegates the actual rendezvous to a
// Channel shared across tool calls.
type Tool struct {
	channel *Channel
}

// NewTool wraps channel as a tool.Tool, using channel's own Ask timeout.
func NewTool(channel *Channel) *Tool {
	return &Tool{channel: channel}
}

func (t *Tool) ID() string          { return "question" }
func (t *Tool) Description() string { return description }

func (t *Tool) ParameterSchema() map[string]any {
	return tool.SchemaFor(params{})
}

func (t *Tool) Execute(ctx context.Context, args map[string]any, tc tool.Context) (tool.Result, error) {
	raw, _ := args["questions"].([]any)
	if len(raw) == 0 {
		return tool.Result{Title: "No questions", Output: "No questions were provided."}, nil
	}

	questions := make([]Info, 0, len(raw))
	for _, item := range raw {
		q, ok := item.(map[string]any)
		if !ok {
			continue
		}
		info := Info{
			Question: stringField(q, "question"),
			Header:   stringField(q, "header"),
			Multiple: boolField(q, "multiple"),
			Custom:   boolFieldDefault(q, "custom", true),
		}
		for _, rawOpt := range sliceField(q, "options") {
			opt, ok := rawOpt.(map[string]any)
			if !ok {
				continue
			}
			info.Options = append(info.Options, Option{
				Label:       stringField(opt, "label"),
				Description: stringField(opt, "description"),
			})
		}
		questions = append(questions, info)
	}

	answers, err := t.channel.Ask(ctx, tc.SessionID, questions, tc.ToolCallID, tc.MessageID, 0)
	switch {
	case errors.Is(err, ErrRejected):
		return tool.Result{
			Title:    "Questions dismissed",
			Output:   "The user dismissed the questions without answering.",
			Metadata: map[string]any{"rejected": true},
		}, nil
	case errors.Is(err, ErrTimeout):
		return tool.Result{
			Title:    "Questions timed out",
			Output:   ErrTimeout.Error(),
			Metadata: map[string]any{"timeout": true},
		}, nil
	case err != nil:
		return tool.Result{}, err
	}

	var sb strings.Builder
	for i, q := range questions {
		if i > 0 {
			sb.WriteString(", ")
		}
		answer := "Unanswered"
		if i < len(answers) && len(answers[i]) > 0 {
			answer = strings.Join(answers[i], ", ")
		}
		fmt.Fprintf(&sb, "%q=%q", q.Question, answer)
	}

	plural := ""
	if len(questions) != 1 {
		plural = "s"
	}
	return tool.Result{
		Title:    fmt.Sprintf("Asked %d question%s", len(questions), plural),
		Output:   fmt.Sprintf("User has answered your questions: %s. You can now continue with the user's answers in mind.", sb.String()),
		Metadata: map[string]any{"answers": answers},
	}, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func boolFieldDefault(m map[string]any, key string, def bool) bool {
	v, ok := m[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func sliceField(m map[string]any, key string) []any {
	s, _ := m[key].([]any)
	return s
}
