package token

import (
	"testing"

	"github.com/agentforge/agentcore/internal/message"
	"github.com/stretchr/testify/assert"
)

func TestEstimateRoundsAndClampsZero(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	assert.Equal(t, 1, Estimate("ab"))
	assert.Equal(t, 3, Estimate("twelve chars"))
}

func TestCountClassifiesUserAsInput(t *testing.T) {
	msgs := []*message.Message{
		{Role: message.RoleUser, Content: "hello there"},
	}
	u := Count(msgs)
	assert.Equal(t, Estimate("hello there"), u.Input)
	assert.Equal(t, 0, u.Output)
}

func TestCountClassifiesAssistantPartsAsOutput(t *testing.T) {
	msgs := []*message.Message{
		{
			Role: message.RoleAssistant,
			Parts: []*message.Part{
				{Type: message.PartText, Content: "a response"},
				{Type: message.PartReasoning, Content: "thinking"},
				{Type: message.PartToolCall, ToolName: "search", ToolArgs: map[string]any{"q": "go"}},
				{Type: message.PartToolResult, ToolOutput: "result data"},
			},
		},
	}
	u := Count(msgs)
	assert.True(t, u.Output > 0)
	assert.Equal(t, Estimate("result data"), u.Input)
}

func TestIsOverflowReservesMinOfOutputLimitAnd16384(t *testing.T) {
	msgs := []*message.Message{
		{Role: message.RoleUser, Content: "short"},
	}
	assert.False(t, IsOverflow(msgs, 1000, 500))

	big := make([]*message.Message, 0)
	for i := 0; i < 100; i++ {
		big = append(big, &message.Message{Role: message.RoleUser, Content: string(make([]byte, 1000))})
	}
	assert.True(t, IsOverflow(big, 100, 32000))
}

func TestUsageTotal(t *testing.T) {
	u := Usage{Input: 3, Output: 4}
	assert.Equal(t, 7, u.Total())
}
