// Package question implements the Interactive Question Channel (§4.9): a
// process-wide table of one-shot rendezvous points keyed by request ID,
// letting the question tool block the agentic loop until an operator
// replies or rejects out of band, or a timeout fires.
package question

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agentforge/agentcore/internal/bus"
	"github.com/agentforge/agentcore/internal/identifier"
)

// DefaultTimeout is the 300s default from §4.9; callers may override per ask.
const DefaultTimeout = 300 * time.Second

// Option is a single choice offered for one question.
type Option struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Info is one question to put in front of the user.
type Info struct {
	Question string   `json:"question"`
	Header   string   `json:"header"`
	Options  []Option `json:"options"`
	Multiple bool     `json:"multiple"`
	Custom   bool     `json:"custom"`
}

// Request is the payload published on bus.TopicQuestionAsked.
type Request struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	Questions  []Info `json:"questions"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
}

// Answers is one selection list per question, in question order.
type Answers [][]string

// ErrRejected is returned by Ask when the user dismisses the questions
// instead of answering them.
var ErrRejected = errors.New("question: the user dismissed this question")

// ErrTimeout is returned by Ask when no reply or rejection arrives before
// the deadline.
var ErrTimeout = errors.New("question: timed out waiting for an answer")

type outcome struct {
	answers Answers
	err     error
}

// Channel is the process-wide pending-question table. Each request ID is
// resolved at most once; a reply or rejection after resolution (or after
// timeout, when the entry has already been removed) is silently ignored,
// matching the one-shot contract in §4.9's invariants.
type Channel struct {
	bus *bus.Bus

	mu      sync.Mutex
	pending map[string]chan outcome
}

func New(b *bus.Bus) *Channel {
	return &Channel{bus: b, pending: make(map[string]chan outcome)}
}

// Ask publishes a question.asked event and blocks until Reply, Reject, the
// context is cancelled, or timeout elapses — whichever comes first.
func (c *Channel) Ask(ctx context.Context, sessionID string, questions []Info, toolCallID, messageID string, timeout time.Duration) (Answers, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	requestID := toolCallID
	if requestID == "" {
		requestID = identifier.New(identifier.Question)
	}

	ch := make(chan outcome, 1)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}()

	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Topic:     bus.TopicQuestionAsked,
			Publisher: sessionID,
			Payload: Request{
				ID:         requestID,
				SessionID:  sessionID,
				Questions:  questions,
				ToolCallID: toolCallID,
				MessageID:  messageID,
			},
		})
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.answers, out.err
	case <-timer.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply delivers answers to the pending request named requestID. Reports
// whether a matching, still-unresolved request was found.
func (c *Channel) Reply(sessionID, requestID string, answers Answers) bool {
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- outcome{answers: answers}:
	default:
	}

	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Topic:     bus.TopicQuestionReplied,
			Publisher: sessionID,
			Payload:   struct{ RequestID string }{RequestID: requestID},
		})
	}
	return true
}

// Reject dismisses the pending request named requestID. Reports whether a
// matching, still-unresolved request was found.
func (c *Channel) Reject(sessionID, requestID string) bool {
	c.mu.Lock()
	ch, ok := c.pending[requestID]
	if ok {
		delete(c.pending, requestID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- outcome{err: ErrRejected}:
	default:
	}

	if c.bus != nil {
		c.bus.Publish(bus.Event{
			Topic:     bus.TopicQuestionRejected,
			Publisher: sessionID,
			Payload:   struct{ RequestID string }{RequestID: requestID},
		})
	}
	return true
}

// Pending returns the request IDs currently awaiting a reply.
func (c *Channel) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	return ids
}
