// Package message implements the Message Store: an append-only log of
// user/assistant messages, each assistant message growing an ordered list
// of typed parts. Grounded on the original session/message.py module,
// generalized from its Supabase-or-local branch into a single
// storage.Store contract (the remote/local split becomes the caller's
// choice of which Store to construct, per §4.5's "opaque to callers"
// rule — see internal/storage/pg vs internal/storage/sqlitekv).
package message

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/agentforge/agentcore/internal/bus"
	"github.com/agentforge/agentcore/internal/identifier"
	"github.com/agentforge/agentcore/internal/storage"
)

// Role discriminates the two message variants.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType discriminates the assistant-message part variants.
type PartType string

const (
	PartText        PartType = "text"
	PartReasoning   PartType = "reasoning"
	PartToolCall    PartType = "tool_call"
	PartToolResult  PartType = "tool_result"
	PartStepStart   PartType = "step_start"
	PartStepFinish  PartType = "step_finish"
)

// ToolStatus is the lifecycle of a tool_call part.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

// Part is one typed fragment of an assistant message.
type Part struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	MessageID string         `json:"message_id"`
	Type      PartType       `json:"type"`
	Content   string         `json:"content,omitempty"`

	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	ToolOutput string         `json:"tool_output,omitempty"`
	ToolStatus ToolStatus     `json:"tool_status,omitempty"`

	StepNumber *int    `json:"step_number,omitempty"`
	MaxSteps   *int    `json:"max_steps,omitempty"`
	InputTok   *int    `json:"input_tokens,omitempty"`
	OutputTok  *int    `json:"output_tokens,omitempty"`
	Cost       *float64 `json:"cost,omitempty"`
	StopReason string  `json:"stop_reason,omitempty"`
}

// Usage is an assistant message's final token/cost accounting.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost,omitempty"`
}

// Message is either a user or assistant message. Role discriminates which
// fields apply: user messages only ever set Content; assistant messages
// grow Parts, Usage, Error, Finish, and Summary.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	// User-message fields.
	Content string `json:"content,omitempty"`

	// Assistant-message fields.
	ProviderID string  `json:"provider_id,omitempty"`
	ModelID    string  `json:"model,omitempty"`
	Parts      []*Part `json:"parts,omitempty"`
	Usage      *Usage  `json:"usage,omitempty"`
	Error      string  `json:"error,omitempty"`
	Finish     string  `json:"finish,omitempty"`
	Summary    bool    `json:"summary,omitempty"`
}

// NotFoundError mirrors storage.ErrNotFound but names the entity, matching
// the original NotFoundError(key) convenience.
type NotFoundError struct {
	Key storage.Key
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("message: not found: %s", e.Key) }

// Store is the Message Store component.
type Store struct {
	kv  storage.Store
	bus *bus.Bus
}

// New constructs a Message Store over the given key/value backend and
// event bus.
func New(kv storage.Store, b *bus.Bus) *Store {
	return &Store{kv: kv, bus: b}
}

func key(sessionID, messageID string) storage.Key {
	return storage.Key{"message", sessionID, messageID}
}

// CreateUser appends an immutable user message.
func (s *Store) CreateUser(ctx context.Context, sessionID, content string) (*Message, error) {
	m := &Message{
		ID:        identifier.New(identifier.Message),
		SessionID: sessionID,
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.write(ctx, m); err != nil {
		return nil, err
	}
	s.publishMessageUpdated(sessionID, m.ID)
	return m, nil
}

// CreateAssistant appends an empty assistant message that later grows
// parts via AddPart/UpdatePart.
func (s *Store) CreateAssistant(ctx context.Context, sessionID, providerID, modelID string, summary bool) (*Message, error) {
	m := &Message{
		ID:         identifier.New(identifier.Message),
		SessionID:  sessionID,
		Role:       RoleAssistant,
		ProviderID: providerID,
		ModelID:    modelID,
		Parts:      []*Part{},
		Summary:    summary,
		CreatedAt:  time.Now(),
	}
	if err := s.write(ctx, m); err != nil {
		return nil, err
	}
	s.publishMessageUpdated(sessionID, m.ID)
	return m, nil
}

// Get loads a single message.
func (s *Store) Get(ctx context.Context, sessionID, messageID string) (*Message, error) {
	raw, err := s.kv.Read(ctx, key(sessionID, messageID))
	if err != nil {
		return nil, &NotFoundError{Key: key(sessionID, messageID)}
	}
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("message: decode %s/%s: %w", sessionID, messageID, err)
	}
	return &m, nil
}

// List returns every message in the session, ascending creation order,
// optionally capped at limit (0 = unlimited).
func (s *Store) List(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	keys, err := s.kv.List(ctx, storage.Key{"message", sessionID})
	if err != nil {
		return nil, fmt.Errorf("message: list %s: %w", sessionID, err)
	}

	messages := make([]*Message, 0, len(keys))
	for _, k := range keys {
		raw, err := s.kv.Read(ctx, k)
		if err != nil {
			continue
		}
		var m Message
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		messages = append(messages, &m)
	}

	// IDs are monotonically sortable tokens (internal/identifier), so
	// sorting by ID reproduces creation order even when two messages share
	// a CreatedAt timestamp at whatever clock resolution the host gives us.
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// AddPart assigns the part an ID and appends it to message_id's part list.
func (s *Store) AddPart(ctx context.Context, sessionID, messageID string, part *Part) (*Part, error) {
	m, err := s.Get(ctx, sessionID, messageID)
	if err != nil {
		return nil, err
	}
	part.ID = identifier.New(identifier.Part)
	part.SessionID = sessionID
	part.MessageID = messageID
	m.Parts = append(m.Parts, part)

	if err := s.write(ctx, m); err != nil {
		return nil, err
	}
	s.publishPartUpdated(sessionID, messageID, part.ID)
	return part, nil
}

// UpdatePart merges fn's mutation into the existing part with the given
// ID. Returns a NotFoundError if no such part exists on the message.
func (s *Store) UpdatePart(ctx context.Context, sessionID, messageID, partID string, mutate func(*Part)) (*Part, error) {
	m, err := s.Get(ctx, sessionID, messageID)
	if err != nil {
		return nil, err
	}
	for _, p := range m.Parts {
		if p.ID == partID {
			mutate(p)
			if err := s.write(ctx, m); err != nil {
				return nil, err
			}
			s.publishPartUpdated(sessionID, messageID, partID)
			return p, nil
		}
	}
	return nil, &NotFoundError{Key: storage.Key{"part", messageID, partID}}
}

// SetUsage records an assistant message's final token usage.
func (s *Store) SetUsage(ctx context.Context, sessionID, messageID string, usage Usage) error {
	m, err := s.Get(ctx, sessionID, messageID)
	if err != nil {
		return err
	}
	m.Usage = &usage
	return s.write(ctx, m)
}

// SetError records a terminal error on an assistant message.
func (s *Store) SetError(ctx context.Context, sessionID, messageID, errMsg string) error {
	m, err := s.Get(ctx, sessionID, messageID)
	if err != nil {
		return err
	}
	m.Error = errMsg
	return s.write(ctx, m)
}

// SetFinish records the normalized stop reason on an assistant message.
func (s *Store) SetFinish(ctx context.Context, sessionID, messageID, finish string) error {
	m, err := s.Get(ctx, sessionID, messageID)
	if err != nil {
		return err
	}
	m.Finish = finish
	return s.write(ctx, m)
}

// Delete removes a message.
func (s *Store) Delete(ctx context.Context, sessionID, messageID string) error {
	if err := s.kv.Remove(ctx, key(sessionID, messageID)); err != nil {
		return fmt.Errorf("message: delete %s/%s: %w", sessionID, messageID, err)
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{Topic: bus.TopicMessageRemoved, Publisher: sessionID, Payload: map[string]string{
			"session_id": sessionID, "message_id": messageID,
		}})
	}
	return nil
}

func (s *Store) write(ctx context.Context, m *Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("message: encode %s: %w", m.ID, err)
	}
	if err := s.kv.Write(ctx, key(m.SessionID, m.ID), raw); err != nil {
		return fmt.Errorf("message: write %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) publishMessageUpdated(sessionID, messageID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Topic: bus.TopicMessageCreated, Publisher: sessionID, Payload: map[string]string{
		"session_id": sessionID, "message_id": messageID,
	}})
}

func (s *Store) publishPartUpdated(sessionID, messageID, partID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Topic: bus.TopicPartUpdated, Publisher: sessionID, Payload: map[string]string{
		"session_id": sessionID, "message_id": messageID, "part_id": partID,
	}})
}
