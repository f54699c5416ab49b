// Package session implements the Session Store: metadata, ordering, and
// cost rollups for a conversational thread. Grounded on the original
// session/session.py module, with the Supabase/local branch collapsed
// into a single storage.Store (see internal/message for the same
// collapse).
package session

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

// Session is a conversational thread and its metadata.
type Session struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProviderID string `json:"provider_id,omitempty"`
	ModelID    string `json:"model_id,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`

	TotalCost         float64 `json:"total_cost"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
}

// NotFoundError names the missing session.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("session: not found: %s", e.SessionID) }

// CreateInput carries the fields a caller may set at creation time.
type CreateInput struct {
	Title      string
	OwnerID    string
	ProviderID string
	ModelID    string
	AgentID    string
}

// Store is the Session Store component. It also owns cascading deletion
// of a session's messages, so it's constructed with both the session
// backend and the message backend.
type Store struct {
	kv        storage.Store
	messageKV storage.Store
	bus       *bus.Bus
}

// New constructs a Session Store. messageKV may be the same Store as kv
// (the common single-backend case) or a distinct one if sessions and
// messages are split across backends.
func New(kv, messageKV storage.Store, b *bus.Bus) *Store {
	return &Store{kv: kv, messageKV: messageKV, bus: b}
}

func key(id string) storage.Key { return storage.Key{"session", id} }

// Create mints a new session.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Session, error) {
	now := time.Now()
	title := in.Title
	if title == "" {
		title = fmt.Sprintf("Session %s", now.Format(time.RFC3339))
	}
	agentID := in.AgentID
	if agentID == "" {
		agentID = "build"
	}

	sess := &Session{
		ID:         identifier.New(identifier.Session),
		OwnerID:    in.OwnerID,
		Title:      title,
		CreatedAt:  now,
		UpdatedAt:  now,
		ProviderID: in.ProviderID,
		ModelID:    in.ModelID,
		AgentID:    agentID,
	}

	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}
	s.publish(bus.TopicSessionCreated, sess)
	return sess, nil
}

// Get loads a session by ID.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.kv.Read(ctx, key(id))
	if err != nil {
		return nil, &NotFoundError{SessionID: id}
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &sess, nil
}

// Update applies mutate to the session and bumps updated_at. Totals must
// only ever grow — callers accumulating usage should add to the existing
// values rather than overwrite them, matching the monotonic-totals
// invariant.
func (s *Store) Update(ctx context.Context, id string, mutate func(*Session)) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(sess)
	sess.UpdatedAt = time.Now()
	if err := s.write(ctx, sess); err != nil {
		return nil, err
	}
	s.publish(bus.TopicSessionUpdated, sess)
	return sess, nil
}

// Touch bumps updated_at without any other field change.
func (s *Store) Touch(ctx context.Context, id string) error {
	_, err := s.Update(ctx, id, func(*Session) {})
	return err
}

// Delete removes the session and cascades to all of its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	msgKeys, err := s.messageKV.List(ctx, storage.Key{"message", id})
	if err != nil {
		return fmt.Errorf("session: list messages for delete %s: %w", id, err)
	}
	for _, k := range msgKeys {
		if err := s.messageKV.Remove(ctx, k); err != nil {
			return fmt.Errorf("session: cascade delete %s: %w", k, err)
		}
	}

	if err := s.kv.Remove(ctx, key(id)); err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	s.publish(bus.TopicSessionDeleted, sess)
	return nil
}

// List returns sessions ordered by updated_at descending, optionally
// capped at limit (0 = unlimited).
func (s *Store) List(ctx context.Context, limit int) ([]*Session, error) {
	keys, err := s.kv.List(ctx, storage.Key{"session"})
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}

	sessions := make([]*Session, 0, len(keys))
	for _, k := range keys {
		raw, err := s.kv.Read(ctx, k)
		if err != nil {
			continue
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			continue
		}
		sessions = append(sessions, &sess)
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt) })
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (s *Store) write(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", sess.ID, err)
	}
	if err := s.kv.Write(ctx, key(sess.ID), raw); err != nil {
		return fmt.Errorf("session: write %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) publish(topic bus.Topic, sess *Session) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Topic: topic, Publisher: sess.ID, Payload: map[string]string{
		"id": sess.ID, "title": sess.Title,
	}})
}
