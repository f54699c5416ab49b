// Package todo implements the todo-list tool: a thin read/write
// wrapper over a session-scoped storage.Store entry, grounded on
// _examples/original_source/src/opencode_api/tool/todo.py's TodoTool
// (read/write actions, {id, content, status, priority} item shape,
// status/priority icon rendering). The orchestrator's agentic loop
// polls the same storage key to decide whether to inject a
// continue-working reminder (spec.md §4.12.3 step 6).
package todo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/agentforge/agentcore/internal/storage"
	"github.com/agentforge/agentcore/internal/tool"
)

// Status is a todo item's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Priority is a todo item's relative urgency.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Item is one todo-list entry.
type Item struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`
}

func key(sessionID string) storage.Key { return storage.Key{"todo", sessionID} }

// Load reads sessionID's todo list, returning an empty slice (not an
// error) when none has been written yet.
func Load(ctx context.Context, st storage.Store, sessionID string) ([]Item, error) {
	raw, err := st.Read(ctx, key(sessionID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("todo: read %s: %w", sessionID, err)
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("todo: decode %s: %w", sessionID, err)
	}
	return items, nil
}

// HasPending reports whether sessionID's todo list contains any item
// that is neither completed nor cancelled — the signal the agentic
// loop uses to decide whether a continue-working reminder is due.
func HasPending(ctx context.Context, st storage.Store, sessionID string) (bool, error) {
	items, err := Load(ctx, st, sessionID)
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if it.Status != StatusCompleted && it.Status != StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

type params struct {
	Action string `json:"action" jsonschema:"enum=read,enum=write,description=read or write the todo list"`
	Todos  []Item `json:"todos,omitempty" jsonschema:"description=full replacement list (required for write)"`
}

// Tool is the "todo" tool: read returns the current list formatted as
// checkbox lines, write replaces it wholesale.
type Tool struct {
	st storage.Store
}

// New constructs the todo tool over st.
func New(st storage.Store) *Tool {
	return &Tool{st: st}
}

func (t *Tool) ID() string { return "todo" }

func (t *Tool) Description() string {
	return "Manage a todo list for tracking multi-step tasks. Supports pending, in_progress, completed, and cancelled statuses."
}

func (t *Tool) ParameterSchema() map[string]any {
	return tool.SchemaFor(params{})
}

func (t *Tool) Execute(ctx context.Context, args map[string]any, tc tool.Context) (tool.Result, error) {
	action, _ := args["action"].(string)
	switch action {
	case "read":
		items, err := Load(ctx, t.st, tc.SessionID)
		if err != nil {
			return tool.Result{}, err
		}
		return tool.Result{Title: "Todo List", Output: render(items), Metadata: map[string]any{"count": len(items)}}, nil

	case "write":
		items, err := decodeItems(args["todos"])
		if err != nil {
			return tool.Result{}, err
		}
		raw, err := json.Marshal(items)
		if err != nil {
			return tool.Result{}, fmt.Errorf("todo: encode: %w", err)
		}
		if err := t.st.Write(ctx, key(tc.SessionID), raw); err != nil {
			return tool.Result{}, fmt.Errorf("todo: write: %w", err)
		}
		return tool.Result{Title: "Todo List Updated", Output: render(items), Metadata: map[string]any{"count": len(items)}}, nil

	default:
		return tool.Result{Title: "Todo Error", Output: fmt.Sprintf("unknown action: %q", action), Metadata: map[string]any{"error": "invalid_action"}}, nil
	}
}

func decodeItems(raw any) ([]Item, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("todo: encode todos arg: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("todo: decode todos arg: %w", err)
	}
	return items, nil
}

var statusIcon = map[Status]string{
	StatusPending:    "[ ]",
	StatusInProgress: "[~]",
	StatusCompleted:  "[x]",
	StatusCancelled:  "[-]",
}

var priorityIcon = map[Priority]string{
	PriorityHigh:   "!!!",
	PriorityMedium: "!!",
	PriorityLow:    "!",
}

func render(items []Item) string {
	if len(items) == 0 {
		return "No todos found for this session."
	}
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("%s %s %s (id: %s)", statusIcon[it.Status], priorityIcon[it.Priority], it.Content, it.ID))
	}
	return strings.Join(lines, "\n")
}
