package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/agentforge/agentcore/internal/orchestrator"
	"github.com/agentforge/agentcore/internal/provider"
)

// promptRequest is the §6 POST /session/{id}/message body.
type promptRequest struct {
	Content      string   `json:"content"`
	ProviderID   string   `json:"provider_id,omitempty"`
	ModelID      string   `json:"model_id,omitempty"`
	System       string   `json:"system,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	ToolsEnabled bool     `json:"tools_enabled"`
	AutoContinue *bool    `json:"auto_continue,omitempty"`
	MaxSteps     int      `json:"max_steps,omitempty"`
}

// wireToolCall is StreamChunk's ToolCall field, given JSON tags for the
// wire without adding them to the core provider package.
type wireToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// wireChunk is the JSON shape of a StreamChunk line on the SSE stream.
type wireChunk struct {
	Type       string        `json:"type"`
	Text       string        `json:"text,omitempty"`
	ToolCall   *wireToolCall `json:"tool_call,omitempty"`
	Usage      *wireUsage    `json:"usage,omitempty"`
	StopReason string        `json:"stop_reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	ToolOutput string        `json:"tool_output,omitempty"`
	ToolError  bool          `json:"tool_error,omitempty"`
}

func toWireChunk(c provider.StreamChunk) wireChunk {
	w := wireChunk{
		Type:       string(c.Type),
		Text:       c.Text,
		StopReason: string(c.StopReason),
		Error:      c.Err,
		ToolOutput: c.ToolOutput,
		ToolError:  c.ToolError,
	}
	if c.Type == provider.ChunkToolCall || c.Type == provider.ChunkToolResult {
		w.ToolCall = &wireToolCall{ID: c.ToolCall.ID, Name: c.ToolCall.Name, Arguments: c.ToolCall.Arguments}
	}
	if c.Usage != nil {
		w.Usage = &wireUsage{InputTokens: c.Usage.InputTokens, OutputTokens: c.Usage.OutputTokens}
	}
	return w
}

// handlePromptStream streams one orchestrator.Prompt call as
// `data: {chunk-json}\n\n` lines, ending with `data: [DONE]`.
func (s *Server) handlePromptStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if s.cfg.Gateway.MaxMessageChars > 0 && len(req.Content) > s.cfg.Gateway.MaxMessageChars {
		http.Error(w, "message too long", http.StatusRequestEntityTooLarge)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, err := s.orch.Prompt(r.Context(), sessionID, orchestrator.PromptInput{
		Content:      req.Content,
		ProviderID:   req.ProviderID,
		ModelID:      req.ModelID,
		System:       req.System,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		ToolsEnabled: req.ToolsEnabled,
		AutoContinue: req.AutoContinue,
		MaxSteps:     req.MaxSteps,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for chunk := range ch {
		data, err := json.Marshal(toWireChunk(chunk))
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// handleAbort implements §6's POST /session/{id}/abort.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	s.orch.Cancel(sessionID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"cancelled": true})
}
