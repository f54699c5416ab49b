package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicAdapter streams Claude responses via a hand-rolled SSE line
// scanner — the same approach the teacher's own Anthropic provider uses
// rather than pulling in a generic SSE client library — and normalizes
// them into the shared StreamChunk contract.
type AnthropicAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
	models  map[string]ModelInfo
}

// NewAnthropicAdapter constructs an adapter for the given model catalog.
func NewAnthropicAdapter(apiKey string, models map[string]ModelInfo) *AnthropicAdapter {
	return &AnthropicAdapter{
		apiKey:  apiKey,
		baseURL: anthropicAPIBase,
		client:  &http.Client{Timeout: 120 * time.Second},
		models:  models,
	}
}

func (a *AnthropicAdapter) ID() string                    { return "anthropic" }
func (a *AnthropicAdapter) Name() string                  { return "Anthropic" }
func (a *AnthropicAdapter) Models() map[string]ModelInfo   { return a.models }

func (a *AnthropicAdapter) Stream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		if err := a.attempt(ctx, req, ch, req.Thinking); err != nil {
			// Extended-thinking fallback: retry once without thinking if the
			// backend rejected it specifically for that reason.
			if req.Thinking && mentionsThinkingRejection(err) {
				if err := a.attempt(ctx, req, ch, false); err != nil {
					ch <- StreamChunk{Type: ChunkError, Err: err.Error()}
				}
				return
			}
			ch <- StreamChunk{Type: ChunkError, Err: err.Error()}
		}
	}()
	return ch, nil
}

// attempt opens one connection and streams its chunks into ch. It
// returns an error only for a connection-phase failure (before any chunk
// was parsed); once streaming begins, failures are reported as an Error
// chunk and attempt returns nil.
func (a *AnthropicAdapter) attempt(ctx context.Context, req StreamRequest, ch chan<- StreamChunk, withThinking bool) error {
	body := a.buildBody(req, withThinking)
	respBody, err := a.doRequest(ctx, body)
	if err != nil {
		return err
	}
	defer respBody.Close()

	sawToolCall := false
	var pendingStop StopReason = StopEndTurn
	var usage *Usage
	args := newArgBuilder()
	toolCallIndex := -1
	var toolCallID, toolCallName string

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var event string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		switch event {
		case "message_start":
			var ev anthropicMessageStartEvent
			if json.Unmarshal([]byte(data), &ev) == nil {
				usage = &Usage{InputTokens: ev.Message.Usage.InputTokens}
			}

		case "content_block_start":
			var ev anthropicContentBlockStartEvent
			if json.Unmarshal([]byte(data), &ev) == nil && ev.ContentBlock.Type == "tool_use" {
				toolCallIndex++
				toolCallID = ev.ContentBlock.ID
				toolCallName = strings.TrimSpace(ev.ContentBlock.Name)
			}

		case "content_block_delta":
			var ev anthropicContentBlockDeltaEvent
			if json.Unmarshal([]byte(data), &ev) != nil {
				continue
			}
			switch ev.Delta.Type {
			case "text_delta":
				ch <- StreamChunk{Type: ChunkText, Text: ev.Delta.Text}
			case "thinking_delta":
				ch <- StreamChunk{Type: ChunkReasoning, Text: ev.Delta.Thinking}
			case "input_json_delta":
				args.append(toolCallIndex, ev.Delta.PartialJSON)
			}

		case "content_block_stop":
			if toolCallIndex >= 0 && toolCallName != "" {
				sawToolCall = true
				ch <- StreamChunk{Type: ChunkToolCall, ToolCall: ToolCall{
					ID:        toolCallID,
					Name:      toolCallName,
					Arguments: args.finish(toolCallIndex),
				}}
				toolCallName = ""
			}

		case "message_delta":
			var ev anthropicMessageDeltaEvent
			if json.Unmarshal([]byte(data), &ev) == nil {
				pendingStop = normalizeAnthropicStop(ev.Delta.StopReason)
				if usage == nil {
					usage = &Usage{}
				}
				usage.OutputTokens = ev.Usage.OutputTokens
			}

		case "error":
			var ev anthropicErrorEvent
			if json.Unmarshal([]byte(data), &ev) == nil {
				ch <- StreamChunk{Type: ChunkError, Err: fmt.Sprintf("%s: %s", ev.Error.Type, ev.Error.Message)}
				return nil
			}
		}
	}

	if err := scanner.Err(); err != nil {
		ch <- StreamChunk{Type: ChunkError, Err: fmt.Sprintf("anthropic: read stream: %v", err)}
		return nil
	}
	if sawToolCall {
		pendingStop = StopToolCalls // override rule (§4.7): any tool_call forces stop_reason=tool_calls
	}
	ch <- StreamChunk{Type: ChunkDone, Usage: usage, StopReason: pendingStop}
	return nil
}

func mentionsThinkingRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "thinking") || strings.Contains(msg, "budget") || strings.Contains(msg, "unsupported")
}

func normalizeAnthropicStop(native string) StopReason {
	switch native {
	case "tool_use":
		return StopToolCalls
	case "max_tokens":
		return StopMaxTokens
	case "stop_sequence", "end_turn":
		return StopEndTurn
	default:
		return StopEndTurn
	}
}

func (a *AnthropicAdapter) buildBody(req StreamRequest, withThinking bool) map[string]any {
	var messages []map[string]any
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			continue
		}
		messages = append(messages, map[string]any{"role": string(m.Role), "content": m.Content})
	}

	maxTokens := 4096
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	body := map[string]any{
		"model":      req.ModelID,
		"max_tokens": maxTokens,
		"messages":   messages,
		"stream":     true,
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			})
		}
		body["tools"] = tools
	}
	if withThinking {
		body["thinking"] = map[string]any{"type": "enabled", "budget_tokens": 10000}
		delete(body, "temperature")
	}
	return body
}

func (a *AnthropicAdapter) doRequest(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, string(errBody))
	}
	return resp.Body, nil
}

type anthropicMessageStartEvent struct {
	Message struct {
		Usage struct {
			InputTokens int `json:"input_tokens"`
		} `json:"usage"`
	} `json:"message"`
}

type anthropicContentBlockStartEvent struct {
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
}

type anthropicContentBlockDeltaEvent struct {
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

type anthropicMessageDeltaEvent struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicErrorEvent struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
