package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// OpenAICompatAdapter streams chat completions from any OpenAI-compatible
// endpoint (OpenAI itself, or — under the "litellm" registration — a
// multi-backend gateway fronting Gemini/Groq/DeepSeek/OpenRouter/zai).
// Grounded on the teacher's OpenAIProvider, which serves the identical
// multi-backend role via a configurable apiBase/chatPath.
type OpenAICompatAdapter struct {
	id       string
	apiKey   string
	apiBase  string
	chatPath string
	client   *http.Client
	models   map[string]ModelInfo
}

// NewOpenAICompatAdapter constructs an adapter registered under id,
// talking to apiBase (trailing slash trimmed) + "/chat/completions".
func NewOpenAICompatAdapter(id, apiKey, apiBase string, models map[string]ModelInfo) *OpenAICompatAdapter {
	return &OpenAICompatAdapter{
		id:       id,
		apiKey:   apiKey,
		apiBase:  strings.TrimRight(apiBase, "/"),
		chatPath: "/chat/completions",
		client:   &http.Client{Timeout: 120 * time.Second},
		models:   models,
	}
}

func (a *OpenAICompatAdapter) ID() string                  { return a.id }
func (a *OpenAICompatAdapter) Name() string                { return a.id }
func (a *OpenAICompatAdapter) Models() map[string]ModelInfo { return a.models }

func (a *OpenAICompatAdapter) Stream(ctx context.Context, req StreamRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		if err := a.attempt(ctx, req, ch); err != nil {
			ch <- StreamChunk{Type: ChunkError, Err: err.Error()}
		}
	}()
	return ch, nil
}

func (a *OpenAICompatAdapter) attempt(ctx context.Context, req StreamRequest, ch chan<- StreamChunk) error {
	body := a.buildBody(req)
	respBody, err := a.doRequest(ctx, body)
	if err != nil {
		return err
	}
	defer respBody.Close()

	sawToolCall := false
	pendingStop := StopEndTurn
	var usage *Usage
	args := newArgBuilder()
	toolCallIDs := make(map[int]string)
	toolCallNames := make(map[int]string)
	openToolCall := make(map[int]bool)

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = &Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				pendingStop = normalizeOpenAIStop(choice.FinishReason)
			}
			d := choice.Delta
			if d.Content != "" {
				ch <- StreamChunk{Type: ChunkText, Text: d.Content}
			}
			for _, tc := range d.ToolCalls {
				openToolCall[tc.Index] = true
				if tc.ID != "" {
					toolCallIDs[tc.Index] = tc.ID
				}
				if tc.Function.Name != "" {
					toolCallNames[tc.Index] = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					args.append(tc.Index, tc.Function.Arguments)
				}
			}
		}
	}

	indices := make([]int, 0, len(openToolCall))
	for idx := range openToolCall {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		sawToolCall = true
		ch <- StreamChunk{Type: ChunkToolCall, ToolCall: ToolCall{
			ID:        toolCallIDs[idx],
			Name:      toolCallNames[idx],
			Arguments: args.finish(idx),
		}}
	}

	if sawToolCall {
		pendingStop = StopToolCalls
	}
	ch <- StreamChunk{Type: ChunkDone, Usage: usage, StopReason: pendingStop}
	return nil
}

func normalizeOpenAIStop(native string) StopReason {
	switch native {
	case "tool_calls":
		return StopToolCalls
	case "length":
		return StopMaxTokens
	case "content_filter":
		return StopContentFilter
	default:
		return StopEndTurn
	}
}

func (a *OpenAICompatAdapter) buildBody(req StreamRequest) map[string]any {
	var messages []map[string]any
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			continue
		}
		messages = append(messages, map[string]any{"role": string(m.Role), "content": m.Content})
	}

	body := map[string]any{
		"model":    req.ModelID,
		"messages": messages,
		"stream":   true,
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		body["max_tokens"] = *req.MaxTokens
	}
	if len(req.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		body["tools"] = tools
	}
	return body
}

func (a *OpenAICompatAdapter) doRequest(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", a.id, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+a.chatPath, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", a.id, err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request: %w", a.id, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: status %d: %s", a.id, resp.StatusCode, string(errBody))
	}
	return resp.Body, nil
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
