package gateway

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentforge/agentcore/internal/agent"
	"github.com/agentforge/agentcore/internal/bus"
	"github.com/agentforge/agentcore/internal/config"
	"github.com/agentforge/agentcore/internal/message"
	"github.com/agentforge/agentcore/internal/orchestrator"
	"github.com/agentforge/agentcore/internal/provider"
	"github.com/agentforge/agentcore/internal/session"
	"github.com/agentforge/agentcore/internal/storage/memkv"
	"github.com/agentforge/agentcore/internal/tool"
	"github.com/agentforge/agentcore/internal/tool/question"
)

func newTestServer(t *testing.T) (*Server, *session.Store, *bus.Bus) {
	return newTestServerWithToken(t, "")
}

func newTestServerWithToken(t *testing.T, token string) (*Server, *session.Store, *bus.Bus) {
	t.Helper()
	b := bus.New()
	sessKV := memkv.New()
	msgKV := memkv.New()

	messages := message.New(msgKV, b)
	sessions := session.New(sessKV, msgKV, b)

	providers := provider.NewRegistry()
	providers.Register(provider.NewFake(provider.StreamChunk{
		Type:       provider.ChunkText,
		Text:       "hi there",
	}, provider.StreamChunk{
		Type:       provider.ChunkDone,
		StopReason: provider.StopEndTurn,
		Usage:      &provider.Usage{InputTokens: 1, OutputTokens: 1},
	}), 100)

	catalog := agent.NewCatalog()
	tools := tool.NewRegistry()
	store := memkv.New()

	orch := orchestrator.New(sessions, messages, providers, tools, catalog, b, store)
	questions := question.New(b)

	cfg := config.Default()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 0
	cfg.Gateway.Token = token

	return NewServer(cfg, b, orch, sessions, questions), sessions, b
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPromptStreamEndsWithDone(t *testing.T) {
	s, sessions, _ := newTestServer(t)
	sess, err := sessions.Create(context.Background(), session.CreateInput{ProviderID: "fake", ModelID: "fake-model"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	body := strings.NewReader(`{"content":"hello","tools_enabled":false,"auto_continue":false}`)
	resp, err := http.Post("http://"+addr+"/session/"+sess.ID+"/message", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			lines = append(lines, line)
		}
	}
	require.NotEmpty(t, lines)
	assert.Equal(t, "data: [DONE]", lines[len(lines)-1])
}

func TestAbortReturnsCancelledTrue(t *testing.T) {
	s, sessions, _ := newTestServer(t)
	sess, err := sessions.Create(context.Background(), session.CreateInput{ProviderID: "fake", ModelID: "fake-model"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Post("http://"+addr+"/session/"+sess.ID+"/abort", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestQuestionReplyUnknownRequestIDReturns404(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	body := strings.NewReader(`{"answers":[["Y"]]}`)
	resp, err := http.Post("http://"+addr+"/question/does-not-exist/reply", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimiterBlocksAfterBudgetExhausted(t *testing.T) {
	rl := NewRateLimiter(1) // 1 req/min -> burst of 1
	assert.True(t, rl.Allow("client-a"))
	assert.False(t, rl.Allow("client-a"))
	assert.True(t, rl.Allow("client-b"))
}

func TestRateLimiterDisabledWhenRPMNonPositive(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("client-a"))
	}
}

func TestAuthRejectsMissingOrWrongBearerToken(t *testing.T) {
	s, sess, _ := newTestServerWithToken(t, "secret-token")
	created, err := sess.Create(context.Background(), session.CreateInput{ProviderID: "fake", ModelID: "fake-model"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Post("http://"+addr+"/session/"+created.ID+"/abort", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/session/"+created.ID+"/abort", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestAuthNotEnforcedOnHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServerWithToken(t, "secret-token")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	addr, start := StartTestServer(s, ctx)
	go start()
	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
