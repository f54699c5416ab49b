// Package gateway is the illustrative external HTTP surface spec.md §6
// names as a pluggable, out-of-scope collaborator: an SSE prompt stream,
// an abort endpoint, a bus event firehose, and the question reply/reject
// endpoints the Interactive Question Channel needs to be answered from
// outside the process, plus a websocket operator console that pushes
// question.asked so a human reviewer doesn't have to
// poll. Grounded on the teacher's internal/gateway/server.go (Server
// struct shape, gorilla/websocket upgrader + CheckOrigin, client
// registry, BuildMux/Start/StartTestServer) generalized from its
// multi-channel bot gateway (chat completions, responses, managed-mode
// CRUD APIs) down to the single-session-stream surface spec.md §6
// actually specifies; the teacher's own client.go/method_router.go/
// rate_limiter.go that server.go depends on weren't part of the
// retrieved source, so the client registry and rate limiter here are
// built fresh against golang.org/x/time/rate (already used the same way
// by internal/provider.Registry's per-provider limiters).
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentforge/agentcore/internal/bus"
	"github.com/agentforge/agentcore/internal/config"
	"github.com/agentforge/agentcore/internal/orchestrator"
	"github.com/agentforge/agentcore/internal/session"
	"github.com/agentforge/agentcore/internal/tool/question"
)

// Server is the HTTP/WS surface in front of an Orchestrator.
type Server struct {
	cfg       *config.Config
	bus       *bus.Bus
	orch      *orchestrator.Orchestrator
	sessions  *session.Store
	questions *question.Channel

	upgrader    websocket.Upgrader
	rateLimiter *RateLimiter

	mu      sync.RWMutex
	clients map[string]*consoleClient

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer constructs a Server wired to the given components.
func NewServer(cfg *config.Config, b *bus.Bus, orch *orchestrator.Orchestrator, sessions *session.Store, questions *question.Channel) *Server {
	s := &Server{
		cfg:       cfg,
		bus:       b,
		orch:      orch,
		sessions:  sessions,
		questions: questions,
		clients:   make(map[string]*consoleClient),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.rateLimiter = NewRateLimiter(cfg.Gateway.RateLimitRPM)
	return s
}

// checkOrigin validates a WebSocket upgrade's Origin header against the
// configured allowlist. An empty allowlist permits every origin (the
// default, single-operator deployment); a non-browser client (no
// Origin header at all) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("gateway: rejected websocket origin", "origin", origin)
	return false
}

// BuildMux constructs (and caches) the server's route table.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /session/{id}/message", s.withAuth(s.withRateLimit(s.handlePromptStream)))
	mux.HandleFunc("POST /session/{id}/abort", s.withAuth(s.handleAbort))
	mux.HandleFunc("GET /event", s.withAuth(s.handleEventFirehose))
	mux.HandleFunc("POST /question/{request_id}/reply", s.withAuth(s.handleQuestionReply))
	mux.HandleFunc("POST /question/{request_id}/reject", s.withAuth(s.handleQuestionReject))
	mux.HandleFunc("/ws", s.withAuth(s.handleConsole))

	s.mux = mux
	return mux
}

// withAuth enforces cfg.Gateway.Token as a bearer credential. An empty
// token (the default, single-operator deployment) disables the check
// entirely rather than locking everyone out.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Gateway.Token
		if token == "" {
			next(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter.Allow(clientKey(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func clientKey(r *http.Request) string {
	if token := r.Header.Get("Authorization"); token != "" {
		return token
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// Start begins listening, shutting down gracefully when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway: starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: serve: %w", err)
	}
	return nil
}

// StartTestServer binds to a random localhost port for integration
// tests, returning the bound address and a blocking start function.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := s.BuildMux()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("gateway: listen: " + err.Error())
	}
	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}
