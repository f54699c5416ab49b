package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentforge/agentcore/internal/bus"
)

// consoleClient is one connected websocket operator console: a
// read-mostly push target that receives question.asked (so a human can
// answer it), mirroring the teacher's per-client
// bus subscription in registerClient/unregisterClient.
type consoleClient struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *consoleClient) send(ev bus.Event) {
	data, err := json.Marshal(wireEvent{Topic: string(ev.Topic), Publisher: ev.Publisher, Payload: ev.Payload})
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

// handleConsole upgrades to a websocket and pushes question.asked events
// to it until the client disconnects; no heartbeat is sent on it.
func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "error", err)
		return
	}

	client := &consoleClient{id: clientKey(r), conn: conn}
	s.registerConsoleClient(client)
	defer s.unregisterConsoleClient(client)

	// The console is push-only; drain and discard inbound frames so
	// ping/pong control frames and a client's eventual close frame are
	// still processed by gorilla/websocket's read loop.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) registerConsoleClient(c *consoleClient) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	sub := s.bus.Subscribe(bus.TopicQuestionAsked, c.send)
	go func() {
		// Tear down the subscription once the client is gone; the
		// connection's read loop (handleConsole) owns lifetime, this
		// goroutine just waits for removal to free the subscription.
		for {
			s.mu.RLock()
			_, alive := s.clients[c.id]
			s.mu.RUnlock()
			if !alive {
				sub.Unsubscribe()
				return
			}
			time.Sleep(time.Second)
		}
	}()

	slog.Info("gateway: console client connected", "id", c.id)
}

func (s *Server) unregisterConsoleClient(c *consoleClient) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.conn.Close()
	slog.Info("gateway: console client disconnected", "id", c.id)
}
