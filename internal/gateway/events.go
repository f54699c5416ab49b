package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentforge/agentcore/internal/bus"
)

// heartbeatIdle matches §4.2's "implicit server.heartbeat the SSE
// gateway emits on idle" and §4.12's 30s event-bus heartbeat timeout.
const heartbeatIdle = 30 * time.Second

type wireEvent struct {
	Topic     string `json:"topic"`
	Publisher string `json:"publisher,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// handleEventFirehose implements §6's GET /event: an SSE subscription to
// every bus event, with an idle heartbeat. Each subscriber has a buffer
// of 4096 events; events that arrive while it is full are dropped.
func (s *Server) handleEventFirehose(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events := make(chan bus.Event, 4096)
	sub := s.bus.SubscribeAll(func(ev bus.Event) {
		select {
		case events <- ev:
		default:
			// buffer full: drop the event rather than stall the bus's
			// drain goroutine behind a slow or blocked subscriber.
		}
	})
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(heartbeatIdle)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			data, err := json.Marshal(wireEvent{Topic: string(ev.Topic), Publisher: ev.Publisher, Payload: ev.Payload})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			ticker.Reset(heartbeatIdle)
		case <-ticker.C:
			fmt.Fprintf(w, "event: %s\ndata: {}\n\n", bus.TopicServerHeartbeat)
			flusher.Flush()
		}
	}
}
