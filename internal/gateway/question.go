package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/agentforge/agentcore/internal/tool/question"
)

type questionReplyRequest struct {
	Answers [][]string `json:"answers"`
}

// handleQuestionReply implements §6's POST /question/{request_id}/reply.
// The Question Channel resolves purely by request ID, so no session ID
// is threaded through the route — "gateway" is used only as the bus
// event's Publisher field for the resulting question.replied event.
func (s *Server) handleQuestionReply(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")

	var req questionReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	found := s.questions.Reply("gateway", requestID, question.Answers(req.Answers))
	if !found {
		http.Error(w, "no pending question with that request id", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQuestionReject implements §6's POST /question/{request_id}/reject.
func (s *Server) handleQuestionReject(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")

	found := s.questions.Reject("gateway", requestID)
	if !found {
		http.Error(w, "no pending question with that request id", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
