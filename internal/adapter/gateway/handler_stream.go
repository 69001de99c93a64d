package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"conductor/internal/domain"
	"conductor/internal/usecase"
)

type streamRequest struct {
	UserInput         string         `json:"user_input"`
	PromptFieldValues map[string]any `json:"prompt_field_values"`
	SaveHistory       *bool          `json:"save_history"`
}

func (r streamRequest) saveHistory() bool {
	return r.SaveHistory == nil || *r.SaveHistory
}

// handleStreamWS upgrades to WebSocket, reads one request message, and
// streams run events until the run completes or the client disconnects.
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()

	var req streamRequest
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = wsjson.Read(readCtx, ws, &req)
	cancel()
	if err != nil {
		ws.Close(websocket.StatusPolicyViolation, "expected a JSON request message")
		return
	}
	if req.UserInput == "" {
		s.writeWSEvent(ctx, ws, map[string]any{"type": "error", "message": "user_input is required"})
		ws.Close(websocket.StatusPolicyViolation, "user_input is required")
		return
	}

	events, err := s.deps.Engine.StreamOrchestrator(ctx, r.PathValue("id"), req.UserInput, req.PromptFieldValues, req.saveHistory())
	if err != nil {
		s.writeWSEvent(ctx, ws, map[string]any{"type": "error", "message": err.Error()})
		if errors.Is(err, domain.ErrNotFound) {
			ws.Close(websocket.StatusPolicyViolation, "orchestrator not found")
		} else {
			ws.Close(websocket.StatusInternalError, "run failed to start")
		}
		return
	}

	for ev := range events {
		if !s.writeWSEvent(ctx, ws, usecase.SerializeEvent(ev)) {
			return
		}
	}

	ws.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) writeWSEvent(ctx context.Context, ws *websocket.Conn, payload map[string]any) bool {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, ws, payload); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
		return false
	}
	return true
}

// handleStreamSSE streams run events as Server-Sent Events. Each event is a
// single data: frame carrying the serialized event map.
func (s *Server) handleStreamSSE(w http.ResponseWriter, r *http.Request) {
	var req streamRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UserInput == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_input is required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	events, err := s.deps.Engine.StreamOrchestrator(r.Context(), r.PathValue("id"), req.UserInput, req.PromptFieldValues, req.saveHistory())
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		payload, err := json.Marshal(usecase.SerializeEvent(ev))
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}
