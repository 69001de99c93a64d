// Package gateway exposes the engine over HTTP: definition CRUD, run
// endpoints, conversation history, and streaming via WebSocket and SSE.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/store"
	"conductor/internal/usecase"
)

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Store   *store.FileStore
	History *store.History
	Engine  *usecase.Engine
	Tools   domain.ToolExecutor
	Logger  *slog.Logger
	Version string
}

// Server is the HTTP gateway.
type Server struct {
	deps      Deps
	logger    *slog.Logger
	cfg       config.ServerConfig
	limiter   *rateLimiter // nil when rate limiting is disabled
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway server. A zero rate_limit_per_sec disables
// the per-client limiter.
func NewServer(deps Deps, cfg config.ServerConfig) *Server {
	s := &Server{
		deps:   deps,
		logger: deps.Logger,
		cfg:    cfg,
	}
	if cfg.RateLimitPerSec > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitPerSec) * 2
		}
		s.limiter = newRateLimiter(cfg.RateLimitPerSec, burst)
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleInfo)

	mux.HandleFunc("GET /agents", s.handleListAgents)
	mux.HandleFunc("POST /agents", s.handleCreateAgent)
	mux.HandleFunc("GET /agents/tools/available", s.handleAvailableTools)
	mux.HandleFunc("GET /agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PUT /agents/{id}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /agents/{id}", s.handleDeleteAgent)
	mux.HandleFunc("POST /agents/{id}/run", s.handleRunAgent)

	mux.HandleFunc("GET /orchestrators", s.handleListOrchestrators)
	mux.HandleFunc("POST /orchestrators", s.handleCreateOrchestrator)
	mux.HandleFunc("GET /orchestrators/{id}", s.handleGetOrchestrator)
	mux.HandleFunc("PUT /orchestrators/{id}", s.handleUpdateOrchestrator)
	mux.HandleFunc("DELETE /orchestrators/{id}", s.handleDeleteOrchestrator)
	mux.HandleFunc("POST /orchestrators/{id}/run", s.handleRunOrchestrator)
	mux.HandleFunc("GET /orchestrators/{id}/history", s.handleOrchestratorHistory)
	mux.HandleFunc("GET /orchestrators/{id}/stream", s.handleStreamWS)
	mux.HandleFunc("POST /orchestrators/{id}/stream-sse", s.handleStreamSSE)

	mux.HandleFunc("GET /conversations", s.handleListConversations)
	mux.HandleFunc("GET /conversations/search", s.handleSearchConversations)
	mux.HandleFunc("GET /conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("DELETE /conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("DELETE /conversations/{id}/messages", s.handleClearConversation)

	if s.limiter != nil {
		return s.limiter.middleware(mux)
	}
	return mux
}

// Start begins serving. Blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{Handler: s.routes()}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler { return s.routes() }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":    "conductor",
		"version": s.deps.Version,
	})
}

// --- shared helpers ---

const maxRequestBody = 1 << 20 // 1MB

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON body: " + err.Error(),
		})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps domain errors onto HTTP statuses. Conflicts carry the
// names of the orchestrators that still reference the agent.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"error":         conflict.Error(),
			"orchestrators": conflict.Orchestrators,
		})
	case errors.Is(err, domain.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
