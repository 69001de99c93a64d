package gateway

import (
	"net/http"
	"strconv"
	"time"

	"conductor/internal/domain"
	"conductor/internal/store"
)

func (s *Server) handleListOrchestrators(w http.ResponseWriter, r *http.Request) {
	orchs, err := s.deps.Store.ListOrchestrators(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orchs)
}

func (s *Server) handleGetOrchestrator(w http.ResponseWriter, r *http.Request) {
	orch, err := s.deps.Store.GetOrchestrator(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, orch)
}

func (s *Server) handleCreateOrchestrator(w http.ResponseWriter, r *http.Request) {
	var def domain.OrchestratorDefinition
	if !s.decodeJSON(w, r, &def) {
		return
	}
	if def.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	created, err := s.deps.Store.CreateOrchestrator(r.Context(), def)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateOrchestrator(w http.ResponseWriter, r *http.Request) {
	var def domain.OrchestratorDefinition
	if !s.decodeJSON(w, r, &def) {
		return
	}
	updated, err := s.deps.Store.UpdateOrchestrator(r.Context(), r.PathValue("id"), def)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteOrchestrator(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteOrchestrator(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type runOrchestratorRequest struct {
	UserInput         string         `json:"user_input"`
	PromptFieldValues map[string]any `json:"prompt_field_values"`
	SaveHistory       *bool          `json:"save_history"`
}

func (r runOrchestratorRequest) saveHistory() bool {
	return r.SaveHistory == nil || *r.SaveHistory
}

func (s *Server) handleRunOrchestrator(w http.ResponseWriter, r *http.Request) {
	var req runOrchestratorRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UserInput == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_input is required"})
		return
	}

	result, err := s.deps.Engine.RunOrchestrator(r.Context(), r.PathValue("id"), req.UserInput, req.PromptFieldValues, req.saveHistory())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOrchestratorHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilterFromQuery(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	entries, err := s.deps.History.List(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func historyFilterFromQuery(r *http.Request) (store.HistoryFilter, error) {
	var filter store.HistoryFilter
	q := r.URL.Query()

	if v := q.Get("start_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, domain.NewDomainError("gateway.history", domain.ErrInvalidInput, "invalid start_date")
		}
		filter.StartDate = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, domain.NewDomainError("gateway.history", domain.ErrInvalidInput, "invalid end_date")
		}
		// A date-only bound covers the whole day, so extend it to the last
		// instant before midnight.
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		filter.EndDate = &t
	}
	// Newest entries first unless the client asks for ascending order.
	filter.SortDesc = q.Get("sort") != "asc"
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, domain.NewDomainError("gateway.history", domain.ErrInvalidInput, "invalid offset")
		}
		filter.Offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, domain.NewDomainError("gateway.history", domain.ErrInvalidInput, "invalid limit")
		}
		filter.Limit = n
	}
	return filter, nil
}
