package gateway

import (
	"net/http"

	"conductor/internal/domain"
	"conductor/internal/prompt"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.deps.Store.ListAgents(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.deps.Store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var def domain.AgentDefinition
	if !s.decodeJSON(w, r, &def) {
		return
	}
	if def.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if len(def.PromptFields) == 0 {
		def.PromptFields = prompt.DefaultFields(def)
	}

	created, err := s.deps.Store.CreateAgent(r.Context(), def)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var def domain.AgentDefinition
	if !s.decodeJSON(w, r, &def) {
		return
	}
	updated, err := s.deps.Store.UpdateAgent(r.Context(), r.PathValue("id"), def)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteAgent(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAvailableTools(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.deps.Tools.Schemas())
}

type runAgentRequest struct {
	UserInput         string         `json:"user_input"`
	PromptFieldValues map[string]any `json:"prompt_field_values"`
}

func (s *Server) handleRunAgent(w http.ResponseWriter, r *http.Request) {
	var req runAgentRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.UserInput == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_input is required"})
		return
	}

	result, err := s.deps.Engine.RunAgentByID(r.Context(), r.PathValue("id"), req.UserInput, req.PromptFieldValues)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
