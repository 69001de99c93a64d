// Package store persists agent and orchestrator definitions plus
// per-orchestrator conversation history as JSON files on disk.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"conductor/internal/domain"
)

// FileStore holds agent and orchestrator definitions with JSON file
// persistence. All mutations rewrite the backing file atomically.
type FileStore struct {
	dir           string
	mu            sync.RWMutex
	agents        map[string]domain.AgentDefinition
	orchestrators map[string]domain.OrchestratorDefinition
}

// NewFileStore creates a file-backed definition store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("store: create dir: %w", err)
	}

	s := &FileStore{
		dir:           dir,
		agents:        make(map[string]domain.AgentDefinition),
		orchestrators: make(map[string]domain.OrchestratorDefinition),
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}

	return s, nil
}

// NewID generates a lexicographically sortable unique ID.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// --- agents ---

// ListAgents returns all agent definitions sorted by ID (creation order,
// since IDs are ULIDs).
func (s *FileStore) ListAgents(_ context.Context) ([]domain.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make([]domain.AgentDefinition, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

// GetAgent returns the agent with the given ID.
func (s *FileStore) GetAgent(_ context.Context, id string) (*domain.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, domain.NewDomainError("Store.GetAgent", domain.ErrAgentNotFound, id)
	}
	return &a, nil
}

// CreateAgent stores a new agent definition, assigning it a fresh ID.
func (s *FileStore) CreateAgent(_ context.Context, def domain.AgentDefinition) (*domain.AgentDefinition, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, domain.NewDomainError("Store.CreateAgent", domain.ErrInvalidInput, "name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	def.ID = NewID()
	s.agents[def.ID] = def
	if err := s.persistAgents(); err != nil {
		delete(s.agents, def.ID)
		return nil, err
	}
	return &def, nil
}

// UpdateAgent replaces the definition with the given ID. The stored ID wins
// over any ID carried in def.
func (s *FileStore) UpdateAgent(_ context.Context, id string, def domain.AgentDefinition) (*domain.AgentDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.agents[id]
	if !ok {
		return nil, domain.NewDomainError("Store.UpdateAgent", domain.ErrAgentNotFound, id)
	}

	def.ID = id
	s.agents[id] = def
	if err := s.persistAgents(); err != nil {
		s.agents[id] = prev
		return nil, err
	}
	return &def, nil
}

// DeleteAgent removes an agent. The delete is rejected with a ConflictError
// naming every orchestrator that still references the agent.
func (s *FileStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.agents[id]
	if !ok {
		return domain.NewDomainError("Store.DeleteAgent", domain.ErrAgentNotFound, id)
	}

	var dependents []string
	for _, o := range s.orchestrators {
		for _, agentID := range o.Agents {
			if agentID == id {
				dependents = append(dependents, o.Name)
				break
			}
		}
	}
	if len(dependents) > 0 {
		sort.Strings(dependents)
		return &domain.ConflictError{AgentID: id, Orchestrators: dependents}
	}

	delete(s.agents, id)
	if err := s.persistAgents(); err != nil {
		s.agents[id] = prev
		return err
	}
	return nil
}

// --- orchestrators ---

// ListOrchestrators returns all orchestrator definitions sorted by ID.
func (s *FileStore) ListOrchestrators(_ context.Context) ([]domain.OrchestratorDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orchs := make([]domain.OrchestratorDefinition, 0, len(s.orchestrators))
	for _, o := range s.orchestrators {
		orchs = append(orchs, o)
	}
	sort.Slice(orchs, func(i, j int) bool { return orchs[i].ID < orchs[j].ID })
	return orchs, nil
}

// GetOrchestrator returns the orchestrator with the given ID.
func (s *FileStore) GetOrchestrator(_ context.Context, id string) (*domain.OrchestratorDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orchestrators[id]
	if !ok {
		return nil, domain.NewDomainError("Store.GetOrchestrator", domain.ErrOrchestratorNotFound, id)
	}
	return &o, nil
}

// CreateOrchestrator stores a new orchestrator after validating that every
// member agent ID exists.
func (s *FileStore) CreateOrchestrator(_ context.Context, def domain.OrchestratorDefinition) (*domain.OrchestratorDefinition, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, domain.NewDomainError("Store.CreateOrchestrator", domain.ErrInvalidInput, "name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateAgentRefs("Store.CreateOrchestrator", def.Agents); err != nil {
		return nil, err
	}

	def.ID = NewID()
	s.orchestrators[def.ID] = def
	if err := s.persistOrchestrators(); err != nil {
		delete(s.orchestrators, def.ID)
		return nil, err
	}
	return &def, nil
}

// UpdateOrchestrator replaces the definition with the given ID after
// validating member agent IDs.
func (s *FileStore) UpdateOrchestrator(_ context.Context, id string, def domain.OrchestratorDefinition) (*domain.OrchestratorDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orchestrators[id]
	if !ok {
		return nil, domain.NewDomainError("Store.UpdateOrchestrator", domain.ErrOrchestratorNotFound, id)
	}

	if err := s.validateAgentRefs("Store.UpdateOrchestrator", def.Agents); err != nil {
		return nil, err
	}

	def.ID = id
	s.orchestrators[id] = def
	if err := s.persistOrchestrators(); err != nil {
		s.orchestrators[id] = prev
		return nil, err
	}
	return &def, nil
}

// DeleteOrchestrator removes an orchestrator definition. Its conversation
// history, if any, is left for the history store to manage.
func (s *FileStore) DeleteOrchestrator(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orchestrators[id]
	if !ok {
		return domain.NewDomainError("Store.DeleteOrchestrator", domain.ErrOrchestratorNotFound, id)
	}

	delete(s.orchestrators, id)
	if err := s.persistOrchestrators(); err != nil {
		s.orchestrators[id] = prev
		return err
	}
	return nil
}

// validateAgentRefs checks that every referenced agent ID exists.
// Caller must hold the lock.
func (s *FileStore) validateAgentRefs(op string, agentIDs []string) error {
	var missing []string
	for _, id := range agentIDs {
		if _, ok := s.agents[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return domain.NewDomainError(op, domain.ErrInvalidInput,
			fmt.Sprintf("unknown agent IDs: %s", strings.Join(missing, ", ")))
	}
	return nil
}

// --- persistence ---

func (s *FileStore) agentsPath() string {
	return filepath.Join(s.dir, "agents.json")
}

func (s *FileStore) orchestratorsPath() string {
	return filepath.Join(s.dir, "orchestrators.json")
}

func (s *FileStore) load() error {
	var agents []domain.AgentDefinition
	if err := readJSON(s.agentsPath(), &agents); err != nil {
		return err
	}
	for _, a := range agents {
		s.agents[a.ID] = a
	}

	var orchs []domain.OrchestratorDefinition
	if err := readJSON(s.orchestratorsPath(), &orchs); err != nil {
		return err
	}
	for _, o := range orchs {
		s.orchestrators[o.ID] = o
	}
	return nil
}

func (s *FileStore) persistAgents() error {
	agents := make([]domain.AgentDefinition, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return writeJSON(s.agentsPath(), agents)
}

func (s *FileStore) persistOrchestrators() error {
	orchs := make([]domain.OrchestratorDefinition, 0, len(s.orchestrators))
	for _, o := range s.orchestrators {
		orchs = append(orchs, o)
	}
	sort.Slice(orchs, func(i, j int) bool { return orchs[i].ID < orchs[j].ID })
	return writeJSON(s.orchestratorsPath(), orchs)
}

// readJSON loads a JSON file into v. A missing file is not an error.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return domain.WrapOp("read", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeJSON atomically writes v as indented JSON to path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return domain.WrapOp("write", err)
	}
	return os.Rename(tmp, path)
}
