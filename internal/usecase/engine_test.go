package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/store"
)

// stubStore serves fixed definitions and records updates.
type stubStore struct {
	agents  map[string]domain.AgentDefinition
	orchs   map[string]domain.OrchestratorDefinition
	updated []domain.AgentDefinition
}

func (s *stubStore) GetAgent(_ context.Context, id string) (*domain.AgentDefinition, error) {
	def, ok := s.agents[id]
	if !ok {
		return nil, domain.ErrAgentNotFound
	}
	return &def, nil
}

func (s *stubStore) UpdateAgent(_ context.Context, id string, def domain.AgentDefinition) (*domain.AgentDefinition, error) {
	s.agents[id] = def
	s.updated = append(s.updated, def)
	return &def, nil
}

func (s *stubStore) GetOrchestrator(_ context.Context, id string) (*domain.OrchestratorDefinition, error) {
	def, ok := s.orchs[id]
	if !ok {
		return nil, domain.ErrOrchestratorNotFound
	}
	return &def, nil
}

type nullHistory struct{}

func (nullHistory) Append(context.Context, string, string, string, map[string]any) error {
	return nil
}

func newTestEngine(st DefinitionStore, h HistoryRecorder, p domain.LLMProvider, mode string) *Engine {
	return NewEngine(EngineDeps{
		Store:    st,
		History:  h,
		Tools:    &stubTools{},
		Resolver: &staticResolver{provider: p},
		Logger:   testLogger(),
		Config:   config.EngineConfig{Mode: mode, MaxIterations: 5},
	})
}

func chainStore() *stubStore {
	return &stubStore{
		agents: map[string]domain.AgentDefinition{
			"a1": {ID: "a1", Name: "First", SystemPrompt: "You are first.", Handoff: true},
			"a2": {ID: "a2", Name: "Second", SystemPrompt: "You are second.", Handoff: true},
			"a3": {ID: "a3", Name: "Third", SystemPrompt: "You are third.", Handoff: true},
		},
		orchs: map[string]domain.OrchestratorDefinition{
			"o1": {ID: "o1", Name: "Chain", Agents: []string{"a1", "a2", "a3"}},
		},
	}
}

func TestRunAgentByIDEmbedsExecutionError(t *testing.T) {
	st := chainStore()
	eng := newTestEngine(st, nullHistory{}, &scriptedProvider{err: assert.AnError}, config.ModeSequential)

	result, err := eng.RunAgentByID(context.Background(), "a1", "hi", nil)
	require.NoError(t, err)
	assert.Contains(t, result.Response, "Error executing agent First")
	require.Len(t, result.Details.Errors, 1)
	assert.Equal(t, "a1", result.Details.Errors[0].AgentID)
}

func TestRunAgentByIDUnknownAgent(t *testing.T) {
	eng := newTestEngine(chainStore(), nullHistory{}, &scriptedProvider{}, config.ModeSequential)

	_, err := eng.RunAgentByID(context.Background(), "ghost", "hi", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunAgentByIDDerivesPromptFields(t *testing.T) {
	st := &stubStore{agents: map[string]domain.AgentDefinition{
		"a1": {ID: "a1", Name: "Agent", SystemPrompt: "Look at {topic} in {region}."},
	}}
	p := &scriptedProvider{responses: []domain.ChatResponse{
		assistantText("ok", domain.Usage{TotalTokens: 1}),
	}}
	eng := newTestEngine(st, nullHistory{}, p, config.ModeSequential)

	_, err := eng.RunAgentByID(context.Background(), "a1", "hi", map[string]any{"topic": "x", "region": "y"})
	require.NoError(t, err)

	// Fields derived from placeholders are persisted back to the store.
	require.Len(t, st.updated, 1)
	fields := st.updated[0].PromptFields
	require.Len(t, fields, 2)
	assert.Equal(t, "region", fields[0].Name)
	assert.Equal(t, "topic", fields[1].Name)
	assert.True(t, fields[0].Required)
}

func TestRunOrchestratorSequentialChain(t *testing.T) {
	p := &scriptedProvider{responses: []domain.ChatResponse{
		assistantText("from first", domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}),
		assistantText("from second", domain.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30}),
		assistantText("from third", domain.Usage{PromptTokens: 30, CompletionTokens: 15, TotalTokens: 45}),
	}}
	eng := newTestEngine(chainStore(), nullHistory{}, p, config.ModeSequential)

	result, err := eng.RunOrchestrator(context.Background(), "o1", "start here", nil, false)
	require.NoError(t, err)

	assert.Equal(t, "from third", result.Response)
	require.Len(t, result.Details.AgentCalls, 3)
	assert.Empty(t, result.Details.Errors)
	assert.Equal(t, 90, result.TokenUsage.TotalTokens)

	// Each agent receives the previous agent's output as input.
	require.Len(t, p.requests, 3)
	assert.Equal(t, "start here", p.requests[0].Messages[1].Content)
	assert.Equal(t, "from first", p.requests[1].Messages[1].Content)
	assert.Equal(t, "from second", p.requests[2].Messages[1].Content)
}

func TestRunOrchestratorSequentialStopsWithoutHandoff(t *testing.T) {
	st := chainStore()
	second := st.agents["a2"]
	second.Handoff = false
	st.agents["a2"] = second

	p := &scriptedProvider{responses: []domain.ChatResponse{
		assistantText("from first", domain.Usage{TotalTokens: 10}),
		assistantText("from second", domain.Usage{TotalTokens: 10}),
	}}
	eng := newTestEngine(st, nullHistory{}, p, config.ModeSequential)

	result, err := eng.RunOrchestrator(context.Background(), "o1", "go", nil, false)
	require.NoError(t, err)

	assert.Equal(t, "from second", result.Response)
	assert.Len(t, result.Details.AgentCalls, 2)
	assert.Len(t, p.requests, 2)
}

func TestRunOrchestratorSequentialSkipsMissingAgent(t *testing.T) {
	st := chainStore()
	orch := st.orchs["o1"]
	orch.Agents = []string{"a1", "ghost", "a3"}
	st.orchs["o1"] = orch

	p := &scriptedProvider{responses: []domain.ChatResponse{
		assistantText("from first", domain.Usage{TotalTokens: 10}),
		assistantText("from third", domain.Usage{TotalTokens: 10}),
	}}
	eng := newTestEngine(st, nullHistory{}, p, config.ModeSequential)

	result, err := eng.RunOrchestrator(context.Background(), "o1", "go", nil, false)
	require.NoError(t, err)

	assert.Equal(t, "from third", result.Response)
	assert.Len(t, result.Details.AgentCalls, 2)
	require.Len(t, result.Details.Errors, 1)
	assert.Equal(t, "ghost", result.Details.Errors[0].AgentID)
	assert.Contains(t, result.Details.Errors[0].Message, "skipped")
}

func TestRunOrchestratorSequentialAbortsOnFailure(t *testing.T) {
	// Only the first call is scripted; the second agent's call fails.
	p := &scriptedProvider{responses: []domain.ChatResponse{
		assistantText("from first", domain.Usage{TotalTokens: 10}),
	}}
	eng := newTestEngine(chainStore(), nullHistory{}, p, config.ModeSequential)

	result, err := eng.RunOrchestrator(context.Background(), "o1", "go", nil, false)
	require.NoError(t, err)

	assert.Contains(t, result.Response, "Error executing agent Second")
	require.Len(t, result.Details.Errors, 1)
	assert.Equal(t, "a2", result.Details.Errors[0].AgentID)
	assert.Len(t, result.Details.AgentCalls, 1)
	assert.Len(t, p.requests, 2)
}

func TestRunOrchestratorNotFound(t *testing.T) {
	eng := newTestEngine(chainStore(), nullHistory{}, &scriptedProvider{}, config.ModeSequential)

	_, err := eng.RunOrchestrator(context.Background(), "ghost", "go", nil, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func compositeStore() *stubStore {
	return &stubStore{
		agents: map[string]domain.AgentDefinition{
			"a1": {ID: "a1", Name: "Helper", Description: "Helps out", SystemPrompt: "You help."},
		},
		orchs: map[string]domain.OrchestratorDefinition{
			"o1": {ID: "o1", Name: "Team", Agents: []string{"a1"}},
		},
	}
}

func TestRunOrchestratorComposite(t *testing.T) {
	p := &scriptedProvider{responses: []domain.ChatResponse{
		// Coordinator delegates to the member agent tool.
		assistantToolCall("helper", `{"input":"sub-task"}`),
		// The member agent answers.
		assistantText("member answer", domain.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}),
		// Coordinator composes the final response.
		assistantText("final answer", domain.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}),
	}}
	eng := newTestEngine(compositeStore(), nullHistory{}, p, config.ModeComposite)

	result, err := eng.RunOrchestrator(context.Background(), "o1", "do the thing", nil, false)
	require.NoError(t, err)

	assert.Equal(t, "final answer", result.Response)
	require.Len(t, result.Details.AgentCalls, 1)
	assert.Equal(t, "Helper", result.Details.AgentCalls[0].AgentName)
	assert.Equal(t, "member answer", result.Details.AgentCalls[0].Response)

	// Coordinator usage plus member usage.
	assert.Equal(t, 180, result.TokenUsage.TotalTokens)

	// The coordinator sees the member as a tool and its roster in the prompt.
	require.NotEmpty(t, p.requests)
	require.Len(t, p.requests[0].Tools, 1)
	assert.Equal(t, "helper", p.requests[0].Tools[0].Name)
	assert.Contains(t, p.requests[0].Messages[0].Content, "Available agents:")
	assert.Contains(t, p.requests[0].Messages[0].Content, "- helper: Helps out")

	// The member agent's input is what the coordinator passed.
	assert.Equal(t, "sub-task", p.requests[1].Messages[1].Content)
}

func TestRunOrchestratorCompositeRecordsMemberFailure(t *testing.T) {
	p := &scriptedProvider{responses: []domain.ChatResponse{
		assistantToolCall("helper", `{"input":"sub-task"}`),
		// Member call fails (no more scripted responses)...
		// ...then the coordinator recovers once the loop continues.
	}}
	eng := newTestEngine(compositeStore(), nullHistory{}, p, config.ModeComposite)

	result, err := eng.RunOrchestrator(context.Background(), "o1", "go", nil, false)
	require.NoError(t, err)

	// Both the member failure and the coordinator failure are embedded.
	assert.NotEmpty(t, result.Details.Errors)
	assert.Equal(t, "a1", result.Details.Errors[0].AgentID)
}

func TestRunOrchestratorCompositeUsesOrchestratorPrompt(t *testing.T) {
	st := compositeStore()
	orch := st.orchs["o1"]
	orch.SystemPrompt = "Coordinate carefully."
	st.orchs["o1"] = orch

	p := &scriptedProvider{responses: []domain.ChatResponse{
		assistantText("done", domain.Usage{TotalTokens: 1}),
	}}
	eng := newTestEngine(st, nullHistory{}, p, config.ModeComposite)

	_, err := eng.RunOrchestrator(context.Background(), "o1", "go", nil, false)
	require.NoError(t, err)

	assert.Contains(t, p.requests[0].Messages[0].Content, "Coordinate carefully.")
}

func TestRunOrchestratorSavesHistory(t *testing.T) {
	h, err := store.NewHistory(t.TempDir(), testLogger())
	require.NoError(t, err)

	p := &scriptedProvider{responses: []domain.ChatResponse{
		assistantText("the answer", domain.Usage{TotalTokens: 10}),
	}}
	eng := newTestEngine(compositeStore(), h, p, config.ModeComposite)

	values := map[string]any{"topic": "sales"}
	_, err = eng.RunOrchestrator(context.Background(), "o1", "the question", values, true)
	require.NoError(t, err)

	entries, err := h.List(context.Background(), "o1", store.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "the question", entries[0].User)
	assert.Equal(t, "the answer", entries[0].Response)
	assert.Equal(t, "sales", entries[0].UserValues["topic"])
}

func TestRunOrchestratorSkipsHistoryWhenDisabled(t *testing.T) {
	h, err := store.NewHistory(t.TempDir(), testLogger())
	require.NoError(t, err)

	p := &scriptedProvider{responses: []domain.ChatResponse{
		assistantText("the answer", domain.Usage{TotalTokens: 10}),
	}}
	eng := newTestEngine(compositeStore(), h, p, config.ModeComposite)

	_, err = eng.RunOrchestrator(context.Background(), "o1", "the question", nil, false)
	require.NoError(t, err)

	entries, err := h.List(context.Background(), "o1", store.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStreamOrchestratorEventSequence(t *testing.T) {
	p := &scriptedProvider{responses: []domain.ChatResponse{
		assistantToolCall("helper", `{"input":"sub-task"}`),
		assistantText("member answer", domain.Usage{TotalTokens: 10}),
		assistantText("final answer", domain.Usage{TotalTokens: 10}),
	}}
	eng := newTestEngine(compositeStore(), nullHistory{}, p, config.ModeComposite)

	events, err := eng.StreamOrchestrator(context.Background(), "o1", "go", nil, false)
	require.NoError(t, err)

	var collected []domain.RunEvent
	for ev := range events {
		collected = append(collected, ev)
	}

	require.NotEmpty(t, collected)
	assert.Equal(t, domain.RunEventStart, collected[0].Type)

	last := collected[len(collected)-1]
	assert.Equal(t, domain.RunEventComplete, last.Type)
	require.NotNil(t, last.FinalOutput)
	assert.Equal(t, "final answer", *last.FinalOutput)

	var sawHandoff bool
	for _, ev := range collected {
		if ev.Type == domain.RunEventHandoff {
			sawHandoff = true
			assert.Equal(t, "Helper", ev.NewAgent)
		}
	}
	assert.True(t, sawHandoff)
}

func TestStreamOrchestratorRecordsFailedRun(t *testing.T) {
	h, err := store.NewHistory(t.TempDir(), testLogger())
	require.NoError(t, err)

	eng := newTestEngine(compositeStore(), h, &scriptedProvider{err: assert.AnError}, config.ModeComposite)

	events, err := eng.StreamOrchestrator(context.Background(), "o1", "the question", nil, true)
	require.NoError(t, err)
	for range events {
	}

	// A failed run is still recorded, with the error text as the response.
	entries, err := h.List(context.Background(), "o1", store.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "the question", entries[0].User)
	assert.Contains(t, entries[0].Response, "Error executing orchestrator Team")
}

func TestStreamOrchestratorUnknownID(t *testing.T) {
	eng := newTestEngine(compositeStore(), nullHistory{}, &scriptedProvider{}, config.ModeComposite)

	_, err := eng.StreamOrchestrator(context.Background(), "ghost", "go", nil, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStreamOrchestratorEmitsErrorEvent(t *testing.T) {
	eng := newTestEngine(compositeStore(), nullHistory{}, &scriptedProvider{err: assert.AnError}, config.ModeComposite)

	events, err := eng.StreamOrchestrator(context.Background(), "o1", "go", nil, false)
	require.NoError(t, err)

	var collected []domain.RunEvent
	for ev := range events {
		collected = append(collected, ev)
	}

	last := collected[len(collected)-1]
	assert.Equal(t, domain.RunEventError, last.Type)
	assert.Contains(t, last.Err, "Team")
}
