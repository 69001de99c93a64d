package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"conductor/internal/domain"
)

// runAccumulator collects per-agent contributions across a composite run.
// Agent tools write into it as the coordinator invokes them.
type runAccumulator struct {
	mu     sync.Mutex
	calls  []domain.AgentCall
	errors []domain.RunError
	usage  domain.Usage
	cost   domain.Cost
}

func (a *runAccumulator) addCall(call domain.AgentCall) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
	a.usage.Add(call.TokenUsage)
	a.cost.Add(call.Cost)
}

func (a *runAccumulator) addError(e domain.RunError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = append(a.errors, e)
}

// AgentTool exposes a materialized agent as a callable tool of a coordinator
// agent. The schema takes a single input string; the agent's full response is
// returned as the tool output.
type AgentTool struct {
	agent       *RunnableAgent
	description string
	exec        *Executor
	acc         *runAccumulator
	emit        func(domain.RunEvent) // nil outside streaming runs
}

// NewAgentTool wraps agent for coordinator use. description falls back to a
// generic "Tool to use the NAME agent" line when the definition has none.
func NewAgentTool(agent *RunnableAgent, description string, exec *Executor, acc *runAccumulator, emit func(domain.RunEvent)) *AgentTool {
	if strings.TrimSpace(description) == "" {
		description = fmt.Sprintf("Tool to use the %s agent", agent.Name)
	}
	return &AgentTool{
		agent:       agent,
		description: description,
		exec:        exec,
		acc:         acc,
		emit:        emit,
	}
}

// Name returns the tool name derived from the agent name: lowercased with
// whitespace collapsed to underscores, to satisfy function-calling naming.
func (t *AgentTool) Name() string {
	return agentToolName(t.agent.Name)
}

func (t *AgentTool) Description() string { return t.description }

func (t *AgentTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.description,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"input": {"type": "string", "description": "The request to pass to the agent"}
			},
			"required": ["input"]
		}`),
	}
}

type agentToolParams struct {
	Input string `json:"input"`
}

func (t *AgentTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	var p agentToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid params: %v", err),
		}, nil
	}

	if t.emit != nil {
		t.emit(domain.RunEvent{Type: domain.RunEventHandoff, NewAgent: t.agent.Name})
	}

	result, err := t.exec.RunAgent(ctx, t.agent, p.Input)
	if err != nil {
		t.acc.addError(domain.RunError{
			AgentID: t.agent.ID,
			Message: err.Error(),
		})
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("agent %s failed: %v", t.agent.Name, err),
		}, nil
	}

	t.acc.addCall(domain.AgentCall{
		AgentID:    t.agent.ID,
		AgentName:  t.agent.Name,
		Response:   result.Response,
		TokenUsage: result.Usage,
		Cost:       result.Cost,
	})

	return &domain.ToolResult{Content: result.Response}, nil
}

func agentToolName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), "_"))
}

var _ domain.Tool = (*AgentTool)(nil)
