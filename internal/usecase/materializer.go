// Package usecase implements the run engine: materializing stored agent
// definitions into runnable agents and executing them directly, as a
// sequential handoff chain, or as tools of a composite coordinator.
package usecase

import (
	"context"
	"log/slog"

	"conductor/internal/domain"
	"conductor/internal/prompt"
)

// RunnableAgent is a materialized agent: formatted instructions plus
// resolved tool instances, ready for the executor.
type RunnableAgent struct {
	ID           string
	Name         string
	Instructions string
	Tools        []domain.Tool
	Hooks        *LifecycleHooks
}

// Materializer turns stored definitions plus user values into runnable
// agents. Tool names that resolve to nothing are skipped, not fatal: a
// definition may reference tools that this deployment does not register.
type Materializer struct {
	tools            domain.ToolExecutor
	logger           *slog.Logger
	multiValueFields []string
}

// NewMaterializer creates a materializer over the given tool source.
func NewMaterializer(tools domain.ToolExecutor, multiValueFields []string, logger *slog.Logger) *Materializer {
	return &Materializer{
		tools:            tools,
		logger:           logger,
		multiValueFields: multiValueFields,
	}
}

// Materialize builds a runnable agent from def and user-supplied placeholder
// values. The agent description is returned separately for agent-as-tool use.
func (m *Materializer) Materialize(def domain.AgentDefinition, values map[string]any) (*RunnableAgent, string) {
	values = prompt.NormalizeValues(values, m.multiValueFields)
	values = m.applyDefaults(def, values)

	instructions := prompt.Format(def.SystemPrompt, values, m.logger)
	if def.AdditionalPrompt != "" {
		instructions += "\n\n" + prompt.Format(def.AdditionalPrompt, values, m.logger)
	}

	agent := &RunnableAgent{
		ID:           def.ID,
		Name:         def.Name,
		Instructions: instructions,
		Tools:        m.resolveTools(def),
		Hooks:        NewLifecycleHooks(def.Name, m.logger),
	}
	return agent, def.Description
}

// applyDefaults fills declared field defaults for values the caller omitted.
// The caller's map is not mutated.
func (m *Materializer) applyDefaults(def domain.AgentDefinition, values map[string]any) map[string]any {
	out := make(map[string]any, len(values)+len(def.PromptFields))
	for k, v := range values {
		out[k] = v
	}
	for _, f := range def.PromptFields {
		if _, ok := out[f.Name]; !ok && f.DefaultValue != "" {
			out[f.Name] = f.DefaultValue
		}
	}
	return out
}

// resolveTools looks up each selected tool name. Unresolvable names are
// logged and skipped so one missing tool never blocks a run.
func (m *Materializer) resolveTools(def domain.AgentDefinition) []domain.Tool {
	tools := make([]domain.Tool, 0, len(def.SelectedTools))
	for _, name := range def.SelectedTools {
		t, err := m.tools.Get(name)
		if err != nil {
			m.logger.Warn("skipping unresolved tool",
				"agent", def.Name, "tool", name)
			continue
		}
		tools = append(tools, t)
	}
	return tools
}

// LifecycleHooks logs the lifecycle of an agent run. Hooks never affect
// execution; they exist for observability parity across run modes.
type LifecycleHooks struct {
	agentName string
	logger    *slog.Logger
}

// NewLifecycleHooks creates hooks bound to an agent name.
func NewLifecycleHooks(agentName string, logger *slog.Logger) *LifecycleHooks {
	return &LifecycleHooks{agentName: agentName, logger: logger}
}

func (h *LifecycleHooks) OnStart(_ context.Context) {
	h.logger.Info("agent started", "agent", h.agentName)
}

func (h *LifecycleHooks) OnEnd(_ context.Context, output string) {
	h.logger.Info("agent finished", "agent", h.agentName, "output_len", len(output))
}

func (h *LifecycleHooks) OnHandoff(_ context.Context, toAgent string) {
	h.logger.Info("agent handoff", "from", h.agentName, "to", toAgent)
}

func (h *LifecycleHooks) OnToolStart(_ context.Context, toolName string) {
	h.logger.Debug("tool started", "agent", h.agentName, "tool", toolName)
}

func (h *LifecycleHooks) OnToolEnd(_ context.Context, toolName string, isError bool) {
	h.logger.Debug("tool finished", "agent", h.agentName, "tool", toolName, "is_error", isError)
}
