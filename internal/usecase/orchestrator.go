package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/infra/tracer"
	"conductor/internal/prompt"
)

// DefinitionStore is the slice of the definition store the engine needs.
type DefinitionStore interface {
	GetAgent(ctx context.Context, id string) (*domain.AgentDefinition, error)
	UpdateAgent(ctx context.Context, id string, def domain.AgentDefinition) (*domain.AgentDefinition, error)
	GetOrchestrator(ctx context.Context, id string) (*domain.OrchestratorDefinition, error)
}

// HistoryRecorder records completed orchestrator exchanges.
type HistoryRecorder interface {
	Append(ctx context.Context, orchestratorID, user, response string, userValues map[string]any) error
}

// Engine runs agents and orchestrators. Orchestrators execute in one of two
// modes: "composite" exposes member agents as tools of a coordinator agent
// and lets the model own the call sequence; "sequential" runs members in
// definition order, chaining each agent's output into the next agent's input
// until an agent without handoff enabled terminates the chain.
type Engine struct {
	store      DefinitionStore
	history    HistoryRecorder
	mat        *Materializer
	resolver   domain.ModelResolver
	httpClient *http.Client
	logger     *slog.Logger
	cfg        config.EngineConfig
}

// EngineDeps bundles the engine's dependencies.
type EngineDeps struct {
	Store      DefinitionStore
	History    HistoryRecorder
	Tools      domain.ToolExecutor
	Resolver   domain.ModelResolver
	HTTPClient *http.Client
	Logger     *slog.Logger
	Config     config.EngineConfig
}

// NewEngine creates a run engine.
func NewEngine(deps EngineDeps) *Engine {
	return &Engine{
		store:      deps.Store,
		history:    deps.History,
		mat:        NewMaterializer(deps.Tools, deps.Config.MultiValueFields, deps.Logger),
		resolver:   deps.Resolver,
		httpClient: deps.HTTPClient,
		logger:     deps.Logger,
		cfg:        deps.Config,
	}
}

// newExecutor builds the per-run executor. Close releases the run's idle
// connections back to the OS when the run ends.
func (e *Engine) newExecutor() *Executor {
	return NewExecutor(ExecutorDeps{
		Resolver:      e.resolver,
		HTTPClient:    e.httpClient,
		Logger:        e.logger,
		MaxIterations: e.cfg.MaxIterations,
	})
}

// RunAgentByID materializes and runs a single stored agent. Execution errors
// are embedded in the result rather than returned, so callers can always
// render a response; only a missing agent is a hard error.
func (e *Engine) RunAgentByID(ctx context.Context, agentID, input string, values map[string]any) (*domain.RunResult, error) {
	ctx, span := tracer.StartSpan(ctx, "engine.run_agent",
		trace.WithAttributes(tracer.StringAttr("agent.id", agentID)),
	)
	defer span.End()

	def, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	e.ensurePromptFields(ctx, def)

	runnable, _ := e.mat.Materialize(*def, values)
	exec := e.newExecutor()
	defer exec.Close()

	res, err := exec.RunAgent(ctx, runnable, input)
	if err != nil {
		tracer.RecordError(span, err)
		return &domain.RunResult{
			Response: fmt.Sprintf("Error executing agent %s: %v", def.Name, err),
			Details: domain.ExecutionDetails{
				Errors: []domain.RunError{{AgentID: def.ID, Message: err.Error()}},
			},
		}, nil
	}

	result := &domain.RunResult{
		Response: res.Response,
		Details: domain.ExecutionDetails{
			AgentCalls: []domain.AgentCall{{
				AgentID:    def.ID,
				AgentName:  def.Name,
				Response:   res.Response,
				TokenUsage: res.Usage,
				Cost:       res.Cost,
			}},
		},
		TokenUsage: res.Usage,
		Cost:       res.Cost,
	}
	result.Cost.Round()
	tracer.SetOK(span)
	return result, nil
}

// ensurePromptFields derives and persists default prompt fields for agents
// stored without any, so clients always see the fields a run would accept.
func (e *Engine) ensurePromptFields(ctx context.Context, def *domain.AgentDefinition) {
	if len(def.PromptFields) > 0 {
		return
	}
	fields := prompt.DefaultFields(*def)
	if len(fields) == 0 {
		return
	}
	def.PromptFields = fields
	if _, err := e.store.UpdateAgent(ctx, def.ID, *def); err != nil {
		e.logger.Warn("failed to persist derived prompt fields",
			"agent_id", def.ID, "error", err)
	}
}

// RunOrchestrator executes an orchestrator in the configured mode and
// optionally records the exchange in conversation history.
func (e *Engine) RunOrchestrator(ctx context.Context, orchestratorID, input string, values map[string]any, saveHistory bool) (*domain.RunResult, error) {
	ctx, span := tracer.StartSpan(ctx, "engine.run_orchestrator",
		trace.WithAttributes(
			tracer.StringAttr("orchestrator.id", orchestratorID),
			tracer.StringAttr("engine.mode", e.cfg.Mode),
		),
	)
	defer span.End()

	orch, err := e.store.GetOrchestrator(ctx, orchestratorID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	exec := e.newExecutor()
	defer exec.Close()

	var result *domain.RunResult
	if e.cfg.Mode == config.ModeSequential {
		result = e.runSequential(ctx, orch, input, values, exec)
	} else {
		result = e.runComposite(ctx, orch, input, values, exec, nil)
	}
	result.Cost.Round()

	if saveHistory {
		if err := e.history.Append(ctx, orch.ID, input, result.Response, values); err != nil {
			e.logger.Error("failed to record conversation history",
				"orchestrator_id", orch.ID, "error", err)
		}
	}

	tracer.SetOK(span)
	return result, nil
}

// runSequential walks the member chain in definition order. Each agent's
// response becomes the next agent's input. The chain stops at the last
// agent or at the first agent whose definition disables handoff. An agent
// that cannot be loaded is skipped with a recorded error; an execution
// failure aborts the chain with the error embedded in the response.
func (e *Engine) runSequential(ctx context.Context, orch *domain.OrchestratorDefinition, input string, values map[string]any, exec *Executor) *domain.RunResult {
	result := &domain.RunResult{}
	current := input

	for i, agentID := range orch.Agents {
		def, err := e.store.GetAgent(ctx, agentID)
		if err != nil {
			e.logger.Warn("skipping unresolvable agent in chain",
				"orchestrator", orch.Name, "agent_id", agentID)
			result.Details.Errors = append(result.Details.Errors, domain.RunError{
				AgentID: agentID,
				Message: "agent not found, skipped",
			})
			continue
		}

		runnable, _ := e.mat.Materialize(*def, values)
		res, err := exec.RunAgent(ctx, runnable, current)
		if err != nil {
			result.Details.Errors = append(result.Details.Errors, domain.RunError{
				AgentID: def.ID,
				Message: err.Error(),
			})
			result.Response = fmt.Sprintf("Error executing agent %s: %v", def.Name, err)
			return result
		}

		result.Details.AgentCalls = append(result.Details.AgentCalls, domain.AgentCall{
			AgentID:    def.ID,
			AgentName:  def.Name,
			Response:   res.Response,
			TokenUsage: res.Usage,
			Cost:       res.Cost,
		})
		result.TokenUsage.Add(res.Usage)
		result.Cost.Add(res.Cost)
		result.Response = res.Response

		if i == len(orch.Agents)-1 || !def.Handoff {
			break
		}
		runnable.Hooks.OnHandoff(ctx, "next agent in chain")
		current = res.Response
	}

	return result
}

// runComposite materializes every member agent as a tool of a coordinator
// agent and runs the coordinator; the model decides which members to call
// and in what order. emit is non-nil only for streaming runs.
func (e *Engine) runComposite(ctx context.Context, orch *domain.OrchestratorDefinition, input string, values map[string]any, exec *Executor, emit func(domain.RunEvent)) *domain.RunResult {
	acc := &runAccumulator{}
	coordinator := e.buildCoordinator(ctx, orch, values, exec, acc, emit)

	res, err := exec.RunAgent(ctx, coordinator, input)

	result := &domain.RunResult{
		Details: domain.ExecutionDetails{
			AgentCalls: acc.calls,
			Errors:     acc.errors,
		},
		TokenUsage: acc.usage,
		Cost:       acc.cost,
	}
	if err != nil {
		result.Details.Errors = append(result.Details.Errors, domain.RunError{Message: err.Error()})
		result.Response = fmt.Sprintf("Error executing orchestrator %s: %v", orch.Name, err)
		return result
	}

	result.Response = res.Response
	result.TokenUsage.Add(res.Usage)
	result.Cost.Add(res.Cost)
	return result
}

// buildCoordinator assembles the composite top-level agent: member agents
// wrapped as tools plus any directly selected orchestrator tools.
func (e *Engine) buildCoordinator(ctx context.Context, orch *domain.OrchestratorDefinition, values map[string]any, exec *Executor, acc *runAccumulator, emit func(domain.RunEvent)) *RunnableAgent {
	var tools []domain.Tool
	var memberLines []string

	for _, agentID := range orch.Agents {
		def, err := e.store.GetAgent(ctx, agentID)
		if err != nil {
			e.logger.Warn("skipping unresolvable member agent",
				"orchestrator", orch.Name, "agent_id", agentID)
			acc.addError(domain.RunError{
				AgentID: agentID,
				Message: "agent not found, skipped",
			})
			continue
		}

		runnable, description := e.mat.Materialize(*def, values)
		at := NewAgentTool(runnable, description, exec, acc, emit)
		tools = append(tools, at)
		memberLines = append(memberLines, fmt.Sprintf("- %s: %s", at.Name(), at.Description()))
	}

	// Directly selected tools are available to the coordinator itself.
	orchDef := domain.AgentDefinition{Name: orch.Name, SelectedTools: orch.Tools}
	tools = append(tools, e.mat.resolveTools(orchDef)...)

	instructions := orch.SystemPrompt
	if strings.TrimSpace(instructions) == "" {
		instructions = "You coordinate a team of specialist agents exposed as tools. " +
			"Break the user's request into steps, call the agent tools as needed, " +
			"and compose a final answer from their outputs."
	}
	if len(memberLines) > 0 {
		instructions += "\n\nAvailable agents:\n" + strings.Join(memberLines, "\n")
	}

	return &RunnableAgent{
		ID:           orch.ID,
		Name:         orch.Name,
		Instructions: instructions,
		Tools:        tools,
		Hooks:        NewLifecycleHooks(orch.Name, e.logger),
	}
}
