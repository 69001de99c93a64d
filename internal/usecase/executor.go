package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
	"conductor/internal/infra/tracer"
)

// AgentRunResult is the outcome of executing one runnable agent.
type AgentRunResult struct {
	Response string
	Usage    domain.Usage
	Cost     domain.Cost
}

// Executor drives the model/tool loop for a single run. Each executor owns
// its HTTP client for the duration of the run; Close releases it exactly
// once.
type Executor struct {
	resolver      domain.ModelResolver
	httpClient    *http.Client
	logger        *slog.Logger
	maxIterations int
	estimator     *tokenEstimator
	closeOnce     sync.Once
}

// ExecutorDeps bundles the executor's dependencies.
type ExecutorDeps struct {
	Resolver      domain.ModelResolver
	HTTPClient    *http.Client // optional; released by Close
	Logger        *slog.Logger
	MaxIterations int
}

// NewExecutor creates an executor.
func NewExecutor(deps ExecutorDeps) *Executor {
	maxIter := deps.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	return &Executor{
		resolver:      deps.Resolver,
		httpClient:    deps.HTTPClient,
		logger:        deps.Logger,
		maxIterations: maxIter,
		estimator:     newTokenEstimator(),
	}
}

// Close releases the executor's HTTP client. Safe to call more than once;
// only the first call has an effect.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		if e.httpClient != nil {
			e.httpClient.CloseIdleConnections()
		}
		e.logger.Debug("executor closed")
	})
}

// RunAgent executes the agent's model/tool loop to completion and returns
// the final response with accumulated usage and cost.
func (e *Executor) RunAgent(ctx context.Context, agent *RunnableAgent, input string) (*AgentRunResult, error) {
	ctx, span := tracer.StartSpan(ctx, "executor.run_agent",
		trace.WithAttributes(tracer.StringAttr("agent.name", agent.Name)),
	)
	defer span.End()

	agent.Hooks.OnStart(ctx)

	provider, err := e.resolver.Resolve("")
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: agent.Instructions, Timestamp: time.Now()},
		{Role: domain.RoleUser, Content: input, Timestamp: time.Now()},
	}
	schemas := toolSchemas(agent.Tools)
	byName := toolsByName(agent.Tools)

	var usage domain.Usage
	for i := 0; i < e.maxIterations; i++ {
		resp, err := provider.Chat(ctx, domain.ChatRequest{
			Messages: messages,
			Tools:    schemas,
		})
		if err != nil {
			tracer.RecordError(span, err)
			return nil, domain.WrapOp("Executor.RunAgent", err)
		}

		usage.Add(e.effectiveUsage(resp, messages))

		if len(resp.Message.ToolCalls) == 0 {
			agent.Hooks.OnEnd(ctx, resp.Message.Content)
			result := &AgentRunResult{
				Response: resp.Message.Content,
				Usage:    usage,
				Cost:     domain.CostFromUsage(usage),
			}
			setRunAttrs(span, result)
			tracer.SetOK(span)
			return result, nil
		}

		messages = append(messages, resp.Message)
		messages = append(messages, e.executeToolCalls(ctx, agent, byName, resp.Message.ToolCalls, nil)...)
	}

	err = domain.NewDomainError("Executor.RunAgent", domain.ErrMaxIterations, agent.Name)
	tracer.RecordError(span, err)
	return nil, err
}

// RunAgentStream executes the agent loop with a streaming provider, emitting
// events as text deltas and tool activity arrive. Falls back to non-streaming
// Chat when the provider does not stream.
func (e *Executor) RunAgentStream(ctx context.Context, agent *RunnableAgent, input string, emit func(domain.RunEvent)) (*AgentRunResult, error) {
	provider, err := e.resolver.Resolve("")
	if err != nil {
		return nil, err
	}

	sp, ok := provider.(domain.StreamingLLMProvider)
	if !ok {
		result, err := e.RunAgent(ctx, agent, input)
		if err != nil {
			return nil, err
		}
		emit(domain.RunEvent{Type: domain.RunEventTextDelta, Delta: result.Response})
		emit(domain.RunEvent{Type: domain.RunEventMessage, Message: result.Response, FinalOutput: &result.Response})
		return result, nil
	}

	agent.Hooks.OnStart(ctx)

	messages := []domain.Message{
		{Role: domain.RoleSystem, Content: agent.Instructions, Timestamp: time.Now()},
		{Role: domain.RoleUser, Content: input, Timestamp: time.Now()},
	}
	schemas := toolSchemas(agent.Tools)
	byName := toolsByName(agent.Tools)

	var usage domain.Usage
	for i := 0; i < e.maxIterations; i++ {
		ch, err := sp.ChatStream(ctx, domain.ChatRequest{
			Messages: messages,
			Tools:    schemas,
		})
		if err != nil {
			return nil, domain.WrapOp("Executor.RunAgentStream", err)
		}

		acc := newStreamAccumulator()
		for delta := range ch {
			if delta.Err != "" {
				return nil, domain.NewDomainError("Executor.RunAgentStream", domain.ErrProviderError, delta.Err)
			}
			if delta.Content != "" {
				emit(domain.RunEvent{Type: domain.RunEventTextDelta, Delta: delta.Content})
			}
			acc.add(delta)
		}

		assistant := acc.message()
		if assistant.Content == "" && len(assistant.ToolCalls) == 0 {
			return nil, domain.NewDomainError("Executor.RunAgentStream", domain.ErrProviderError, "empty stream")
		}

		if acc.usage != nil {
			usage.Add(*acc.usage)
		} else {
			usage.Add(e.estimateUsage(messages, assistant.Content))
		}

		if len(assistant.ToolCalls) == 0 {
			agent.Hooks.OnEnd(ctx, assistant.Content)
			emit(domain.RunEvent{
				Type:        domain.RunEventMessage,
				Message:     assistant.Content,
				FinalOutput: &assistant.Content,
			})
			return &AgentRunResult{
				Response: assistant.Content,
				Usage:    usage,
				Cost:     domain.CostFromUsage(usage),
			}, nil
		}

		messages = append(messages, assistant)
		messages = append(messages, e.executeToolCalls(ctx, agent, byName, assistant.ToolCalls, emit)...)
	}

	return nil, domain.NewDomainError("Executor.RunAgentStream", domain.ErrMaxIterations, agent.Name)
}

// executeToolCalls runs each requested tool in order and returns the tool
// result messages to append to the conversation. Tool failures become error
// results fed back to the model, never run-fatal errors.
func (e *Executor) executeToolCalls(ctx context.Context, agent *RunnableAgent, byName map[string]domain.Tool, calls []domain.ToolCall, emit func(domain.RunEvent)) []domain.Message {
	results := make([]domain.Message, 0, len(calls))
	for _, call := range calls {
		agent.Hooks.OnToolStart(ctx, call.Name)
		if emit != nil {
			emit(domain.RunEvent{Type: domain.RunEventToolStart, ToolName: call.Name})
		}

		var result *domain.ToolResult
		t, ok := byName[call.Name]
		if !ok {
			result = &domain.ToolResult{
				IsError: true,
				Content: fmt.Sprintf("unknown tool %q", call.Name),
			}
		} else {
			args := call.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			var err error
			result, err = t.Execute(ctx, args)
			if err != nil {
				result = &domain.ToolResult{IsError: true, Content: err.Error()}
			}
		}

		agent.Hooks.OnToolEnd(ctx, call.Name, result.IsError)
		if emit != nil {
			emit(domain.RunEvent{
				Type:       domain.RunEventToolEnd,
				ToolName:   call.Name,
				ToolOutput: result.Content,
			})
		}

		results = append(results, domain.Message{
			Role:      domain.RoleTool,
			Content:   result.Content,
			Name:      call.Name,
			ToolCalls: []domain.ToolCall{{ID: call.ID}},
			Timestamp: time.Now(),
		})
	}
	return results
}

// effectiveUsage returns the response's usage block, estimating token counts
// when the API reported none.
func (e *Executor) effectiveUsage(resp *domain.ChatResponse, messages []domain.Message) domain.Usage {
	if resp.Usage.TotalTokens > 0 {
		return resp.Usage
	}
	return e.estimateUsage(messages, resp.Message.Content)
}

func (e *Executor) estimateUsage(messages []domain.Message, completion string) domain.Usage {
	var promptText string
	for _, m := range messages {
		promptText += m.Content
	}
	u := domain.Usage{
		PromptTokens:     e.estimator.count(promptText),
		CompletionTokens: e.estimator.count(completion),
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func setRunAttrs(span trace.Span, result *AgentRunResult) {
	span.SetAttributes(
		tracer.IntAttr("run.prompt_tokens", result.Usage.PromptTokens),
		tracer.IntAttr("run.completion_tokens", result.Usage.CompletionTokens),
	)
}

func toolSchemas(tools []domain.Tool) []domain.ToolSchema {
	schemas := make([]domain.ToolSchema, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, t.Schema())
	}
	return schemas
}

func toolsByName(tools []domain.Tool) map[string]domain.Tool {
	byName := make(map[string]domain.Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
	}
	return byName
}

// --- token estimation ---

// tokenEstimator counts tokens with tiktoken's cl100k_base encoding,
// falling back to a bytes/4 heuristic if the encoding is unavailable.
type tokenEstimator struct {
	enc *tiktoken.Tiktoken
}

func newTokenEstimator() *tokenEstimator {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &tokenEstimator{}
	}
	return &tokenEstimator{enc: enc}
}

func (t *tokenEstimator) count(text string) int {
	if text == "" {
		return 0
	}
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// --- stream accumulation ---

// streamAccumulator merges streaming deltas into a complete assistant
// message. Tool call fragments are merged by ID; fragments without an ID
// extend the most recent call's arguments.
type streamAccumulator struct {
	content   string
	toolCalls []domain.ToolCall
	usage     *domain.Usage
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{}
}

func (a *streamAccumulator) add(delta domain.StreamDelta) {
	a.content += delta.Content
	for _, tc := range delta.ToolCalls {
		if tc.ID == "" && len(a.toolCalls) > 0 {
			last := &a.toolCalls[len(a.toolCalls)-1]
			last.Arguments = append(last.Arguments, tc.Arguments...)
			continue
		}
		a.toolCalls = append(a.toolCalls, tc)
	}
	if delta.Usage != nil {
		a.usage = delta.Usage
	}
}

func (a *streamAccumulator) message() domain.Message {
	return domain.Message{
		Role:      domain.RoleAssistant,
		Content:   a.content,
		ToolCalls: a.toolCalls,
		Timestamp: time.Now(),
	}
}
