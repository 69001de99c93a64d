package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain"
)

func TestAgentToolName(t *testing.T) {
	exec := newTestExecutor(&scriptedProvider{}, 1)
	defer exec.Close()

	at := NewAgentTool(runnable("Data  Analyst Agent"), "desc", exec, &runAccumulator{}, nil)
	assert.Equal(t, "data_analyst_agent", at.Name())
}

func TestAgentToolDefaultDescription(t *testing.T) {
	exec := newTestExecutor(&scriptedProvider{}, 1)
	defer exec.Close()

	at := NewAgentTool(runnable("Helper"), "  ", exec, &runAccumulator{}, nil)
	assert.Equal(t, "Tool to use the Helper agent", at.Description())

	at = NewAgentTool(runnable("Helper"), "Custom description", exec, &runAccumulator{}, nil)
	assert.Equal(t, "Custom description", at.Description())
}

func TestAgentToolExecuteRecordsCall(t *testing.T) {
	p := &scriptedProvider{responses: []domain.ChatResponse{
		assistantText("member answer", domain.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}),
	}}
	exec := newTestExecutor(p, 3)
	defer exec.Close()

	acc := &runAccumulator{}
	at := NewAgentTool(runnable("Helper"), "", exec, acc, nil)

	result, err := at.Execute(context.Background(), json.RawMessage(`{"input":"hi"}`))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "member answer", result.Content)

	require.Len(t, acc.calls, 1)
	assert.Equal(t, "Helper", acc.calls[0].AgentName)
	assert.Equal(t, 150, acc.usage.TotalTokens)
	assert.InDelta(t, 0.0025, acc.cost.TotalCost, 1e-9)
}

func TestAgentToolExecuteRecordsFailure(t *testing.T) {
	p := &scriptedProvider{err: assert.AnError}
	exec := newTestExecutor(p, 3)
	defer exec.Close()

	acc := &runAccumulator{}
	at := NewAgentTool(runnable("Helper"), "", exec, acc, nil)

	result, err := at.Execute(context.Background(), json.RawMessage(`{"input":"hi"}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "Helper")

	require.Len(t, acc.errors, 1)
	assert.Equal(t, "agent-1", acc.errors[0].AgentID)
}

func TestAgentToolEmitsHandoff(t *testing.T) {
	p := &scriptedProvider{responses: []domain.ChatResponse{
		assistantText("ok", domain.Usage{TotalTokens: 1}),
	}}
	exec := newTestExecutor(p, 3)
	defer exec.Close()

	var events []domain.RunEvent
	at := NewAgentTool(runnable("Helper"), "", exec, &runAccumulator{}, collectEvents(&events))

	_, err := at.Execute(context.Background(), json.RawMessage(`{"input":"hi"}`))
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, domain.RunEventHandoff, events[0].Type)
	assert.Equal(t, "Helper", events[0].NewAgent)
}
