package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain"
)

// echoTool is a minimal tool for registry tests.
type echoTool struct {
	name   string
	params string
}

func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "echoes params" }

func (e *echoTool) Schema() domain.ToolSchema {
	params := e.params
	if params == "" {
		params = `{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`
	}
	return domain.ToolSchema{Name: e.name, Description: e.Description(), Parameters: json.RawMessage(params)}
}

func (e *echoTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return &domain.ToolResult{Content: string(params)}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(slog.Default())
	require.NoError(t, r.Register(&echoTool{name: "echo"}))

	got, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", got.Name())
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry(slog.Default())
	require.NoError(t, r.Register(&echoTool{name: "echo"}))
	assert.Error(t, r.Register(&echoTool{name: "echo"}))
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry(slog.Default())
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestRegistrySchemas(t *testing.T) {
	r := NewRegistry(slog.Default())
	require.NoError(t, r.Register(&echoTool{name: "a"}))
	require.NoError(t, r.Register(&echoTool{name: "b"}))
	assert.Len(t, r.Schemas(), 2)
	assert.Len(t, r.List(), 2)
}

func TestRegistrySchemaValidationRejectsBadParams(t *testing.T) {
	r := NewRegistry(slog.Default())
	require.NoError(t, r.Register(&echoTool{name: "echo"}))

	tl, err := r.Get("echo")
	require.NoError(t, err)

	// msg is required by the schema.
	result, err := tl.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content, "schema validation failed")

	result, err = tl.Execute(context.Background(), json.RawMessage(`{"msg":"hi"}`))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}
