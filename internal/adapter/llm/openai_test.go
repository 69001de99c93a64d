package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.ProviderConfig{
		Name:    "test",
		Model:   "test-model",
		APIKey:  "sk-test",
		BaseURL: srv.URL,
	}
	return NewOpenAIProvider(cfg, srv.Client(), slog.Default())
}

func TestOpenAIChat(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var req openaiRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "test-model", req.Model)

		fmt.Fprint(w, `{
			"id": "resp-1",
			"model": "test-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`)
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Message.Content)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
}

func TestOpenAIChatToolCalls(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"id": "resp-2",
			"model": "test-model",
			"choices": [{"index": 0, "message": {
				"role": "assistant",
				"tool_calls": [{"id": "call-1", "type": "function",
					"function": {"name": "run_query", "arguments": "{\"query\":\"SELECT 1\"}"}}]
			}, "finish_reason": "tool_calls"}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
		}`)
	})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "query"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "run_query", resp.Message.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"SELECT 1"}`, string(resp.Message.ToolCalls[0].Arguments))
}

func TestOpenAIChatStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hel\"},\"finish_reason\":null}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"},\"finish_reason\":null}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := p.ChatStream(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var content string
	var done bool
	for delta := range ch {
		content += delta.Content
		if delta.Done {
			done = true
		}
	}
	assert.Equal(t, "hello", content)
	assert.True(t, done)
}

func TestMapHTTPError(t *testing.T) {
	assert.ErrorIs(t, mapHTTPError(429, nil), domain.ErrRateLimit)
	assert.ErrorIs(t, mapHTTPError(401, nil), domain.ErrAuthInvalid)
	assert.ErrorIs(t, mapHTTPError(403, nil), domain.ErrAuthInvalid)
	assert.ErrorIs(t, mapHTTPError(413, nil), domain.ErrContextOverflow)
	assert.ErrorIs(t, mapHTTPError(502, nil), domain.ErrProviderError)
	assert.Error(t, mapHTTPError(404, []byte("nope")))
}

func TestOpenAIChatAPIError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": "slow down"}`)
	})

	_, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	assert.ErrorIs(t, err, domain.ErrRateLimit)
}
