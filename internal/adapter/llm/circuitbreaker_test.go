package llm

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

// failingProvider always errors.
type failingProvider struct{ calls int }

func (f *failingProvider) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	f.calls++
	return nil, fmt.Errorf("boom")
}

func (f *failingProvider) Name() string { return "failing" }

// okProvider always succeeds.
type okProvider struct{}

func (okProvider) Chat(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: "ok"}}, nil
}

func (okProvider) Name() string { return "ok" }

func TestCircuitBreakerPassesThrough(t *testing.T) {
	cb := NewCircuitBreakerProvider(okProvider{}, config.CircuitBreakerConfig{}, slog.Default())
	resp, err := cb.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message.Content)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	inner := &failingProvider{}
	cb := NewCircuitBreakerProvider(inner, config.CircuitBreakerConfig{
		MaxFailures: 2,
		Timeout:     time.Minute,
	}, slog.Default())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cb.Chat(ctx, domain.ChatRequest{})
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())
	// The third call failed fast without reaching the provider.
	assert.Equal(t, 2, inner.calls)
}

func TestCircuitBreakerStreamUnsupported(t *testing.T) {
	cb := NewCircuitBreakerProvider(okProvider{}, config.CircuitBreakerConfig{}, slog.Default())
	_, err := cb.ChatStream(context.Background(), domain.ChatRequest{})
	assert.Error(t, err)
}

func TestResolverPrefersAlternate(t *testing.T) {
	r := NewResolver(okProvider{}, &failingProvider{}, slog.Default())
	p, err := r.Resolve("any-model")
	require.NoError(t, err)
	assert.Equal(t, "failing", p.Name())
}

func TestResolverDefault(t *testing.T) {
	r := NewResolver(okProvider{}, nil, slog.Default())
	p, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "ok", p.Name())
}

func TestResolverNoProvider(t *testing.T) {
	r := NewResolver(nil, nil, slog.Default())
	_, err := r.Resolve("x")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}
