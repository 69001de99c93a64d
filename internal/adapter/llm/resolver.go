package llm

import (
	"log/slog"

	"conductor/internal/domain"
)

// Resolver maps model names to providers. When an alternate endpoint is
// configured, every run routes to it; otherwise the default provider serves
// all requests, substituting its own model for an empty name.
type Resolver struct {
	def       domain.LLMProvider
	alternate domain.LLMProvider
	logger    *slog.Logger
}

// NewResolver builds a resolver over the default and optional alternate
// provider. alternate may be nil.
func NewResolver(def, alternate domain.LLMProvider, logger *slog.Logger) *Resolver {
	return &Resolver{def: def, alternate: alternate, logger: logger}
}

// Resolve implements domain.ModelResolver.
func (r *Resolver) Resolve(model string) (domain.LLMProvider, error) {
	if r.alternate != nil {
		r.logger.Debug("resolved model to alternate provider",
			"model", model, "provider", r.alternate.Name())
		return r.alternate, nil
	}
	if r.def == nil {
		return nil, domain.NewDomainError("Resolver.Resolve", domain.ErrProviderNotFound, model)
	}
	return r.def, nil
}

var _ domain.ModelResolver = (*Resolver)(nil)
