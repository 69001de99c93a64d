package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Wrap these with NewDomainError or WrapOp so callers can
// classify failures with errors.Is.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrConflict      = fmt.Errorf("conflict")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrAgentNotFound        = fmt.Errorf("agent: %w", ErrNotFound)
	ErrOrchestratorNotFound = fmt.Errorf("orchestrator: %w", ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("conversation: %w", ErrNotFound)
	ErrToolNotFound         = fmt.Errorf("tool not found")
	ErrProviderNotFound     = fmt.Errorf("llm provider not found")
	ErrMaxIterations        = fmt.Errorf("agent reached max iterations")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrDecryption           = fmt.Errorf("decryption failed")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrToolFailure     = fmt.Errorf("tool execution failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Store.DeleteAgent")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrContextOverflow)
}

// ConflictError is returned when deleting an agent that orchestrators still
// reference. It carries the referencing orchestrator names so callers can
// report exactly what blocks the delete.
type ConflictError struct {
	AgentID       string
	Orchestrators []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("agent %s is used by orchestrators: %v", e.AgentID, e.Orchestrators)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
