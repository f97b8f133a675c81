// Package provider defines the LLM provider adapter boundary and its
// error classification.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/kindergate-ai/kindergate/pkg/models"
)

// ErrNotConfigured is returned by every Call on an adapter whose
// credentials are missing. Adapters never return mock responses.
var ErrNotConfigured = errors.New("provider not configured")

// Options are the per-request parameters forwarded to the provider.
type Options struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Completion is a successful provider response.
type Completion struct {
	Content string            `json:"content"`
	Model   string            `json:"model"`
	Usage   models.TokenUsage `json:"usage"`
}

// Provider is the upstream LLM adapter. Timeouts are the adapter's
// responsibility; callers treat a timeout as any other provider failure.
type Provider interface {
	Name() string
	// Available reports whether the adapter is configured to make calls.
	Available() bool
	Call(ctx context.Context, messages []models.ChatMessage, opts Options) (*Completion, error)
}

// ErrorCode classifies a provider failure.
type ErrorCode string

const (
	CodeRateLimit     ErrorCode = "RATE_LIMIT"
	CodeAuth          ErrorCode = "AUTH_ERROR"
	CodeModelNotFound ErrorCode = "MODEL_NOT_FOUND"
)

// Error is a classified provider failure. Code is empty for unclassified
// errors.
type Error struct {
	Code    ErrorCode
	Message string
	Status  int
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("provider error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
}

// Retryable reports whether the failure may succeed on retry after backoff.
// AUTH_ERROR and MODEL_NOT_FOUND require configuration changes.
func (e *Error) Retryable() bool {
	return e.Code == CodeRateLimit
}
