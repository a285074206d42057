package provider

import (
	"errors"
	"fmt"
)

// ErrInterrupted marks an AI call cancelled mid-flight, either by a user
// `stop` or by shutdown. Callers discard the turn instead of reporting a
// failure.
var ErrInterrupted = errors.New("ai call interrupted")

// ErrNotConfigured marks a missing or placeholder API key. It is user-facing
// and non-retryable; the orchestrator explains it in the reply text.
var ErrNotConfigured = errors.New("ai backend credentials not configured")

// ProviderError is a non-200 response from the AI backend.
type ProviderError struct {
	Status int
	Body   string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("ai backend returned status %d: %s", e.Status, e.Body)
}

// ParseError means the response body matched none of the known reply shapes.
// It carries a bounded prefix of the raw body for diagnostics.
type ParseError struct {
	Snippet string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no reply text found in ai response: %s", e.Snippet)
}

// retryableStatus reports whether a failed primary request should be retried
// once with the degraded minimal payload.
func retryableStatus(status int) bool {
	return status == 400 || status == 500
}
