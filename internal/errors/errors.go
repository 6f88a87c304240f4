// Package errors provides the error taxonomy shared by the plan pipeline.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the failure classes the pipeline distinguishes.
var (
	ErrGatewayUnavailable = errors.New("language model gateway unavailable")
	ErrMalformedResponse  = errors.New("malformed model response")
	ErrValidation         = errors.New("validation failed")
	ErrPersistence        = errors.New("persistence failed")
	ErrCorruptState       = errors.New("corrupt state file")
	ErrNotFound           = errors.New("not found")
)

// APIError represents a non-2xx answer from a model provider.
type APIError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Service, e.StatusCode, e.Message)
}

// Unwrap classifies every provider HTTP failure as the gateway being unavailable:
// quota, auth and server errors all route callers to the fallback tier.
func (e *APIError) Unwrap() error { return ErrGatewayUnavailable }

// NewAPIError creates a new API error. Message should be the provider's error
// text only, never request headers.
func NewAPIError(service string, statusCode int, message string) *APIError {
	return &APIError{Service: service, StatusCode: statusCode, Message: truncate(message, 300)}
}

// Validationf builds an ErrValidation-wrapped error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Persistence wraps an I/O failure as ErrPersistence.
func Persistence(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// IsFallbackTrigger reports whether err means the AI tier should give way to
// the deterministic one.
func IsFallbackTrigger(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable returns true only for malformed responses; network failures fall
// back immediately instead of looping.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

// Redact replaces every non-empty secret found in msg.
func Redact(msg string, secrets ...string) string {
	for _, s := range secrets {
		if len(s) < 4 {
			continue
		}
		msg = strings.ReplaceAll(msg, s, "[REDACTED]")
	}
	return msg
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
