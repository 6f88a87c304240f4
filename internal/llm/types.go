// Package llm is the language-model gateway. Providers are interchangeable
// behind the Provider interface; the Gateway adds timeouts, JSON decoding and
// the single malformed-output retry on top of whichever provider is configured.
package llm

import (
	"context"
)

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in the conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a provider's Complete() call.
type CompletionRequest struct {
	Messages     []Message
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Model        string // override provider default if set
	JSON         bool   // ask the provider for a JSON object reply when it supports it
}

// CompletionResponse is returned by Complete().
type CompletionResponse struct {
	Text         string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Provider is the core abstraction for language model backends.
type Provider interface {
	// Complete sends a completion request and waits for the full response.
	// Transport and HTTP failures wrap perrors.ErrGatewayUnavailable.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Name identifies the backend in logs and metrics.
	Name() string

	// ModelID returns the current model identifier string.
	ModelID() string
}

// UserPrompt builds a single-turn request.
func UserPrompt(system, user string) CompletionRequest {
	return CompletionRequest{
		SystemPrompt: system,
		Messages:     []Message{{Role: RoleUser, Content: user}},
		JSON:         true,
	}
}
