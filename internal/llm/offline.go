package llm

import (
	"context"
	"fmt"

	perrors "github.com/p-blackswan/studyplan/internal/errors"
)

// OfflineProvider never reaches a model. It is selected when no credentials
// are configured so every generation stage takes its deterministic path.
type OfflineProvider struct {
	Reason string
}

func (OfflineProvider) Name() string    { return "offline" }
func (OfflineProvider) ModelID() string { return "none" }

func (p OfflineProvider) Complete(context.Context, CompletionRequest) (*CompletionResponse, error) {
	reason := p.Reason
	if reason == "" {
		reason = "offline mode"
	}
	return nil, fmt.Errorf("%w: %s", perrors.ErrGatewayUnavailable, reason)
}
