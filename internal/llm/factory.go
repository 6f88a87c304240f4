package llm

import (
	"github.com/rs/zerolog"

	"github.com/p-blackswan/studyplan/internal/config"
)

// NewProvider selects the provider named in cfg. Missing credentials yield an
// OfflineProvider rather than an error: generation still works, on fallbacks.
// cfg.DefaultModel overrides the provider's own model only when set.
func NewProvider(cfg *config.Config, logger zerolog.Logger) (Provider, error) {
	if cfg.Provider == config.ProviderOffline {
		return OfflineProvider{Reason: "offline provider selected"}, nil
	}
	key, err := cfg.APIKey()
	if err != nil {
		return nil, err
	}
	if key == "" {
		logger.Warn().Str("provider", cfg.Provider).Msg("no API key configured, using deterministic content")
		return OfflineProvider{Reason: "no API key configured"}, nil
	}

	opts := []Option{WithModel(cfg.DefaultModel), WithLogger(logger)}
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return NewAnthropicProvider(key, cfg.GatewayTimeout, opts...), nil
	default:
		return NewOpenAIProvider(key, cfg.GatewayTimeout, opts...), nil
	}
}
