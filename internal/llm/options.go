package llm

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultMaxTokens = 4096

type providerConfig struct {
	model     string
	maxTokens int
	baseURL   string
	client    *http.Client
	logger    zerolog.Logger
}

// Option configures an HTTP-backed provider.
type Option func(*providerConfig)

func WithModel(model string) Option {
	return func(c *providerConfig) {
		if model != "" {
			c.model = model
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(c *providerConfig) { c.maxTokens = n }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *providerConfig) { c.client = client }
}

// WithBaseURL points the provider at a different API root (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *providerConfig) { c.baseURL = u }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *providerConfig) { c.logger = l }
}

func newProviderConfig(model, baseURL string, timeout time.Duration, opts []Option) providerConfig {
	cfg := providerConfig{
		model:     model,
		maxTokens: defaultMaxTokens,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}
