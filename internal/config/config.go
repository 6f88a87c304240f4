package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix used by Load.
const Prefix = "STUDYPLAN"

// Link styles.
const (
	LinkStyleObsidian = "obsidian"
	LinkStyleMarkdown = "markdown"
)

// Gateway providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOffline   = "offline"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Output
	ProjectsRoot string `envconfig:"PROJECTS_ROOT" default:"~/Learning"`
	LinkStyle    string `envconfig:"LINK_STYLE" default:"obsidian"`

	// Gateway
	Provider        string        `envconfig:"PROVIDER" default:"openai"`
	DefaultModel    string        `envconfig:"DEFAULT_MODEL"` // empty selects the provider's own default
	OpenAIAPIKey    string        `envconfig:"OPENAI_API_KEY"`
	AnthropicAPIKey string        `envconfig:"ANTHROPIC_API_KEY"`
	APIKeyPath      string        `envconfig:"API_KEY_PATH"` // file holding the key for the selected provider
	GatewayTimeout  time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"60s"`

	// Content bounds
	MinVideo           int `envconfig:"MIN_VIDEO" default:"1"`
	MinReading         int `envconfig:"MIN_READING" default:"1"`
	MaxResources       int `envconfig:"MAX_RESOURCES" default:"5"`
	TasksPerUnit       int `envconfig:"TASKS_PER_UNIT" default:"1"`
	MinUnits           int `envconfig:"MIN_UNITS" default:"3"`
	ContentConcurrency int `envconfig:"CONTENT_CONCURRENCY" default:"1"`

	// Bookkeeping
	CatalogPath     string `envconfig:"CATALOG_PATH"`
	MetricsTextfile string `envconfig:"METRICS_TEXTFILE"`
}

// Validate checks enumerations and numeric bounds.
func (c *Config) Validate() error {
	switch c.LinkStyle {
	case LinkStyleObsidian, LinkStyleMarkdown:
	default:
		return fmt.Errorf("invalid link style %q, expected %s or %s", c.LinkStyle, LinkStyleObsidian, LinkStyleMarkdown)
	}
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic, ProviderOffline:
	default:
		return fmt.Errorf("invalid provider %q", c.Provider)
	}
	if c.MinVideo < 0 || c.MinReading < 0 {
		return fmt.Errorf("resource minimums must not be negative")
	}
	if c.MaxResources < 1 || c.MinVideo+c.MinReading > c.MaxResources {
		return fmt.Errorf("max resources %d cannot hold %d video + %d reading", c.MaxResources, c.MinVideo, c.MinReading)
	}
	if c.TasksPerUnit < 1 {
		return fmt.Errorf("tasks per unit must be at least 1")
	}
	if c.MinUnits < 3 || c.MinUnits > 7 {
		return fmt.Errorf("min units must be between 3 and 7")
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("gateway timeout must be positive")
	}
	return nil
}

// Development reports whether human-readable console logging is wanted.
func (c *Config) Development() bool {
	return strings.EqualFold(c.Environment, "development")
}

// ExpandedProjectsRoot resolves a leading "~" against the user's home directory.
func (c *Config) ExpandedProjectsRoot() string {
	return expandHome(c.ProjectsRoot)
}

// CatalogDB returns the catalog database path, defaulting inside the projects root.
func (c *Config) CatalogDB() string {
	if c.CatalogPath != "" {
		return expandHome(c.CatalogPath)
	}
	return filepath.Join(c.ExpandedProjectsRoot(), ".studyplan", "catalog.db")
}

// APIKey returns the key for the selected provider. The key file, when set,
// takes precedence over the environment. An empty key means offline.
func (c *Config) APIKey() (string, error) {
	if c.APIKeyPath != "" {
		raw, err := os.ReadFile(expandHome(c.APIKeyPath))
		if err != nil {
			// The path is safe to report; the contents are not.
			return "", fmt.Errorf("reading api key file %s: %w", c.APIKeyPath, err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	switch c.Provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey, nil
	case ProviderAnthropic:
		return c.AnthropicAPIKey, nil
	}
	return "", nil
}

// Secrets lists every configured credential, for redaction of error output.
func (c *Config) Secrets() []string {
	secrets := []string{c.OpenAIAPIKey, c.AnthropicAPIKey}
	if key, err := c.APIKey(); err == nil {
		secrets = append(secrets, key)
	}
	return secrets
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Load reads configuration from STUDYPLAN_* environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix(Prefix)
}

// LoadWithPrefix reads configuration with a prefix and validates it.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
