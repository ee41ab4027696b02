// Package config loads and validates the streamchat configuration.
//
// DESIGN: Default() holds the built-in settings; a YAML file overlays them.
// Values may reference the environment with ${VAR} or ${VAR:-default}, and a
// few STREAMCHAT_* variables override the file after parsing.
//
// FILES:
//   - config.go:     Root Config struct, Load(), Validate()
//   - sections.go:   Section types and their defaults
//   - monitoring.go: Logging, telemetry and metrics settings
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/compresr/streamchat/internal/conversation"
	"github.com/compresr/streamchat/internal/stream"
)

// Config is the root configuration.
type Config struct {
	Server      ServerConfig             `yaml:"server"`      // HTTP/WebSocket bridge
	Endpoint    EndpointConfig           `yaml:"endpoint"`    // Completion endpoint
	Credentials CredentialsConfig        `yaml:"credentials"` // Bearer credentials
	Defaults    conversation.ModelConfig `yaml:"defaults"`    // Global model settings
	Stream      stream.Config            `yaml:"stream"`      // Streaming transport
	Compression CompressionConfig        `yaml:"compression"` // Summaries and substitution
	Tokens      TokensConfig             `yaml:"tokens"`      // Token accounting
	Store       StoreConfig              `yaml:"store"`       // Summary cache
	Monitoring  MonitoringConfig         `yaml:"monitoring"`  // Logging, telemetry, metrics
}

// Environment variables applied after parsing.
const (
	EnvAPIKey       = "STREAMCHAT_API_KEY"
	EnvAccessCode   = "STREAMCHAT_ACCESS_CODE"
	EnvBaseURL      = "STREAMCHAT_BASE_URL"
	EnvTelemetryLog = "STREAMCHAT_TELEMETRY_LOG"
)

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file. An empty path yields the
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes over the defaults.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets deployments inject secrets and paths without
// editing the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Credentials.APIKey = v
	}
	if v := os.Getenv(EnvAccessCode); v != "" {
		c.Credentials.AccessCode = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Endpoint.BaseURL = v
	}
	if v := os.Getenv(EnvTelemetryLog); v != "" {
		c.Monitoring.Telemetry.LogPath = v
		c.Monitoring.Telemetry.Enabled = true
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Endpoint.Validate(); err != nil {
		return err
	}
	if err := validateModel(c.Defaults); err != nil {
		return err
	}
	if err := c.Stream.Validate(); err != nil {
		return err
	}
	if err := c.Compression.Validate(); err != nil {
		return err
	}
	if err := c.Tokens.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Monitoring.Validate()
}

func validateModel(m conversation.ModelConfig) error {
	if m.Model == "" {
		return fmt.Errorf("defaults.model is required")
	}
	if t := m.SamplingTemperature(); t < 0 || t > 2 {
		return fmt.Errorf("defaults.temperature must be between 0 and 2, got %v", t)
	}
	if p := m.SamplingPresencePenalty(); p < -2 || p > 2 {
		return fmt.Errorf("defaults.presence_penalty must be between -2 and 2, got %v", p)
	}
	switch m.SummarizeLevel {
	case "", conversation.SummarizeNone, conversation.SummarizeIncremental:
	default:
		return fmt.Errorf("defaults.summarize_level must be %q or %q, got %q",
			conversation.SummarizeNone, conversation.SummarizeIncremental, m.SummarizeLevel)
	}
	if m.HistoryCount < 0 {
		return fmt.Errorf("defaults.history_count must not be negative")
	}
	return nil
}

// StreamConfig returns the transport settings with the endpoint's chat path.
func (c *Config) StreamConfig() stream.Config {
	s := c.Stream
	s.Path = c.Endpoint.ChatPath
	return s
}
