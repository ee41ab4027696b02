package config

import (
	"fmt"
	"time"

	"github.com/compresr/streamchat/internal/compression"
	"github.com/compresr/streamchat/internal/conversation"
	"github.com/compresr/streamchat/internal/credentials"
	"github.com/compresr/streamchat/internal/monitoring"
	"github.com/compresr/streamchat/internal/store"
	"github.com/compresr/streamchat/internal/stream"
	"github.com/compresr/streamchat/internal/tokens"
)

// =============================================================================
// RE-EXPORTS
// =============================================================================

// CompressionConfig is an alias for compression.Config.
type CompressionConfig = compression.Config

// StoreConfig is an alias for store.Config.
type StoreConfig = store.Config

// =============================================================================
// SERVER
// =============================================================================

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"` // 0 = none, streams are long-lived
	RateLimit      float64       `yaml:"rate_limit"`    // Requests per second per client IP, 0 = unlimited
	RateBurst      int           `yaml:"rate_burst"`
	AllowedOrigins []string      `yaml:"allowed_origins"` // WebSocket origin patterns
}

// Validate checks the server settings.
func (s ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", s.Port)
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	if s.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	if s.RateLimit > 0 && s.RateBurst < 1 {
		return fmt.Errorf("server.rate_burst must be at least 1 when rate_limit is set")
	}
	return nil
}

// =============================================================================
// ENDPOINT & CREDENTIALS
// =============================================================================

// EndpointConfig locates the completion endpoint.
type EndpointConfig struct {
	BaseURL  string                  `yaml:"base_url"`
	ChatPath string                  `yaml:"chat_path"`
	SigV4    credentials.SigV4Config `yaml:"sigv4"`
}

// Validate checks the endpoint settings.
func (e EndpointConfig) Validate() error {
	if e.BaseURL == "" {
		return fmt.Errorf("endpoint.base_url is required")
	}
	if e.SigV4.Enabled && e.SigV4.Region == "" {
		return fmt.Errorf("endpoint.sigv4.region is required when sigv4 is enabled")
	}
	return nil
}

// CredentialsConfig holds bearer credentials. Both are optional.
type CredentialsConfig struct {
	APIKey     string `yaml:"api_key"`
	AccessCode string `yaml:"access_code"`
}

// ResolverConfig merges endpoint and credentials for credentials.NewStatic.
func (c *Config) ResolverConfig() credentials.Config {
	return credentials.Config{
		BaseURL:    c.Endpoint.BaseURL,
		APIKey:     c.Credentials.APIKey,
		AccessCode: c.Credentials.AccessCode,
	}
}

// =============================================================================
// TOKENS
// =============================================================================

// TokenStrategy selects how tokens are counted.
type TokenStrategy string

const (
	TokensLocal  TokenStrategy = "local"  // tiktoken only
	TokensRemote TokenStrategy = "remote" // ask the model, low confidence
	TokensAuto   TokenStrategy = "auto"   // tiktoken, remote when it fails
	TokensOff    TokenStrategy = "off"
)

// TokensConfig contains token accounting settings.
type TokensConfig struct {
	Strategy TokenStrategy       `yaml:"strategy"`
	Encoding string              `yaml:"encoding"` // Empty: derived from the model, then cl100k_base
	Remote   tokens.RemoteConfig `yaml:"remote"`

	// RemoteTimeout bounds one remote estimate, both variants included.
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
}

// Validate checks the token settings.
func (t TokensConfig) Validate() error {
	switch t.Strategy {
	case "", TokensLocal, TokensRemote, TokensAuto, TokensOff:
	default:
		return fmt.Errorf("tokens.strategy must be local, remote, auto or off, got %q", t.Strategy)
	}
	if t.RemoteTimeout < 0 {
		return fmt.Errorf("tokens.remote_timeout must not be negative")
	}
	switch t.Remote.Variant {
	case "", tokens.VariantShuffle, tokens.VariantSorted:
	default:
		return fmt.Errorf("tokens.remote.variant must be %q or %q, got %q",
			tokens.VariantShuffle, tokens.VariantSorted, t.Remote.Variant)
	}
	return nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() Config {
	temperature, presencePenalty := 0.5, 0.0
	return Config{
		Server: ServerConfig{
			Port:        18090,
			ReadTimeout: 30 * time.Second,
			RateLimit:   5,
			RateBurst:   20,
		},
		Endpoint: EndpointConfig{
			BaseURL:  "https://api.openai.com",
			ChatPath: stream.DefaultChatPath,
		},
		Defaults: conversation.ModelConfig{
			Model:             "gpt-3.5-turbo",
			Temperature:       &temperature,
			PresencePenalty:   &presencePenalty,
			SummarizeLevel:    conversation.SummarizeIncremental,
			CompressThreshold: 1000,
			HistoryCount:      4,
		},
		Stream:      stream.DefaultConfig(),
		Compression: compression.DefaultConfig(),
		Tokens: TokensConfig{
			Strategy:      TokensAuto,
			Remote:        tokens.DefaultRemoteConfig(),
			RemoteTimeout: tokens.DefaultRemoteTimeout,
		},
		Store: StoreConfig{
			Type: "memory",
			TTL:  store.DefaultTTL,
		},
		Monitoring: MonitoringConfig{
			Logger:  monitoring.LoggerConfig{Level: "info", Format: "console", Output: "stderr"},
			Metrics: monitoring.MetricsConfig{Enabled: true, Namespace: "streamchat"},
			Alerts:  monitoring.AlertConfig{SlowStreamThreshold: 30 * time.Second},
		},
	}
}
