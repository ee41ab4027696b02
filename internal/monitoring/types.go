// Package monitoring - types.go defines shared types.
//
// TYPES:
//   - StreamEvent:  Telemetry record of a finished stream
//   - SummaryEvent: Telemetry record of a summarization
//   - Config types: TelemetryConfig, LoggerConfig, MetricsConfig, AlertConfig
package monitoring

import "time"

// =============================================================================
// EVENT TYPES - Structured data for telemetry recording
// =============================================================================

// StreamEvent captures one finished stream.
type StreamEvent struct {
	StreamID         string    `json:"stream_id"`
	Timestamp        time.Time `json:"timestamp"`
	Key              string    `json:"key,omitempty"` // "<conversation>,<message>"
	Model            string    `json:"model,omitempty"`
	Outcome          string    `json:"outcome"`
	StatusCode       int       `json:"status_code,omitempty"`
	TextLength       int       `json:"text_length"`
	PromptTokens     *int      `json:"prompt_tokens,omitempty"`
	CompletionTokens *int      `json:"completion_tokens,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
	Error            string    `json:"error,omitempty"`
}

// SummaryEvent captures one summarization attempt.
type SummaryEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Outcome    string    `json:"outcome"`
	DurationMs int64     `json:"duration_ms"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// MetricsConfig contains Prometheus configuration.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// AlertConfig contains alert thresholds.
type AlertConfig struct {
	SlowStreamThreshold time.Duration `yaml:"slow_stream_threshold"`
}
