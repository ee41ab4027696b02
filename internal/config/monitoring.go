// Monitoring configuration - logging, telemetry and metrics settings.
//
// DESIGN: Separates logging (zerolog) from telemetry (JSONL files) and
// metrics (Prometheus). Logging is for operators, telemetry for analytics.
package config

import (
	"fmt"

	"github.com/compresr/streamchat/internal/monitoring"
)

// MonitoringConfig contains all monitoring settings.
type MonitoringConfig struct {
	Logger    monitoring.LoggerConfig    `yaml:"logger"`
	Telemetry monitoring.TelemetryConfig `yaml:"telemetry"`
	Metrics   monitoring.MetricsConfig   `yaml:"metrics"`
	Alerts    monitoring.AlertConfig     `yaml:"alerts"`
}

// Validate checks the monitoring settings.
func (m MonitoringConfig) Validate() error {
	switch m.Logger.Level {
	case "", "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("monitoring.logger.level is invalid: %q", m.Logger.Level)
	}
	switch m.Logger.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("monitoring.logger.format must be json or console, got %q", m.Logger.Format)
	}
	if m.Telemetry.Enabled && m.Telemetry.LogPath == "" && !m.Telemetry.LogToStdout {
		return fmt.Errorf("monitoring.telemetry needs log_path or log_to_stdout when enabled")
	}
	return nil
}
