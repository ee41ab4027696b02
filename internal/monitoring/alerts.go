// Package monitoring - alerts.go flags anomalies and errors.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - FlagSlowStream:    Warn when a stream exceeds the threshold
//   - FlagStreamFailure: Warn on unauthorized, error status and network failures
//   - FlagPanic:         Error on recovered panics
//
// AlertManager is itself a stream.Observer so it can sit in a Fanout.
package monitoring

import (
	"time"

	"github.com/compresr/streamchat/internal/stream"
)

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger        *Logger
	slowThreshold time.Duration
}

// NewAlertManager creates a new alert manager.
func NewAlertManager(logger *Logger, cfg AlertConfig) *AlertManager {
	threshold := cfg.SlowStreamThreshold
	if threshold == 0 {
		threshold = 30 * time.Second
	}
	return &AlertManager{logger: logger, slowThreshold: threshold}
}

// FlagSlowStream logs when a stream ran longer than the threshold.
func (am *AlertManager) FlagSlowStream(streamID string, duration time.Duration, model string) {
	if duration < am.slowThreshold {
		return
	}
	am.logger.Warn().
		Str("stream_id", streamID).
		Dur("duration", duration).
		Str("model", model).
		Msg("slow_stream")
}

// FlagStreamFailure logs a stream that ended in an error.
func (am *AlertManager) FlagStreamFailure(streamID string, outcome stream.Outcome, statusCode int, errMsg string) {
	am.logger.Warn().
		Str("stream_id", streamID).
		Str("outcome", string(outcome)).
		Int("status", statusCode).
		Str("error", errMsg).
		Msg("stream_failed")
}

// FlagPanic logs recovered panic.
func (am *AlertManager) FlagPanic(requestID string, panicValue interface{}, stack string) {
	am.logger.Error().
		Str("request_id", requestID).
		Interface("panic", panicValue).
		Str("stack", stack).
		Msg("panic_recovered")
}

// StreamStarted implements stream.Observer.
func (am *AlertManager) StreamStarted(string) {}

// StreamEnded implements stream.Observer.
func (am *AlertManager) StreamEnded(s stream.Summary) {
	switch s.Outcome {
	case stream.OutcomeDone, stream.OutcomeIdleTimeout:
		am.FlagSlowStream(s.ID, s.Duration, s.Model)
	default:
		am.FlagStreamFailure(s.ID, s.Outcome, s.StatusCode, s.Error)
	}
}
