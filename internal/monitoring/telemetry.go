// Package monitoring - telemetry.go records events to JSONL files.
//
// DESIGN: Tracker writes structured events as JSONL (one JSON object per line):
//   - StreamEvent:  Every finished stream
//   - SummaryEvent: Every summarization attempt
//
// Events are appended to the file immediately for real-time logging.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/streamchat/internal/stream"
)

// Tracker handles telemetry event recording to file and stdout.
type Tracker struct {
	config  TelemetryConfig
	logPath string
	count   int
	mu      sync.Mutex
}

// NewTracker creates a new telemetry tracker.
func NewTracker(cfg TelemetryConfig) (*Tracker, error) {
	t := &Tracker{config: cfg}

	if !cfg.Enabled {
		return t, nil
	}

	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0750); err != nil {
			return nil, err
		}
		t.logPath = cfg.LogPath
		if _, err := os.Stat(cfg.LogPath); os.IsNotExist(err) {
			if f, err := os.Create(cfg.LogPath); err == nil {
				f.Close()
			}
		}
	}

	return t, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// RecordStream records a finished stream.
func (t *Tracker) RecordStream(event *StreamEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.LogToStdout {
		id := event.StreamID
		if len(id) > 8 {
			id = id[:8]
		}
		log.Info().
			Str("stream_id", id).
			Str("outcome", event.Outcome).
			Int("text_length", event.TextLength).
			Int64("duration_ms", event.DurationMs).
			Msg("telemetry")
	}

	t.write(event, "stream")
}

// RecordSummary records a summarization attempt.
func (t *Tracker) RecordSummary(event *SummaryEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.write(event, "summary")
}

func (t *Tracker) write(event any, kind string) {
	if t.logPath == "" {
		return
	}
	if err := appendJSONL(t.logPath, event); err != nil {
		log.Error().Err(err).Str("path", t.logPath).Msgf("telemetry: failed to write %s event", kind)
		return
	}
	t.count++
}

// StreamStarted implements stream.Observer.
func (t *Tracker) StreamStarted(string) {}

// StreamEnded implements stream.Observer.
func (t *Tracker) StreamEnded(s stream.Summary) {
	t.RecordStream(&StreamEvent{
		StreamID:         s.ID,
		Timestamp:        time.Now().UTC(),
		Key:              s.Key,
		Model:            s.Model,
		Outcome:          string(s.Outcome),
		StatusCode:       s.StatusCode,
		TextLength:       s.TextLength,
		PromptTokens:     s.PromptTokens,
		CompletionTokens: s.CompletionTokens,
		DurationMs:       s.Duration.Milliseconds(),
		Error:            s.Error,
	})
}

// SummaryFinished implements compression.Observer.
func (t *Tracker) SummaryFinished(outcome string, duration time.Duration) {
	t.RecordSummary(&SummaryEvent{
		Timestamp:  time.Now().UTC(),
		Outcome:    outcome,
		DurationMs: duration.Milliseconds(),
	})
}

// Count returns the number of events written.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Close logs the session total.
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.logPath != "" && t.count > 0 {
		log.Info().
			Str("path", t.logPath).
			Int("events", t.count).
			Msg("telemetry: session complete")
	}
	return nil
}
