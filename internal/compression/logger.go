// Compression event logging.
//
// Logs summarization events to a dedicated JSONL file for debugging.
package compression

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventLog writes compression events to a dedicated log file.
type EventLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Event represents a log entry.
type Event struct {
	Timestamp     string                 `json:"timestamp"`
	Event         string                 `json:"event"`
	Conversation  int                    `json:"conversation"`
	MessageID     int64                  `json:"message_id,omitempty"`
	Model         string                 `json:"model,omitempty"`
	ContentChars  int                    `json:"content_chars,omitempty"`
	SummaryChars  int                    `json:"summary_chars,omitempty"`
	SummaryTokens int                    `json:"summary_tokens,omitempty"`
	DurationMs    int64                  `json:"duration_ms,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// Event names.
const (
	EventSummarized = "summarized"
	EventCached     = "cache_hit"
	EventSkipped    = "skipped"
	EventFailed     = "failed"
)

// OpenEventLog opens (appending) the log at path. A path without the .jsonl
// extension is treated as a directory.
func OpenEventLog(path string) (*EventLog, error) {
	if filepath.Ext(path) != ".jsonl" {
		path = filepath.Join(path, "compression.jsonl")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := &EventLog{file: file, path: path}
	l.Log(Event{Event: "logger_initialized", Details: map[string]interface{}{"path": path}})
	return l, nil
}

// Path returns the log file path.
func (l *EventLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log writes an event. A nil log discards it.
func (l *EventLog) Log(event Event) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if data, err := json.Marshal(event); err == nil {
		_, _ = l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *EventLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
