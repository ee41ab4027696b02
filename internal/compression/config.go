// Package compression - config.go contains configuration and default values.
//
// DESIGN: Centralized defaults for summary generation. These are used when
// the config file doesn't specify values.
package compression

import (
	"fmt"
	"time"

	"github.com/compresr/streamchat/internal/assembler"
)

// =============================================================================
// DEFAULT PROMPTS
// =============================================================================

// DefaultInstruction asks for an incremental summary of the last message.
var DefaultInstruction = `Summarize the last message above so it can replace the original in future requests.

Rules:
- Keep every fact, number, name, decision and open question it contains
- Use the earlier conversation only to resolve references, do not summarize it again
- Write in the same language as the message
- Be as short as possible without losing information

Reply with the summary text only, no preamble.`

// =============================================================================
// CONFIG
// =============================================================================

// Config holds compression settings.
type Config struct {
	Substitution   assembler.SubstitutionPolicy `yaml:"substitution"`    // flagged (default) or always
	Persona        string                       `yaml:"persona"`         // System instruction prepended to requests
	MarkerPreamble bool                         `yaml:"marker_preamble"` // Explain the summary marker to the model

	Summarizer SummarizerConfig `yaml:"summarizer"`

	// Background worker
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`

	// JobHistory caps how many finished jobs stay queryable.
	JobHistory int `yaml:"job_history"`

	// Event log (JSONL). Empty disables it.
	LogPath string `yaml:"log_path,omitempty"`
}

// SummarizerConfig holds the fixed parameters of the summary sub-request.
type SummarizerConfig struct {
	Model           string        `yaml:"model"`
	Temperature     float64       `yaml:"temperature"`
	PresencePenalty float64       `yaml:"presence_penalty"`
	MaxTokens       int           `yaml:"max_tokens,omitempty"`
	Timeout         time.Duration `yaml:"timeout"`
	Instruction     string        `yaml:"instruction,omitempty"`
}

// DefaultConfig returns sensible defaults for compression.
func DefaultConfig() Config {
	return Config{
		Substitution:   assembler.SubstituteFlagged,
		MarkerPreamble: true,
		Summarizer: SummarizerConfig{
			Model:           "gpt-4",
			Temperature:     0.5,
			PresencePenalty: 0,
			Timeout:         2 * time.Minute,
			Instruction:     DefaultInstruction,
		},
		Workers:    2,
		QueueSize:  100,
		JobHistory: 256,
	}
}

// Assembler returns the request-assembly part of the settings.
func (c Config) Assembler() assembler.Config {
	return assembler.Config{
		Policy:         c.Substitution,
		Persona:        c.Persona,
		MarkerPreamble: c.MarkerPreamble,
	}
}

// Validate checks the compression settings.
func (c Config) Validate() error {
	switch c.Substitution {
	case "", assembler.SubstituteFlagged, assembler.SubstituteAlways:
	default:
		return fmt.Errorf("compression.substitution must be %q or %q, got %q",
			assembler.SubstituteFlagged, assembler.SubstituteAlways, c.Substitution)
	}
	if c.Summarizer.Model == "" {
		return fmt.Errorf("compression.summarizer.model is required")
	}
	if c.Summarizer.Temperature < 0 || c.Summarizer.Temperature > 2 {
		return fmt.Errorf("compression.summarizer.temperature must be between 0 and 2")
	}
	if c.Workers < 0 || c.QueueSize < 0 || c.JobHistory < 0 {
		return fmt.Errorf("compression.workers, queue_size and job_history must not be negative")
	}
	return nil
}
