// Package conversation holds the data model shared by every layer of the client.
//
// DESIGN: Conversations are owned by the surrounding application. This package
// defines the shapes (Message, Conversation, ModelConfig) and the narrow
// accessor interfaces the core consumes:
//   - Source:    current-conversation accessor
//   - Notifier:  "show error" sink for the UI layer
//
// Messages are mutated in place only through Source.Update so that readers
// never observe a half-written summary.
package conversation

import (
	"strings"
	"time"
)

// =============================================================================
// ROLES
// =============================================================================

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// =============================================================================
// SUMMARIZATION LEVEL
// =============================================================================

// SummarizeLevel selects how aggressively history is compressed.
type SummarizeLevel string

const (
	SummarizeNone        SummarizeLevel = "none"        // Always send original content
	SummarizeIncremental SummarizeLevel = "incremental" // Substitute per-message summaries
)

// Incremental reports whether per-message summary substitution is enabled.
func (l SummarizeLevel) Incremental() bool {
	return l == SummarizeIncremental
}

// =============================================================================
// MESSAGE
// =============================================================================

// Message is one conversational turn.
type Message struct {
	ID        int64     `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// Summary data. UseSummary is only ever true together with a non-empty Summary.
	Summary       string `json:"summary,omitempty"`
	UseSummary    bool   `json:"use_summary,omitempty"`
	SummaryTokens *int   `json:"summary_tokens,omitempty"` // Completion tokens spent generating Summary

	// Token accounting
	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`

	// Status
	Hidden    bool `json:"hidden,omitempty"`    // Excluded from context assembly
	Streaming bool `json:"streaming,omitempty"` // Response still arriving
	Failed    bool `json:"failed,omitempty"`    // Last attempt ended in an error
}

// HasSummary reports whether a non-empty summary is stored.
func (m *Message) HasSummary() bool {
	return strings.TrimSpace(m.Summary) != ""
}

// SetSummary stores a summary and enables substitution in one step.
// An empty summary leaves the message untouched and returns false.
func (m *Message) SetSummary(summary string, tokens int) bool {
	if strings.TrimSpace(summary) == "" {
		return false
	}
	m.Summary = summary
	m.UseSummary = true
	m.SummaryTokens = &tokens
	return true
}

// ClearSummary drops the stored summary and disables substitution.
func (m *Message) ClearSummary() {
	m.Summary = ""
	m.UseSummary = false
	m.SummaryTokens = nil
}

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation is an ordered sequence of messages plus its configuration.
type Conversation struct {
	Index    int         `json:"index"`
	Topic    string      `json:"topic"`
	Messages []Message   `json:"messages"`
	Context  []Message   `json:"context,omitempty"` // Persistent preamble sent with every request
	Config   ModelConfig `json:"config"`           // Conversation-level settings
}

// Find returns the position of the message with the given ID, or -1.
func (c *Conversation) Find(id int64) int {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// NextID returns an ID larger than any message ID in the conversation.
func (c *Conversation) NextID() int64 {
	var max int64
	for _, m := range c.Context {
		if m.ID > max {
			max = m.ID
		}
	}
	for _, m := range c.Messages {
		if m.ID > max {
			max = m.ID
		}
	}
	return max + 1
}

// Snapshot returns a deep-enough copy of the conversation for read-only use.
// Message slices are copied so callers may not mutate the original.
func (c *Conversation) Snapshot() Conversation {
	cp := *c
	cp.Messages = append([]Message(nil), c.Messages...)
	cp.Context = append([]Message(nil), c.Context...)
	return cp
}
