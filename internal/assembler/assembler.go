// Package assembler turns a message list into a wire-ready chat request.
//
// DESIGN: Pure transformation, no I/O. For each message the outbound content is
// either the original text or, when summary substitution applies, the stored
// summary prefixed with SummaryMarker. A fixed preamble explaining the marker
// convention is injected ahead of the list whenever a substitution happened.
//
// FLOW:
//  1. SelectContext picks the persistent context + recent history
//  2. Build renders {role, content} pairs and resolves model parameters
//  3. Request.Body marshals the payload and merges configured extra fields
package assembler

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/sjson"

	"github.com/compresr/streamchat/internal/conversation"
)

// SummaryMarker prefixes substituted content so the remote model can tell a
// summary from original text.
const SummaryMarker = "[Summary] "

// MarkerPreamble explains the marker convention to the remote model.
const MarkerPreamble = "Some earlier messages in this conversation were compressed to save space. " +
	"A message whose content starts with \"[Summary]\" is an abstract of the original message, " +
	"not its verbatim text. Treat it as accurate but incomplete."

// =============================================================================
// SUBSTITUTION POLICY
// =============================================================================

// SubstitutionPolicy decides when a stored summary replaces original content.
type SubstitutionPolicy string

const (
	// SubstituteFlagged requires UseSummary in addition to a non-empty summary.
	SubstituteFlagged SubstitutionPolicy = "flagged"
	// SubstituteAlways substitutes whenever a non-empty summary exists.
	SubstituteAlways SubstitutionPolicy = "always"
)

// ShouldSubstitute reports whether msg is rendered as its summary.
// A message without a summary is never substituted, whatever its flag says.
func ShouldSubstitute(msg *conversation.Message, level conversation.SummarizeLevel, policy SubstitutionPolicy) bool {
	if !level.Incremental() || !msg.HasSummary() {
		return false
	}
	if policy == SubstituteAlways {
		return true
	}
	return msg.UseSummary
}

// Render returns the outbound content of msg.
func Render(msg *conversation.Message, level conversation.SummarizeLevel, policy SubstitutionPolicy) (string, bool) {
	if ShouldSubstitute(msg, level, policy) {
		return SummaryMarker + msg.Summary, true
	}
	return msg.Content, false
}

// =============================================================================
// REQUEST
// =============================================================================

// WireMessage is the {role, content} pair sent to the endpoint.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the outbound chat-completion payload.
type Request struct {
	Messages        []WireMessage `json:"messages"`
	Stream          bool          `json:"stream"`
	Model           string        `json:"model"`
	Temperature     float64       `json:"temperature"`
	PresencePenalty float64       `json:"presence_penalty"`
	MaxTokens       int           `json:"max_tokens,omitempty"`

	// Substituted counts messages rendered through their summary.
	Substituted int `json:"-"`
}

// reservedFields cannot be overwritten by extra body settings.
var reservedFields = map[string]bool{"messages": true, "stream": true}

// Body marshals the request and merges extra top-level fields.
func (r *Request) Body(extra map[string]any) ([]byte, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if len(extra) == 0 {
		return body, nil
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if reservedFields[k] {
			continue
		}
		body, err = sjson.SetBytes(body, k, extra[k])
		if err != nil {
			return nil, fmt.Errorf("failed to set extra field %q: %w", k, err)
		}
	}
	return body, nil
}

// =============================================================================
// ASSEMBLER
// =============================================================================

// Options are explicit call-time overrides. Nil fields are ignored.
type Options struct {
	Stream *bool
	conversation.Overrides
}

// Config holds configuration-time constants of the assembler.
type Config struct {
	Policy         SubstitutionPolicy `yaml:"substitution"`
	Persona        string             `yaml:"persona"`         // Optional system instruction prepended to every request
	MarkerPreamble bool               `yaml:"marker_preamble"` // Explain the summary marker when it is used
}

// Assembler builds requests.
type Assembler struct {
	config Config
}

// New creates an assembler.
func New(cfg Config) *Assembler {
	if cfg.Policy == "" {
		cfg.Policy = SubstituteFlagged
	}
	return &Assembler{config: cfg}
}

// Policy returns the substitution policy in effect.
func (a *Assembler) Policy() SubstitutionPolicy {
	return a.config.Policy
}

// Build renders msgs with cfg, then applies the non-nil overrides in opts.
func (a *Assembler) Build(msgs []conversation.Message, cfg conversation.ModelConfig, opts Options) Request {
	cfg = opts.Overrides.Apply(cfg)

	req := Request{
		Model:           cfg.Model,
		Temperature:     cfg.SamplingTemperature(),
		PresencePenalty: cfg.SamplingPresencePenalty(),
		MaxTokens:       cfg.MaxTokens,
	}
	if opts.Stream != nil {
		req.Stream = *opts.Stream
	}

	rendered := make([]WireMessage, 0, len(msgs)+2)
	for i := range msgs {
		if msgs[i].Hidden {
			continue
		}
		content, substituted := Render(&msgs[i], cfg.SummarizeLevel, a.config.Policy)
		if substituted {
			req.Substituted++
		}
		rendered = append(rendered, WireMessage{Role: string(msgs[i].Role), Content: content})
	}

	var preamble []WireMessage
	if a.config.Persona != "" {
		preamble = append(preamble, WireMessage{Role: string(conversation.RoleSystem), Content: a.config.Persona})
	}
	if a.config.MarkerPreamble && req.Substituted > 0 {
		preamble = append(preamble, WireMessage{Role: string(conversation.RoleSystem), Content: MarkerPreamble})
	}

	req.Messages = append(preamble, rendered...)
	return req
}

// SelectContext returns the persistent context followed by the recent,
// non-hidden history. historyCount <= 0 keeps the whole history.
func SelectContext(conv *conversation.Conversation, historyCount int) []conversation.Message {
	history := make([]conversation.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if m.Hidden {
			continue
		}
		history = append(history, m)
	}
	if historyCount > 0 && len(history) > historyCount {
		history = history[len(history)-historyCount:]
	}

	out := make([]conversation.Message, 0, len(conv.Context)+len(history))
	out = append(out, conv.Context...)
	return append(out, history...)
}
