// Package compression replaces long messages with generated summaries.
//
// DESIGN: Per-message state machine, evaluated lazily:
//
//	Raw ──(length ≥ threshold, level incremental)──► Pending ──(Summarize ok)──► Summarized
//
// Summarization is best-effort. Every failure leaves the message untouched and
// is absorbed by the caller; the primary conversation never waits on it.
//
// FLOW:
//  1. Snapshot the conversation (no mutation while reading siblings)
//  2. BuildSummaryRequest: context + ancestors (through their summaries) + raw target + instruction
//  3. Send a non-streaming request with the summarizer's fixed parameters
//  4. Apply the result to the live message in one step
package compression

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/compresr/streamchat/external"
	"github.com/compresr/streamchat/internal/assembler"
	"github.com/compresr/streamchat/internal/conversation"
	"github.com/compresr/streamchat/internal/store"
	"github.com/compresr/streamchat/internal/tokens"
)

// Sentinel errors. All are expected outcomes that callers absorb.
var (
	ErrBelowThreshold    = errors.New("message below compression threshold")
	ErrAlreadySummarized = errors.New("message already summarized")
	ErrEmptySummary      = errors.New("summarizer returned an empty summary")
	ErrMessageNotFound   = errors.New("message not found")
)

// =============================================================================
// STATE
// =============================================================================

// State is the compression state of a message.
type State int

const (
	StateRaw State = iota
	StatePending
	StateSummarized
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSummarized:
		return "summarized"
	default:
		return "raw"
	}
}

// Eligible reports whether msg passes the level and threshold gate.
// A non-positive threshold disables compression.
func Eligible(msg *conversation.Message, cfg conversation.ModelConfig) bool {
	if !cfg.SummarizeLevel.Incremental() || cfg.CompressThreshold <= 0 {
		return false
	}
	return utf8.RuneCountInString(msg.Content) >= cfg.CompressThreshold
}

// StateOf returns the state of msg under cfg.
func StateOf(msg *conversation.Message, cfg conversation.ModelConfig) State {
	switch {
	case msg.HasSummary():
		return StateSummarized
	case Eligible(msg, cfg):
		return StatePending
	default:
		return StateRaw
	}
}

// ShouldSubstitute reports whether msg is rendered as its summary.
func ShouldSubstitute(msg *conversation.Message, level conversation.SummarizeLevel, policy assembler.SubstitutionPolicy) bool {
	return assembler.ShouldSubstitute(msg, level, policy)
}

// =============================================================================
// SUB-REQUEST
// =============================================================================

// Snapshot is a read-only view of one conversation.
type Snapshot struct {
	Conversation int
	Context      []conversation.Message
	Messages     []conversation.Message
	Config       conversation.ModelConfig // Resolved

	// Policy decides which ancestors are sent as their summary. Empty means
	// flagged.
	Policy assembler.SubstitutionPolicy
}

// NewSnapshot copies conv so later mutations don't affect the snapshot.
func NewSnapshot(index int, conv *conversation.Conversation, cfg conversation.ModelConfig) Snapshot {
	cp := conv.Snapshot()
	return Snapshot{Conversation: index, Context: cp.Context, Messages: cp.Messages, Config: cfg}
}

// Find returns the message with the given ID.
func (s *Snapshot) Find(id int64) (*conversation.Message, bool) {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return &s.Messages[i], true
		}
	}
	return nil, false
}

// BuildSummaryRequest returns the message list of the summary sub-request for
// targetID. Ancestors are rendered through their summary as snap.Policy
// allows; the target is always sent raw. It does not modify snap.
func BuildSummaryRequest(snap Snapshot, targetID int64, instruction string) ([]assembler.WireMessage, error) {
	if instruction == "" {
		instruction = DefaultInstruction
	}

	out := make([]assembler.WireMessage, 0, len(snap.Context)+len(snap.Messages)+1)
	for _, m := range snap.Context {
		out = append(out, assembler.WireMessage{Role: string(m.Role), Content: m.Content})
	}

	policy := snap.Policy
	if policy == "" {
		policy = assembler.SubstituteFlagged
	}

	found := false
	for i := range snap.Messages {
		m := &snap.Messages[i]
		if m.ID == targetID {
			out = append(out, assembler.WireMessage{Role: string(m.Role), Content: m.Content})
			found = true
			break
		}
		if m.Hidden {
			continue
		}
		content, _ := assembler.Render(m, conversation.SummarizeIncremental, policy)
		out = append(out, assembler.WireMessage{Role: string(m.Role), Content: content})
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrMessageNotFound, targetID)
	}

	out = append(out, assembler.WireMessage{Role: string(conversation.RoleUser), Content: instruction})
	return out, nil
}

// =============================================================================
// ENGINE
// =============================================================================

// SummaryResponse is the result of one summarization.
type SummaryResponse struct {
	MessageID int64
	Summary   string
	Tokens    int
	Cached    bool
}

// SummarizeOptions tune a single call.
type SummarizeOptions struct {
	// Force regenerates a summary that already exists and bypasses the cache.
	Force bool
}

// Completer sends a non-streaming chat request.
type Completer interface {
	Complete(ctx context.Context, req assembler.Request) (*external.CallChatResult, error)
}

// Observer is notified about summarization outcomes.
type Observer interface {
	SummaryFinished(outcome string, duration time.Duration)
}

// Engine generates summaries.
type Engine struct {
	config     SummarizerConfig
	completer  Completer
	cache      store.Store
	accountant *tokens.Accountant
	events     *EventLog
	observer   Observer
}

// EngineOptions holds the optional collaborators of an Engine.
type EngineOptions struct {
	Cache      store.Store
	Accountant *tokens.Accountant // Counts summary tokens when the response has no usage
	Events     *EventLog
	Observer   Observer
}

// NewEngine creates an engine.
func NewEngine(cfg SummarizerConfig, completer Completer, opts EngineOptions) *Engine {
	def := DefaultConfig().Summarizer
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Instruction == "" {
		cfg.Instruction = def.Instruction
	}
	return &Engine{
		config:     cfg,
		completer:  completer,
		cache:      opts.Cache,
		accountant: opts.Accountant,
		events:     opts.Events,
		observer:   opts.Observer,
	}
}

// State returns the state of msg under cfg.
func (e *Engine) State(msg *conversation.Message, cfg conversation.ModelConfig) State {
	return StateOf(msg, cfg)
}

// Summarize generates a summary for targetID. It never modifies snap; use
// Apply to fold the result into the live message.
func (e *Engine) Summarize(ctx context.Context, snap Snapshot, targetID int64, opts SummarizeOptions) (*SummaryResponse, error) {
	start := time.Now()

	target, ok := snap.Find(targetID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrMessageNotFound, targetID)
	}

	base := Event{Conversation: snap.Conversation, MessageID: targetID, Model: e.config.Model, ContentChars: utf8.RuneCountInString(target.Content)}

	if !Eligible(target, snap.Config) {
		e.finish("skipped", start, base, EventSkipped, ErrBelowThreshold)
		return nil, ErrBelowThreshold
	}
	if target.HasSummary() && !opts.Force {
		return nil, ErrAlreadySummarized
	}

	key := store.Key(snap.Conversation, targetID, target.Content)
	if e.cache != nil && !opts.Force {
		if rec, ok := e.cache.Get(key); ok && strings.TrimSpace(rec.Summary) != "" {
			base.SummaryChars = utf8.RuneCountInString(rec.Summary)
			base.SummaryTokens = rec.Tokens
			e.finish("cached", start, base, EventCached, nil)
			return &SummaryResponse{MessageID: targetID, Summary: rec.Summary, Tokens: rec.Tokens, Cached: true}, nil
		}
	}

	msgs, err := BuildSummaryRequest(snap, targetID, e.config.Instruction)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	result, err := e.completer.Complete(ctx, assembler.Request{
		Messages:        msgs,
		Model:           e.config.Model,
		Temperature:     e.config.Temperature,
		PresencePenalty: e.config.PresencePenalty,
		MaxTokens:       e.config.MaxTokens,
	})
	if err != nil {
		err = fmt.Errorf("summary request failed: %w", err)
		e.finish("failed", start, base, EventFailed, err)
		return nil, err
	}

	summary := strings.TrimSpace(result.Content)
	if summary == "" {
		e.finish("empty", start, base, EventFailed, ErrEmptySummary)
		return nil, ErrEmptySummary
	}

	count := result.CompletionTokens
	if !result.HasUsage {
		count = 0
		if n := e.accountant.Completion(ctx, summary); n != nil {
			count = *n
		}
	}

	if e.cache != nil {
		if err := e.cache.Set(key, store.Record{Summary: summary, Tokens: count, Model: e.config.Model}); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("compression: failed to cache summary")
		}
	}

	base.SummaryChars = utf8.RuneCountInString(summary)
	base.SummaryTokens = count
	e.finish("summarized", start, base, EventSummarized, nil)

	return &SummaryResponse{MessageID: targetID, Summary: summary, Tokens: count}, nil
}

func (e *Engine) finish(outcome string, start time.Time, ev Event, name string, err error) {
	duration := time.Since(start)
	ev.Event = name
	ev.DurationMs = duration.Milliseconds()
	if err != nil {
		ev.Error = err.Error()
	}
	e.events.Log(ev)

	if e.observer != nil {
		e.observer.SummaryFinished(outcome, duration)
	}

	logger := log.Debug()
	if outcome == "failed" {
		logger = log.Warn().Err(err)
	}
	logger.Int("conversation", ev.Conversation).
		Int64("message_id", ev.MessageID).
		Str("outcome", outcome).
		Int("summary_tokens", ev.SummaryTokens).
		Dur("duration", duration).
		Msg("compression: summarize")
}

// Apply folds resp into msg: summary, flag and token count change together
// or not at all. It returns false when nothing was applied.
func Apply(msg *conversation.Message, resp *SummaryResponse) bool {
	if msg == nil || resp == nil || msg.ID != resp.MessageID {
		return false
	}
	return msg.SetSummary(resp.Summary, resp.Tokens)
}
