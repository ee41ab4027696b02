// Package chat runs conversation turns on top of the streaming transport.
//
// DESIGN: Service owns the cancellation registry and glues the core together:
//   - Send:      append the user message and an assistant placeholder, stream
//     the reply into the placeholder, then queue summaries
//   - Stop:      abort one in-flight reply, StopAll aborts every reply
//   - Summarize: summarize one message now
//
// FLOW (Send):
//  1. Append user message + streaming assistant placeholder
//  2. Select context (preamble + last HistoryCount messages)
//  3. Stream under key (conversation, assistant id)
//  4. Fold partial text into the placeholder as it arrives
//  5. Done  → store text and tokens, clear Streaming, queue pending summaries
//     Error → clear Streaming; 401 asks for credentials, other failures set
//     Failed and are shown to the user unless the turn was stopped
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/streamchat/internal/assembler"
	"github.com/compresr/streamchat/internal/compression"
	"github.com/compresr/streamchat/internal/conversation"
	"github.com/compresr/streamchat/internal/registry"
	"github.com/compresr/streamchat/internal/stream"
)

var (
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrConversationNotFound is returned for an unknown conversation index.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrCompressionDisabled is returned by Summarize without a worker.
	ErrCompressionDisabled = errors.New("compression is disabled")
)

// Options holds the collaborators of a Service.
type Options struct {
	Source   conversation.Source
	Global   conversation.ModelConfig // Lowest configuration layer
	Client   *stream.Client
	Registry *registry.Registry    // Must be the registry Client was created with
	Worker   *compression.Worker   // Optional
	Notifier conversation.Notifier // Optional
}

// Service manages conversation turns.
type Service struct {
	source   conversation.Source
	global   conversation.ModelConfig
	client   *stream.Client
	registry *registry.Registry
	worker   *compression.Worker
	notifier conversation.Notifier

	turns map[registry.Key]*Turn
	mu    sync.Mutex
}

// New creates a Service.
func New(opts Options) *Service {
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	return &Service{
		source:   opts.Source,
		global:   opts.Global,
		client:   opts.Client,
		registry: reg,
		worker:   opts.Worker,
		notifier: opts.Notifier,
		turns:    make(map[registry.Key]*Turn),
	}
}

// SendOptions are per-turn settings.
type SendOptions struct {
	Overrides conversation.Overrides

	// OnEvent observes every stream event after it was folded into the
	// conversation. It runs on the turn's goroutine.
	OnEvent func(stream.Event)
}

// Send starts one turn and returns once the request is in flight.
func (s *Service) Send(ctx context.Context, conv int, content string, opts SendOptions) (*Turn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	var userID, botID int64
	err := s.source.Update(conv, func(c *conversation.Conversation) {
		now := time.Now()
		userID = c.NextID()
		botID = userID + 1
		c.Messages = append(c.Messages,
			conversation.Message{ID: userID, Role: conversation.RoleUser, Content: content, CreatedAt: now},
			conversation.Message{ID: botID, Role: conversation.RoleAssistant, CreatedAt: now, Streaming: true},
		)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %d", ErrConversationNotFound, conv)
	}

	snap, ok := s.source.Get(conv)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrConversationNotFound, conv)
	}
	cfg := conversation.Resolve(s.global, snap.Config, conversation.Overrides{})

	// The placeholder is not part of the request.
	if i := snap.Find(botID); i >= 0 {
		snap.Messages = append(snap.Messages[:i], snap.Messages[i+1:]...)
	}
	msgs := assembler.SelectContext(&snap, cfg.HistoryCount)

	key := registry.Key{Conversation: conv, Message: botID}

	turn := &Turn{
		Conversation: conv,
		UserID:       userID,
		AssistantID:  botID,
		done:         make(chan struct{}),
	}
	s.mu.Lock()
	s.turns[key] = turn
	s.mu.Unlock()

	turn.stream = s.client.Stream(ctx, msgs, stream.Options{Key: &key, Config: cfg, Overrides: opts.Overrides})

	log.Debug().
		Int("conversation", conv).
		Int64("message_id", botID).
		Str("stream_id", turn.stream.ID()).
		Int("context_messages", len(msgs)).
		Msg("chat: turn started")

	go s.fold(turn, key, opts.OnEvent)
	return turn, nil
}

// fold applies the events of turn to the conversation.
func (s *Service) fold(turn *Turn, key registry.Key, onEvent func(stream.Event)) {
	defer func() {
		s.mu.Lock()
		if s.turns[key] == turn {
			delete(s.turns, key)
		}
		s.mu.Unlock()
		close(turn.done)
	}()

	for ev := range turn.stream.Events() {
		switch {
		case ev.Handle != nil:
		case ev.Err != nil:
			s.failed(turn, ev.Err)
		case ev.Done:
			s.finished(turn, ev)
		default:
			s.update(turn, func(m *conversation.Message) { m.Content = ev.Text })
		}
		if onEvent != nil {
			onEvent(ev)
		}
	}
}

func (s *Service) finished(turn *Turn, ev stream.Event) {
	s.update(turn, func(m *conversation.Message) {
		m.Content = ev.Text
		m.Streaming = false
		m.Failed = false
		m.PromptTokens = ev.PromptTokens
		m.CompletionTokens = ev.CompletionTokens
	})
	s.queueSummaries(turn.Conversation)
}

func (s *Service) failed(turn *Turn, e *stream.Error) {
	turn.setErr(e)
	stopped := turn.Stopped()
	unauthorized := e.Kind == stream.KindUnauthorized

	s.update(turn, func(m *conversation.Message) {
		m.Streaming = false
		m.Failed = !stopped && !unauthorized
	})

	switch {
	case stopped:
		log.Debug().Int("conversation", turn.Conversation).Int64("message_id", turn.AssistantID).Msg("chat: turn stopped")
	case unauthorized:
		if s.notifier != nil {
			s.notifier.PromptCredentials(turn.Conversation)
		}
	default:
		if s.notifier != nil {
			s.notifier.ShowError(turn.Conversation, turn.AssistantID, e)
		}
	}
}

func (s *Service) update(turn *Turn, fn func(*conversation.Message)) {
	err := s.source.Update(turn.Conversation, func(c *conversation.Conversation) {
		if i := c.Find(turn.AssistantID); i >= 0 {
			fn(&c.Messages[i])
		}
	})
	if err != nil {
		log.Warn().Err(err).Int("conversation", turn.Conversation).Msg("chat: failed to update message")
	}
}

// queueSummaries submits every message that is waiting for a summary.
func (s *Service) queueSummaries(conv int) {
	if s.worker == nil {
		return
	}
	c, ok := s.source.Get(conv)
	if !ok {
		return
	}
	cfg := conversation.Resolve(s.global, c.Config, conversation.Overrides{})
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.Hidden || m.Streaming || m.Failed {
			continue
		}
		if compression.StateOf(m, cfg) == compression.StatePending {
			s.worker.Submit(conv, m.ID)
		}
	}
}

// Stop aborts the reply streaming into (conv, messageID).
func (s *Service) Stop(conv int, messageID int64) {
	key := registry.Key{Conversation: conv, Message: messageID}
	s.mu.Lock()
	if t, ok := s.turns[key]; ok {
		t.markStopped()
	}
	s.mu.Unlock()
	s.registry.Stop(conv, messageID)
}

// StopAll aborts every reply in flight.
func (s *Service) StopAll() {
	s.mu.Lock()
	for _, t := range s.turns {
		t.markStopped()
	}
	s.mu.Unlock()
	s.registry.StopAll()
}

// Pending reports whether any reply is in flight.
func (s *Service) Pending() bool {
	return s.registry.HasPending()
}

// Summarize summarizes one message synchronously and applies the result.
func (s *Service) Summarize(ctx context.Context, conv int, messageID int64, force bool) (*compression.SummaryResponse, error) {
	if s.worker == nil {
		return nil, ErrCompressionDisabled
	}
	return s.worker.Run(ctx, conv, messageID, compression.SummarizeOptions{Force: force})
}

// =============================================================================
// TURN
// =============================================================================

// Turn is one user message and the reply streaming into its placeholder.
type Turn struct {
	Conversation int
	UserID       int64
	AssistantID  int64

	stream  *stream.Stream
	done    chan struct{}
	mu      sync.Mutex
	err     *stream.Error
	stopped bool
}

// StreamID returns the id of the underlying stream.
func (t *Turn) StreamID() string { return t.stream.ID() }

// Done is closed once the turn's final state is stored.
func (t *Turn) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn ends and returns its stream error, if any.
func (t *Turn) Wait(ctx context.Context) error {
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if e := t.Err(); e != nil {
		return e
	}
	return nil
}

// Err returns the terminal stream error, nil on success or while running.
func (t *Turn) Err() *stream.Error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Stopped reports whether the turn was aborted by Stop or StopAll.
func (t *Turn) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Turn) setErr(e *stream.Error) {
	t.mu.Lock()
	t.err = e
	t.mu.Unlock()
}

func (t *Turn) markStopped() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}
