// Package stream sends an assembled chat request and relays the response
// incrementally.
//
// DESIGN: Each call to Client.Stream runs its request in one goroutine and
// publishes Events on a channel. Exactly one terminal event (Done or Err) is
// delivered per stream, after every partial event, and the channel is then
// closed. Event.Text is always the accumulated text, so its length never
// decreases.
//
// Two watchdogs guard the request:
//   - overall: cancels if response headers have not arrived in RequestTimeout
//   - idle:    re-armed before every body read; when it fires the accumulated
//     text is delivered as the final result and the transport is aborted
//
// FLOW:
//  1. Assemble with stream=true, estimate prompt tokens
//  2. Create the cancellation handle, register it under the optional key
//  3. POST; 401 → Unauthorized, other non-2xx → StreamError, failures → NetworkError
//  4. Emit a connection event carrying the handle
//  5. Read loop: decode → append → emit partial
//  6. Emit final event with token counts, cancel handle, deregister
package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/streamchat/internal/assembler"
	"github.com/compresr/streamchat/internal/conversation"
	"github.com/compresr/streamchat/internal/credentials"
	"github.com/compresr/streamchat/internal/registry"
	"github.com/compresr/streamchat/internal/tokens"
)

const (
	// DefaultTimeout applies to both watchdogs.
	DefaultTimeout = 60 * time.Second

	// DefaultChatPath is appended to the base URL.
	DefaultChatPath = "/v1/chat/completions"

	eventBuffer     = 16
	maxErrorBodyLen = 500
)

// =============================================================================
// CONFIG
// =============================================================================

// Config holds transport settings.
type Config struct {
	Path           string         `yaml:"-"` // From endpoint.chat_path
	Format         Format         `yaml:"format"`
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	IdleTimeout    time.Duration  `yaml:"idle_timeout"`
	ExtraBody      map[string]any `yaml:"extra_body"`
}

// DefaultConfig returns the built-in transport settings.
func DefaultConfig() Config {
	return Config{
		Path:           DefaultChatPath,
		Format:         FormatText,
		RequestTimeout: DefaultTimeout,
		IdleTimeout:    DefaultTimeout,
	}
}

// Validate checks the transport settings.
func (c Config) Validate() error {
	switch c.Format {
	case "", FormatText, FormatSSE:
	default:
		return fmt.Errorf("stream.format must be %q or %q, got %q", FormatText, FormatSSE, c.Format)
	}
	if c.RequestTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("stream timeouts must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.Format == "" {
		c.Format = def.Format
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	return c
}

// =============================================================================
// EVENTS
// =============================================================================

// Event is one notification of a stream.
type Event struct {
	Text  string // Accumulated response text
	Delta string // Text added by this event
	Done  bool

	PromptTokens     *int
	CompletionTokens *int

	Err *Error

	// Handle is set only on the connection event, emitted once after a 2xx
	// response and before any text.
	Handle *registry.Handle
}

// Final reports whether e terminates the stream.
func (e Event) Final() bool {
	return e.Done || e.Err != nil
}

// Outcome labels how a stream ended.
type Outcome string

const (
	OutcomeDone         Outcome = "done"
	OutcomeIdleTimeout  Outcome = "idle_timeout"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeStreamError  Outcome = "stream_error"
	OutcomeNetworkError Outcome = "network_error"
)

// Summary describes a finished stream.
type Summary struct {
	ID               string
	Key              string
	Model            string
	Outcome          Outcome
	StatusCode       int
	Duration         time.Duration
	TextLength       int
	PromptTokens     *int
	CompletionTokens *int
	Error            string
}

// Observer is notified about stream lifecycles.
type Observer interface {
	StreamStarted(id string)
	StreamEnded(summary Summary)
}

// =============================================================================
// CLIENT
// =============================================================================

// Options are per-call settings.
type Options struct {
	// Key registers the stream in the registry when set.
	Key *registry.Key

	// Config is the resolved model configuration of the conversation.
	Config conversation.ModelConfig

	// Overrides apply on top of Config.
	Overrides conversation.Overrides
}

// Client issues streaming chat requests.
type Client struct {
	config     Config
	resolver   credentials.Resolver
	assembler  *assembler.Assembler
	accountant *tokens.Accountant
	registry   *registry.Registry
	observer   Observer
}

// NewClient creates a streaming client. accountant, reg and observer may be nil.
func NewClient(cfg Config, resolver credentials.Resolver, asm *assembler.Assembler, accountant *tokens.Accountant, reg *registry.Registry, observer Observer) *Client {
	if asm == nil {
		asm = assembler.New(assembler.Config{})
	}
	return &Client{
		config:     cfg.withDefaults(),
		resolver:   resolver,
		assembler:  asm,
		accountant: accountant,
		registry:   reg,
		observer:   observer,
	}
}

// Stream is a single in-flight response. Events must be drained until the
// channel is closed.
type Stream struct {
	id     string
	key    *registry.Key
	events chan Event
	handle *registry.Handle
	ctx    context.Context
}

// ID returns the stream's unique id.
func (s *Stream) ID() string { return s.id }

// Events returns the event channel. It is closed after the terminal event.
func (s *Stream) Events() <-chan Event { return s.events }

// Handle returns the cancellation handle.
func (s *Stream) Handle() *registry.Handle { return s.handle }

// Cancel aborts the stream. The consumer receives a NetworkError unless the
// stream already ended.
func (s *Stream) Cancel() { s.handle.Cancel() }

// Stream starts the request and returns immediately.
func (c *Client) Stream(ctx context.Context, msgs []conversation.Message, opts Options) *Stream {
	streamOn := true
	req := c.assembler.Build(msgs, opts.Config, assembler.Options{Stream: &streamOn, Overrides: opts.Overrides})

	hctx, handle := registry.WithCancel(ctx)
	s := &Stream{
		id:     uuid.NewString(),
		key:    opts.Key,
		events: make(chan Event, eventBuffer),
		handle: handle,
		ctx:    hctx,
	}
	if opts.Key != nil && c.registry != nil {
		c.registry.Add(opts.Key.Conversation, opts.Key.Message, handle)
	}
	if c.observer != nil {
		c.observer.StreamStarted(s.id)
	}

	go c.run(s, req)
	return s
}

// run owns the stream until its terminal event.
func (c *Client) run(s *Stream, req assembler.Request) {
	start := time.Now()
	summary := Summary{ID: s.id, Model: req.Model}
	if s.key != nil {
		summary.Key = s.key.String()
	}

	defer func() {
		s.handle.Cancel()
		if s.key != nil && c.registry != nil {
			c.registry.RemoveIf(*s.key, s.handle)
		}
		close(s.events)

		summary.Duration = time.Since(start)
		logger := log.Debug()
		if summary.Outcome != OutcomeDone && summary.Outcome != OutcomeIdleTimeout {
			logger = log.Warn()
		}
		logger.Str("stream_id", s.id).
			Str("key", summary.Key).
			Str("outcome", string(summary.Outcome)).
			Int("status", summary.StatusCode).
			Int("text_len", summary.TextLength).
			Dur("duration", summary.Duration).
			Msg("stream: finished")
		if c.observer != nil {
			c.observer.StreamEnded(summary)
		}
	}()

	fail := func(e *Error) {
		summary.StatusCode = e.StatusCode
		summary.Error = e.Error()
		switch e.Kind {
		case KindUnauthorized:
			summary.Outcome = OutcomeUnauthorized
		case KindStream:
			summary.Outcome = OutcomeStreamError
		default:
			summary.Outcome = OutcomeNetworkError
		}
		s.events <- Event{Err: e}
	}

	// The prompt estimate runs beside the request and is joined at the end.
	promptCh := make(chan *int, 1)
	if c.accountant.Enabled() {
		go func() { promptCh <- c.accountant.Prompt(s.ctx, req.Messages) }()
	} else {
		promptCh <- nil
	}

	body, err := req.Body(c.config.ExtraBody)
	if err != nil {
		fail(networkError(err))
		return
	}

	httpReq, err := http.NewRequestWithContext(s.ctx, http.MethodPost, c.resolver.URL(c.config.Path), bytes.NewReader(body))
	if err != nil {
		fail(networkError(fmt.Errorf("failed to create request: %w", err)))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.resolver.Authorize(httpReq); err != nil {
		fail(networkError(fmt.Errorf("failed to authorize request: %w", err)))
		return
	}

	// Overall watchdog: disarmed once headers arrive.
	var overallFired atomic.Bool
	overall := time.AfterFunc(c.config.RequestTimeout, func() {
		overallFired.Store(true)
		s.handle.Cancel()
	})

	resp, err := c.resolver.Client().Do(httpReq)
	overall.Stop()
	if err != nil {
		if overallFired.Load() {
			err = fmt.Errorf("no response within %s: %w", c.config.RequestTimeout, err)
		}
		fail(networkError(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		fail(statusError(resp.StatusCode, strings.TrimSpace(string(errBody))))
		return
	}

	s.events <- Event{Handle: s.handle}

	text, usage, idled, rerr := c.read(s, resp.Body)
	summary.TextLength = len(text)
	if rerr != nil {
		fail(rerr)
		return
	}

	final := Event{Text: text, Done: true, PromptTokens: <-promptCh}
	if usage.promptTokens != nil {
		final.PromptTokens = usage.promptTokens
	}
	if usage.completionTokens != nil {
		final.CompletionTokens = usage.completionTokens
	} else if c.accountant.Enabled() {
		// The handle may already be cancelled; counting must not depend on it.
		final.CompletionTokens = c.accountant.Completion(context.WithoutCancel(s.ctx), text)
	}

	summary.Outcome = OutcomeDone
	if idled {
		summary.Outcome = OutcomeIdleTimeout
	}
	summary.PromptTokens = final.PromptTokens
	summary.CompletionTokens = final.CompletionTokens
	s.events <- final
}

// read runs the body loop. It returns the accumulated text, any usage the
// server reported and whether the idle watchdog ended the loop.
func (c *Client) read(s *Stream, body io.Reader) (string, chunk, bool, *Error) {
	dec := newDecoder(c.config.Format, body)

	var idleFired atomic.Bool
	idle := time.AfterFunc(c.config.IdleTimeout, func() {
		idleFired.Store(true)
		s.handle.Cancel()
	})
	idle.Stop()

	var text strings.Builder
	var usage chunk
	for {
		idle.Reset(c.config.IdleTimeout)
		ch, err := dec.next()
		idle.Stop()

		if ch.text != "" {
			text.WriteString(ch.text)
			s.events <- Event{Text: text.String(), Delta: ch.text}
		}
		if ch.promptTokens != nil {
			usage.promptTokens = ch.promptTokens
		}
		if ch.completionTokens != nil {
			usage.completionTokens = ch.completionTokens
		}

		switch {
		case idleFired.Load():
			log.Debug().Str("stream_id", s.id).Dur("idle_timeout", c.config.IdleTimeout).Msg("stream: idle timeout, finishing with partial text")
			return text.String(), usage, true, nil
		case err == io.EOF, ch.final:
			return text.String(), usage, false, nil
		case err != nil:
			if se, ok := err.(*Error); ok {
				return text.String(), usage, false, se
			}
			return text.String(), usage, false, networkError(err)
		}
	}
}
