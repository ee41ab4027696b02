package stream

import (
	"context"

	"github.com/compresr/streamchat/internal/conversation"
	"github.com/compresr/streamchat/internal/registry"
)

// Handlers is the callback form of a stream's events. Nil callbacks are skipped.
type Handlers struct {
	// OnMessage receives the accumulated text; done is true exactly once.
	OnMessage func(text string, done bool, promptTokens, completionTokens *int)

	// OnError receives the terminal error; statusCode is 0 when absent.
	OnError func(err *Error, statusCode int)

	// OnController receives the cancellation handle once the response is accepted.
	OnController func(h *registry.Handle)
}

// Dispatch drains s into h and returns after the terminal event.
func Dispatch(s *Stream, h Handlers) {
	for ev := range s.Events() {
		switch {
		case ev.Handle != nil:
			if h.OnController != nil {
				h.OnController(ev.Handle)
			}
		case ev.Err != nil:
			if h.OnError != nil {
				h.OnError(ev.Err, ev.Err.StatusCode)
			}
		default:
			if h.OnMessage != nil {
				h.OnMessage(ev.Text, ev.Done, ev.PromptTokens, ev.CompletionTokens)
			}
		}
	}
}

// StreamWithHandlers starts a stream and dispatches its events to h in the
// background. It returns immediately.
func (c *Client) StreamWithHandlers(ctx context.Context, msgs []conversation.Message, opts Options, h Handlers) *Stream {
	s := c.Stream(ctx, msgs, opts)
	go Dispatch(s, h)
	return s
}
