package tokens

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/streamchat/internal/assembler"
)

// DefaultRemoteTimeout bounds one remote estimate, all variants included.
const DefaultRemoteTimeout = 10 * time.Second

// Accountant produces prompt and completion counts. Local is used when set;
// Remote only when there is no local counter or the local count failed.
type Accountant struct {
	Local  Counter
	Remote *RemoteEstimator

	// Timeout bounds a remote estimate. Zero means DefaultRemoteTimeout.
	Timeout time.Duration
}

// Prompt estimates the tokens of the outbound messages, contents joined by newline.
func (a *Accountant) Prompt(ctx context.Context, msgs []assembler.WireMessage) *int {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return a.count(ctx, strings.Join(parts, "\n"), "prompt")
}

// Completion estimates the tokens of the accumulated response text.
func (a *Accountant) Completion(ctx context.Context, text string) *int {
	return a.count(ctx, text, "completion")
}

// Enabled reports whether any strategy is configured.
func (a *Accountant) Enabled() bool {
	return a != nil && (a.Local != nil || a.Remote != nil)
}

func (a *Accountant) count(ctx context.Context, text, kind string) *int {
	if !a.Enabled() {
		return nil
	}

	if a.Local != nil {
		n, err := a.Local.Count(text)
		if err == nil {
			return &n
		}
		log.Debug().Err(err).Str("kind", kind).Msg("tokens: local count failed")
		if a.Remote == nil {
			return nil
		}
	}

	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n, err := a.Remote.Estimate(ctx, text)
	if err != nil {
		log.Debug().Err(err).Str("kind", kind).Msg("tokens: remote estimate failed")
		return nil
	}
	return &n
}
