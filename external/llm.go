// Non-streaming chat-completion client.
//
// CallChat is the single entry point for auxiliary requests that need the whole
// reply at once: summary generation and remote token estimation. The primary
// conversation path streams through internal/stream instead.
//
// FLOW:
//  1. Validate params, force stream=false
//  2. Marshal the assembled request (+ extra fields)
//  3. POST through the credentials resolver's client under a timeout context
//  4. Parse choices[0].message.content and usage
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/streamchat/internal/assembler"
	"github.com/compresr/streamchat/internal/credentials"
)

const (
	// DefaultTimeout for non-streaming calls.
	DefaultTimeout = 60 * time.Second

	// DefaultChatPath is appended to the base URL.
	DefaultChatPath = "/v1/chat/completions"

	// maxResponseSize prevents OOM on unexpectedly large API responses (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorBodyLen limits error body in error messages to avoid log bloat.
	maxErrorBodyLen = 500
)

// ErrMalformedResponse is returned when a 200 response has no usable content.
var ErrMalformedResponse = errors.New("malformed chat response")

// StatusError is returned for non-200 responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat API returned status %d: %s", e.StatusCode, e.Body)
}

// CallChatParams contains parameters for a non-streaming chat call.
type CallChatParams struct {
	Resolver credentials.Resolver
	Path     string // Defaults to DefaultChatPath
	Request  assembler.Request
	Extra    map[string]any
	Timeout  time.Duration
}

func (p *CallChatParams) validate() error {
	if p.Resolver == nil {
		return fmt.Errorf("credentials resolver required")
	}
	if p.Request.Model == "" {
		return fmt.Errorf("model required")
	}
	if len(p.Request.Messages) == 0 {
		return fmt.Errorf("at least one message required")
	}
	if p.Path == "" {
		p.Path = DefaultChatPath
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}
	return nil
}

// CallChatResult contains the reply of a chat call.
type CallChatResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	HasUsage         bool
}

// CallChat sends a non-streaming chat completion.
func CallChat(ctx context.Context, params CallChatParams) (*CallChatResult, error) {
	if err := params.validate(); err != nil {
		return nil, fmt.Errorf("invalid CallChat params: %w", err)
	}

	params.Request.Stream = false
	body, err := params.Request.Body(params.Extra)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, params.Resolver.URL(params.Path), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := params.Resolver.Authorize(req); err != nil {
		return nil, fmt.Errorf("failed to authorize chat request: %w", err)
	}

	resp, err := params.Resolver.Client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errBody := string(respBody)
		if len(errBody) > maxErrorBodyLen {
			errBody = errBody[:maxErrorBodyLen] + "... (truncated)"
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: errBody}
	}

	result, err := parseResponse(respBody)
	if err != nil {
		log.Warn().Err(err).Str("model", params.Request.Model).Msg("chat: discarding malformed response")
		return nil, err
	}
	return result, nil
}

func parseResponse(body []byte) (*CallChatResult, error) {
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	content, err := ExtractContent(&resp)
	if err != nil {
		return nil, err
	}

	result := &CallChatResult{Content: content}
	if resp.Usage != nil {
		result.HasUsage = true
		result.PromptTokens = resp.Usage.PromptTokens
		result.CompletionTokens = resp.Usage.CompletionTokens
	}
	return result, nil
}

// ExtractContent returns choices[0].message.content.
func ExtractContent(resp *ChatResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	msg := resp.Choices[0].Message
	if msg == nil {
		return "", fmt.Errorf("%w: choice has no message", ErrMalformedResponse)
	}
	return strings.TrimSpace(msg.Content), nil
}

// Client binds CallChat to fixed connection settings.
type Client struct {
	Resolver credentials.Resolver
	Path     string
	Timeout  time.Duration
	Extra    map[string]any
}

// Complete sends req as a non-streaming call.
func (c *Client) Complete(ctx context.Context, req assembler.Request) (*CallChatResult, error) {
	return CallChat(ctx, CallChatParams{
		Resolver: c.Resolver,
		Path:     c.Path,
		Request:  req,
		Extra:    c.Extra,
		Timeout:  c.Timeout,
	})
}
