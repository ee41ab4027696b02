package external_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/streamchat/external"
	"github.com/compresr/streamchat/internal/assembler"
	"github.com/compresr/streamchat/internal/credentials"
)

func chatRequest() assembler.Request {
	return assembler.Request{
		Model:       "gpt-4",
		Temperature: 0.5,
		Messages:    []assembler.WireMessage{{Role: "user", Content: "hi"}},
		Stream:      true,
	}
}

func TestCallChat_Success(t *testing.T) {
	var gotBody []byte
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"  summary text  "}}],"usage":{"prompt_tokens":12,"completion_tokens":7}}`))
	}))
	defer srv.Close()

	resolver := credentials.NewStatic(credentials.Config{BaseURL: srv.URL, APIKey: "sk-test"}, nil)
	result, err := external.CallChat(context.Background(), external.CallChatParams{
		Resolver: resolver,
		Request:  chatRequest(),
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "summary text", result.Content)
	assert.True(t, result.HasUsage)
	assert.Equal(t, 12, result.PromptTokens)
	assert.Equal(t, 7, result.CompletionTokens)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, external.DefaultChatPath, gotPath)
	assert.False(t, gjson.GetBytes(gotBody, "stream").Bool())
	assert.Equal(t, 0.5, gjson.GetBytes(gotBody, "temperature").Float())
}

func TestCallChat_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
	}))
	defer srv.Close()

	resolver := credentials.NewStatic(credentials.Config{BaseURL: srv.URL}, nil)
	result, err := external.CallChat(context.Background(), external.CallChatParams{Resolver: resolver, Request: chatRequest()})
	require.Error(t, err)
	assert.Nil(t, result)

	var statusErr *external.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "(truncated)")
}

func TestCallChat_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>`},
		{name: "no choices", body: `{"choices":[]}`},
		{name: "no message", body: `{"choices":[{"index":0}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			resolver := credentials.NewStatic(credentials.Config{BaseURL: srv.URL}, nil)
			result, err := external.CallChat(context.Background(), external.CallChatParams{Resolver: resolver, Request: chatRequest()})
			assert.Nil(t, result)
			assert.ErrorIs(t, err, external.ErrMalformedResponse)
		})
	}
}

func TestCallChat_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	resolver := credentials.NewStatic(credentials.Config{BaseURL: srv.URL}, nil)
	_, err := external.CallChat(context.Background(), external.CallChatParams{
		Resolver: resolver,
		Request:  chatRequest(),
		Timeout:  50 * time.Millisecond,
	})
	require.Error(t, err)
}

func TestCallChat_Validation(t *testing.T) {
	_, err := external.CallChat(context.Background(), external.CallChatParams{Request: chatRequest()})
	assert.Error(t, err)

	resolver := credentials.NewStatic(credentials.Config{BaseURL: "http://127.0.0.1:1"}, nil)
	_, err = external.CallChat(context.Background(), external.CallChatParams{Resolver: resolver})
	assert.Error(t, err)
}
