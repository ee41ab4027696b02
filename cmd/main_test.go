package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/streamchat/internal/config"
	"github.com/compresr/streamchat/internal/tui"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantName string
		wantArgs []string
	}{
		{name: "bare", line: "/quit", wantName: "quit", wantArgs: []string{}},
		{name: "uppercase", line: "/HELP", wantName: "help", wantArgs: []string{}},
		{name: "arguments", line: "/summarize 4 force", wantName: "summarize", wantArgs: []string{"4", "force"}},
		{name: "extra spaces", line: "/new   my   topic ", wantName: "new", wantArgs: []string{"my", "topic"}},
		{name: "empty", line: "/", wantName: "", wantArgs: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, args := parseCommand(tt.line)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short", 10))
	assert.Equal(t, "a b c", preview("a\n b\tc", 10))
	assert.Equal(t, "abcdefg...", preview("abcdefghijklmnop", 10))
	assert.Equal(t, "ééééééé...", preview(strings.Repeat("é", 20), 10))
}

func TestFormatUsage(t *testing.T) {
	assert.Equal(t, "used $1.50 of $120.00 this month", formatUsage(1.5, 120))
	assert.Equal(t, "used $0.25 this month", formatUsage(0.25, 0))
}

// =============================================================================
// CONFIG
// =============================================================================

func TestResolveConfig_UserPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("defaults:\n  model: gpt-4\n"), 0600))

	data, source, err := resolveConfig(path)
	require.NoError(t, err)
	assert.Equal(t, path, source)

	cfg, err := config.LoadFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", cfg.Defaults.Model)
}

func TestResolveConfig_MissingUserPath(t *testing.T) {
	_, _, err := resolveConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestResolveConfig_Fallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	data, source, err := resolveConfig("")
	require.NoError(t, err)
	assert.NotEmpty(t, source)

	cfg, err := config.LoadFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", cfg.Defaults.Model)
}

func TestEmbeddedConfigIsValid(t *testing.T) {
	data, err := getEmbeddedConfig()
	require.NoError(t, err)

	cfg, err := config.LoadFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, config.TokensAuto, cfg.Tokens.Strategy)
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, writeDefaultConfig(path, false))
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	embedded, err := getEmbeddedConfig()
	require.NoError(t, err)
	assert.Equal(t, embedded, written)

	assert.Error(t, writeDefaultConfig(path, false), "existing config is kept")
	assert.NoError(t, writeDefaultConfig(path, true))
}

// =============================================================================
// REPL
// =============================================================================

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Endpoint.BaseURL = baseURL
	cfg.Tokens.Strategy = config.TokensOff
	cfg.Monitoring.Metrics.Enabled = false
	return &cfg
}

// startREPL wires a REPL reading input against the given upstream.
func startREPL(t *testing.T, upstream *httptest.Server, input string) (*repl, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	r := newREPL(tui.NewConsole(strings.NewReader(input), &out))
	a, err := newApp(context.Background(), testConfig(upstream.URL), r)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	r.attach(a)
	return r, &out
}

func TestREPL_StreamsReply(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Hello there"))
	}))
	defer upstream.Close()

	r, out := startREPL(t, upstream, "hi\n/history\n/quit\n")
	require.NoError(t, r.run(context.Background()))

	assert.Contains(t, out.String(), "bot> Hello there")
	assert.Contains(t, out.String(), "user")
	assert.Contains(t, out.String(), "assistant")

	c, ok := r.app.source.Get(r.conv)
	require.True(t, ok)
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "Hello there", c.Messages[1].Content)
	assert.False(t, c.Messages[1].Streaming)
}

func TestREPL_PromptsForCredentialsOn401(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("welcome"))
	}))
	defer upstream.Close()

	r, out := startREPL(t, upstream, "hi\nsk-test\n/quit\n")
	require.NoError(t, r.run(context.Background()))

	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, out.String(), "credentials updated")
	assert.Contains(t, out.String(), "welcome")

	c, _ := r.app.source.Get(r.conv)
	require.Len(t, c.Messages, 4)
	assert.True(t, c.Messages[0].Hidden, "rejected turn is hidden")
	assert.True(t, c.Messages[1].Hidden)
	assert.False(t, c.Messages[1].Failed)
	assert.Equal(t, "welcome", c.Messages[3].Content)
}

func TestREPL_SkippedCredentialDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstream.Close()

	r, _ := startREPL(t, upstream, "hi\n\n/quit\n")
	require.NoError(t, r.run(context.Background()))

	assert.Equal(t, int32(1), calls.Load())
}

func TestREPL_ShowsServerErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	r, out := startREPL(t, upstream, "hi\n/quit\n")
	require.NoError(t, r.run(context.Background()))

	assert.Contains(t, out.String(), "[ERROR]")
	assert.Contains(t, out.String(), "model overloaded")

	c, _ := r.app.source.Get(r.conv)
	assert.True(t, c.Messages[1].Failed)
}

func TestREPL_Commands(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	r, out := startREPL(t, upstream, "/model\n/model gpt-4\n/new research\n/summarize\n/summarize x\n/bogus\n")
	require.NoError(t, r.run(context.Background()), "end of input exits cleanly")

	text := out.String()
	assert.Contains(t, text, "model: gpt-3.5-turbo")
	assert.Contains(t, text, "model set to gpt-4")
	assert.Contains(t, text, "started conversation 1")
	assert.Contains(t, text, "usage: /summarize <id> [force]")
	assert.Contains(t, text, `invalid message id "x"`)
	assert.Contains(t, text, "unknown command /bogus")

	first, _ := r.app.source.Get(0)
	assert.Equal(t, "gpt-4", first.Config.Model)
	assert.Equal(t, 1, r.conv)
}
