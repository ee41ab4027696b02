package monitoring_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/streamchat/internal/monitoring"
	"github.com/compresr/streamchat/internal/stream"
)

func intPtr(v int) *int { return &v }

func doneSummary() stream.Summary {
	return stream.Summary{
		ID:               "0123456789abcdef",
		Key:              "0,2",
		Model:            "gpt-4",
		Outcome:          stream.OutcomeDone,
		Duration:         1500 * time.Millisecond,
		TextLength:       5,
		PromptTokens:     intPtr(12),
		CompletionTokens: intPtr(3),
	}
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

// =============================================================================
// METRICS
// =============================================================================

func scrape(t *testing.T, m *monitoring.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestMetrics_StreamLifecycle(t *testing.T) {
	m := monitoring.NewMetrics("test")

	m.StreamStarted("a")
	m.StreamStarted("b")
	m.StreamEnded(doneSummary())

	failed := doneSummary()
	failed.Outcome = stream.OutcomeUnauthorized
	failed.PromptTokens = nil
	failed.CompletionTokens = nil
	m.StreamEnded(failed)

	body := scrape(t, m)
	assert.Contains(t, body, "test_streams_started_total 2")
	assert.Contains(t, body, `test_streams_finished_total{outcome="done"} 1`)
	assert.Contains(t, body, `test_streams_finished_total{outcome="unauthorized"} 1`)
	assert.Contains(t, body, `test_tokens_total{direction="prompt"} 12`)
	assert.Contains(t, body, `test_tokens_total{direction="completion"} 3`)
	assert.Contains(t, body, "test_streams_active 0")
	assert.Contains(t, body, `test_stream_duration_seconds_count{outcome="done"} 1`)
}

func TestMetrics_SummariesAndHTTP(t *testing.T) {
	m := monitoring.NewMetrics("")
	m.SummaryFinished("summarized", time.Second)
	m.SummaryFinished("cached", time.Millisecond)
	m.SummaryFinished("summarized", 2*time.Second)
	m.RecordHTTP("GET", "/health", 200, time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `streamchat_summaries_total{outcome="cached"} 1`)
	assert.Contains(t, body, `streamchat_summaries_total{outcome="summarized"} 2`)
	assert.Contains(t, body, "streamchat_summary_duration_seconds_count 3")
	assert.Contains(t, body, `streamchat_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

// =============================================================================
// TELEMETRY
// =============================================================================

func TestTracker_WritesStreamAndSummaryEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "telemetry.jsonl")
	tr, err := monitoring.NewTracker(monitoring.TelemetryConfig{Enabled: true, LogPath: path})
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err, "log file is created eagerly")

	tr.StreamEnded(doneSummary())
	tr.SummaryFinished("failed", 250*time.Millisecond)
	require.NoError(t, tr.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "0123456789abcdef", lines[0]["stream_id"])
	assert.Equal(t, "done", lines[0]["outcome"])
	assert.EqualValues(t, 12, lines[0]["prompt_tokens"])
	assert.EqualValues(t, 1500, lines[0]["duration_ms"])
	assert.Equal(t, "failed", lines[1]["outcome"])
	assert.EqualValues(t, 250, lines[1]["duration_ms"])
	assert.Equal(t, 2, tr.Count())
}

func TestTracker_Disabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	tr, err := monitoring.NewTracker(monitoring.TelemetryConfig{Enabled: false, LogPath: path})
	require.NoError(t, err)

	tr.StreamEnded(doneSummary())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Zero(t, tr.Count())
}

// =============================================================================
// ALERTS & LOGGING
// =============================================================================

func TestAlertManager_StreamEnded(t *testing.T) {
	var buf bytes.Buffer
	am := monitoring.NewAlertManager(monitoring.NewWithWriter(&buf, zerolog.DebugLevel), monitoring.AlertConfig{SlowStreamThreshold: time.Second})

	fast := doneSummary()
	fast.Duration = 10 * time.Millisecond
	am.StreamEnded(fast)
	assert.Empty(t, buf.String())

	am.StreamEnded(doneSummary())
	assert.Contains(t, buf.String(), "slow_stream")

	buf.Reset()
	failed := doneSummary()
	failed.Outcome = stream.OutcomeStreamError
	failed.StatusCode = 500
	am.StreamEnded(failed)
	assert.Contains(t, buf.String(), "stream_failed")
	assert.Contains(t, buf.String(), `"status":500`)
}

func TestContextIDs(t *testing.T) {
	ctx := monitoring.WithRequestIDContext(context.Background(), "req-1")
	ctx = monitoring.WithStreamIDContext(ctx, "stream-1")

	assert.Equal(t, "req-1", monitoring.RequestIDFromContext(ctx))
	assert.Equal(t, "stream-1", monitoring.StreamIDFromContext(ctx))
	assert.Empty(t, monitoring.RequestIDFromContext(context.Background()))
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := monitoring.New(monitoring.LoggerConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info().Str("k", "v").Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
}

// =============================================================================
// FANOUT
// =============================================================================

type recorder struct {
	started []string
	ended   []stream.Summary
}

func (r *recorder) StreamStarted(id string)       { r.started = append(r.started, id) }
func (r *recorder) StreamEnded(s stream.Summary) { r.ended = append(r.ended, s) }

func TestFanout(t *testing.T) {
	rec := &recorder{}
	m := monitoring.NewMetrics("fan")
	f := monitoring.NewFanout(rec, nil, m)

	f.StreamStarted("x")
	f.StreamEnded(doneSummary())
	f.SummaryFinished("summarized", time.Second)

	assert.Equal(t, []string{"x"}, rec.started)
	require.Len(t, rec.ended, 1)

	assert.Contains(t, scrape(t, m), `fan_summaries_total{outcome="summarized"} 1`)
}
