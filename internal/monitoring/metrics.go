// Package monitoring - metrics.go exports Prometheus metrics.
//
// DESIGN: Metrics live on a private registry (no global state), exposed by
// Handler() for the server's /metrics endpoint:
//   - streams:   started, finished by outcome, duration, idle timeouts
//   - tokens:    prompt and completion counts
//   - summaries: outcomes and duration
//   - http:      server requests by path and status
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/compresr/streamchat/internal/stream"
)

// Metrics collects operational metrics.
type Metrics struct {
	registry *prometheus.Registry

	streamsStarted  prometheus.Counter
	streamsFinished *prometheus.CounterVec
	streamDuration  *prometheus.HistogramVec
	activeStreams   prometheus.Gauge
	tokens          *prometheus.CounterVec

	summaries       *prometheus.CounterVec
	summaryDuration prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "streamchat"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		streamsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_started_total",
			Help:      "Total number of streaming requests started",
		}),
		streamsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_finished_total",
			Help:      "Total number of streams by outcome",
		}, []string{"outcome"}),
		streamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Stream duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Streams currently in flight",
		}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Estimated or reported tokens by direction",
		}, []string{"direction"}),

		summaries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Summarization attempts by outcome",
		}, []string{"outcome"}),
		summaryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summary_duration_seconds",
			Help:      "Summarization duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// StreamStarted implements stream.Observer.
func (m *Metrics) StreamStarted(string) {
	m.streamsStarted.Inc()
	m.activeStreams.Inc()
}

// StreamEnded implements stream.Observer.
func (m *Metrics) StreamEnded(s stream.Summary) {
	outcome := string(s.Outcome)
	m.activeStreams.Dec()
	m.streamsFinished.WithLabelValues(outcome).Inc()
	m.streamDuration.WithLabelValues(outcome).Observe(s.Duration.Seconds())
	if s.PromptTokens != nil {
		m.tokens.WithLabelValues("prompt").Add(float64(*s.PromptTokens))
	}
	if s.CompletionTokens != nil {
		m.tokens.WithLabelValues("completion").Add(float64(*s.CompletionTokens))
	}
}

// SummaryFinished implements compression.Observer.
func (m *Metrics) SummaryFinished(outcome string, duration time.Duration) {
	m.summaries.WithLabelValues(outcome).Inc()
	m.summaryDuration.Observe(duration.Seconds())
}

// RecordHTTP records a served HTTP request.
func (m *Metrics) RecordHTTP(method, path string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
