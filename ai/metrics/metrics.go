// Package metrics provides Prometheus metrics export for the chat backend.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter holds the backend's metric instruments behind a private registry
// so the /metrics endpoint only exposes our own series.
type Exporter struct {
	registry *prometheus.Registry

	// Chat pipeline
	chatRequests *prometheus.CounterVec
	chatLatency  *prometheus.HistogramVec
	chatActive   prometheus.Gauge
	streamTokens prometheus.Counter

	// Tool runtime
	toolRuns    *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec

	// Preference lifecycle
	proposalDecisions *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewExporter creates a new metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mygpt",
			Subsystem: "ai",
			Name:      "chat_requests_total",
			Help:      "Total number of chat requests",
		},
		[]string{"kind", "outcome"},
	)

	e.chatLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mygpt",
			Subsystem: "ai",
			Name:      "chat_latency_seconds",
			Help:      "Chat request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"kind"},
	)

	e.chatActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mygpt",
			Subsystem: "ai",
			Name:      "chat_active",
			Help:      "Number of chat streams currently open",
		},
	)

	e.streamTokens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mygpt",
			Subsystem: "ai",
			Name:      "stream_tokens_total",
			Help:      "Total tokens streamed to clients",
		},
	)

	e.toolRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mygpt",
			Subsystem: "ai",
			Name:      "tool_runs_total",
			Help:      "Total number of tool runs",
		},
		[]string{"tool_name", "status"},
	)

	e.toolLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mygpt",
			Subsystem: "ai",
			Name:      "tool_latency_seconds",
			Help:      "Tool run latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"tool_name"},
	)

	e.proposalDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mygpt",
			Subsystem: "ai",
			Name:      "proposal_decisions_total",
			Help:      "Total preference proposal decisions",
		},
		[]string{"action"},
	)

	registry.MustRegister(
		e.chatRequests,
		e.chatLatency,
		e.chatActive,
		e.streamTokens,
		e.toolRuns,
		e.toolLatency,
		e.proposalDecisions,
	)

	return e
}

// RecordChatRequest records one chat or regenerate request.
func (e *Exporter) RecordChatRequest(kind string, latency time.Duration, outcome string) {
	e.chatRequests.WithLabelValues(kind, outcome).Inc()
	e.chatLatency.WithLabelValues(kind).Observe(latency.Seconds())
}

// ChatStarted marks a stream as open; the returned func closes it.
func (e *Exporter) ChatStarted() func() {
	e.chatActive.Inc()
	return e.chatActive.Dec
}

// RecordStreamTokens counts tokens delivered to a client.
func (e *Exporter) RecordStreamTokens(count int) {
	e.streamTokens.Add(float64(count))
}

// RecordToolRun records one tool invocation.
func (e *Exporter) RecordToolRun(toolName string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	e.toolRuns.WithLabelValues(toolName, status).Inc()
	e.toolLatency.WithLabelValues(toolName).Observe(latency.Seconds())
}

// RecordProposalDecision records an approve, reject, or proposed action.
func (e *Exporter) RecordProposalDecision(action string) {
	e.proposalDecisions.WithLabelValues(action).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
