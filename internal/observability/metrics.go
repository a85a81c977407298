// File: internal/observability/metrics.go
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rover"

var (
	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Agent runs by outcome.",
	}, []string{"outcome"})
	metricActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "runs_active",
		Help:      "Agent runs currently streaming.",
	})
	metricSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "steps_total",
		Help:      "Graph node executions by node name.",
	}, []string{"node"})
	metricFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_total",
		Help:      "Progress stream frames emitted by type.",
	}, []string{"type"})
	metricRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retries_total",
		Help:      "Recovered failures by source (loop or stream).",
	}, []string{"source"})
	metricLLMLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "llm_request_seconds",
		Help:      "Latency of reasoner calls by operation.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"operation"})
	metricSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "browser_sessions_active",
		Help:      "Browser sessions currently open (0 or 1).",
	})
)

// RecordRun counts a finished run and its outcome ("success", "error", "cancelled").
func RecordRun(outcome string) { metricRuns.WithLabelValues(outcome).Inc() }

// RunStarted marks a run as active and returns the func that marks it done.
func RunStarted() func() {
	metricActiveRuns.Inc()
	return metricActiveRuns.Dec
}

// RecordStep counts one node execution.
func RecordStep(node string) { metricSteps.WithLabelValues(node).Inc() }

// RecordFrame counts one emitted stream frame.
func RecordFrame(frameType string) { metricFrames.WithLabelValues(frameType).Inc() }

// RecordRetry counts a recovered failure.
func RecordRetry(source string) { metricRetries.WithLabelValues(source).Inc() }

// ObserveLLM records the latency of a reasoner call.
func ObserveLLM(operation string, d time.Duration) {
	metricLLMLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// SetSessionActive reflects whether a browser session is open.
func SetSessionActive(active bool) {
	if active {
		metricSessions.Set(1)
		return
	}
	metricSessions.Set(0)
}

// MetricsHandler exposes the default registry.
func MetricsHandler() http.Handler { return promhttp.Handler() }
