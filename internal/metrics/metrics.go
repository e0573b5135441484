// Package metrics exposes Prometheus instrumentation for the session engine.
//
// Collectors are registered by Init. Until then every recording helper is a
// no-op, so packages can record unconditionally and tests need no registry.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeSessions    prometheus.Gauge
	authFailures      *prometheus.CounterVec
	turnsTotal        *prometheus.CounterVec
	turnDuration      prometheus.Histogram
	tasksTotal        *prometheus.CounterVec
	privacyRejections prometheus.Counter
	compactionsTotal  *prometheus.CounterVec
	llmRequests       *prometheus.CounterVec

	registry *prometheus.Registry
	initOnce sync.Once
)

// Init registers all collectors with the given constant labels on a private
// registry (plus the Go and process collectors). Safe to call multiple times;
// only the first call registers.
func Init(constLabels prometheus.Labels) {
	initOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		f := promauto.With(prometheus.WrapRegistererWith(constLabels, registry))

		activeSessions = f.NewGauge(prometheus.GaugeOpts{
			Name: "robi_active_sessions",
			Help: "Number of authenticated WebSocket sessions",
		})

		authFailures = f.NewCounterVec(prometheus.CounterOpts{
			Name: "robi_auth_failures_total",
			Help: "Rejected WebSocket handshakes by error code",
		}, []string{"code"})

		turnsTotal = f.NewCounterVec(prometheus.CounterOpts{
			Name: "robi_turns_total",
			Help: "Completed turns by input kind and outcome",
		}, []string{"kind", "outcome"})

		turnDuration = f.NewHistogram(prometheus.HistogramOpts{
			Name:    "robi_turn_duration_seconds",
			Help:    "Time from turn start to stream_end",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		})

		tasksTotal = f.NewCounterVec(prometheus.CounterOpts{
			Name: "robi_background_tasks_total",
			Help: "Background tasks by name and result (ok, error, dropped)",
		}, []string{"task", "result"})

		privacyRejections = f.NewCounter(prometheus.CounterOpts{
			Name: "robi_privacy_rejections_total",
			Help: "Memories discarded by the privacy filter",
		})

		compactionsTotal = f.NewCounterVec(prometheus.CounterOpts{
			Name: "robi_compactions_total",
			Help: "Compaction passes by target (memory, conversation) and result",
		}, []string{"target", "result"})

		llmRequests = f.NewCounterVec(prometheus.CounterOpts{
			Name: "robi_llm_requests_total",
			Help: "Generation requests by provider and result",
		}, []string{"provider", "result"})
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	Init(nil)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// SessionOpened increments the active session gauge.
func SessionOpened() {
	if activeSessions != nil {
		activeSessions.Inc()
	}
}

// SessionClosed decrements the active session gauge.
func SessionClosed() {
	if activeSessions != nil {
		activeSessions.Dec()
	}
}

// AuthFailed records a rejected handshake.
func AuthFailed(code string) {
	if authFailures != nil {
		authFailures.WithLabelValues(code).Inc()
	}
}

// TurnFinished records a turn outcome and, for completed turns, its latency.
func TurnFinished(kind, outcome string, d time.Duration) {
	if turnsTotal == nil {
		return
	}
	turnsTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == "ok" {
		turnDuration.Observe(d.Seconds())
	}
}

// TaskFinished records a background task result.
func TaskFinished(task, result string) {
	if tasksTotal != nil {
		tasksTotal.WithLabelValues(task, result).Inc()
	}
}

// PrivacyRejected records a memory dropped by the privacy filter.
func PrivacyRejected() {
	if privacyRejections != nil {
		privacyRejections.Inc()
	}
}

// Compacted records a compaction result.
func Compacted(target, result string) {
	if compactionsTotal != nil {
		compactionsTotal.WithLabelValues(target, result).Inc()
	}
}

// LLMRequest records a generation request result.
func LLMRequest(provider, result string) {
	if llmRequests != nil {
		llmRequests.WithLabelValues(provider, result).Inc()
	}
}
