// Package metrics exposes bosh invocation, retry, tool and health metrics in
// the Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tyemirov/boshpulse/internal/retry"
)

const namespace = "boshpulse"

// Recorder owns a private registry so that tests and embedded servers never
// collide on the default one.
type Recorder struct {
	registry            *prometheus.Registry
	executions          *prometheus.CounterVec
	executionDuration   *prometheus.HistogramVec
	retries             *prometheus.CounterVec
	toolCalls           *prometheus.CounterVec
	toolDuration        *prometheus.HistogramVec
	healthy             prometheus.Gauge
	consecutiveFailures prometheus.Gauge
}

// NewRecorder constructs a Recorder with the Go runtime and process collectors registered.
func NewRecorder() *Recorder {
	recorder := &Recorder{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cli",
				Name:      "invocations_total",
				Help:      "bosh CLI invocations by outcome.",
			},
			[]string{"outcome"},
		),
		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "cli",
				Name:      "invocation_duration_seconds",
				Help:      "bosh CLI invocation duration in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"outcome"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retry",
				Name:      "attempts_total",
				Help:      "Failed attempts that were retried, by operation.",
			},
			[]string{"operation"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "tool",
				Name:      "calls_total",
				Help:      "Tool calls by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "tool",
				Name:      "call_duration_seconds",
				Help:      "Tool call duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "director",
			Name:      "healthy",
			Help:      "1 when the last health probe succeeded.",
		}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "director",
			Name:      "consecutive_probe_failures",
			Help:      "Health probe failures since the last success.",
		}),
	}
	recorder.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		recorder.executions,
		recorder.executionDuration,
		recorder.retries,
		recorder.toolCalls,
		recorder.toolDuration,
		recorder.healthy,
		recorder.consecutiveFailures,
	)
	return recorder
}

// ObserveExecution records one bosh invocation.
func (recorder *Recorder) ObserveExecution(outcome string, duration time.Duration) {
	recorder.executions.WithLabelValues(outcome).Inc()
	recorder.executionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveRetry records a failed attempt that will be retried.
func (recorder *Recorder) ObserveRetry(attempt retry.Attempt) {
	recorder.retries.WithLabelValues(attempt.Operation).Inc()
}

// ObserveToolCall records one tool call.
func (recorder *Recorder) ObserveToolCall(tool string, outcome string, duration time.Duration) {
	recorder.toolCalls.WithLabelValues(tool, outcome).Inc()
	recorder.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveHealth records the latest probe result.
func (recorder *Recorder) ObserveHealth(healthy bool, consecutiveFailures int) {
	if healthy {
		recorder.healthy.Set(1)
	} else {
		recorder.healthy.Set(0)
	}
	recorder.consecutiveFailures.Set(float64(consecutiveFailures))
}

// Registry returns the underlying registry.
func (recorder *Recorder) Registry() *prometheus.Registry {
	return recorder.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (recorder *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(recorder.registry, promhttp.HandlerOpts{})
}
