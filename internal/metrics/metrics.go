// Package metrics holds the Prometheus collectors of the pipeline proxy.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pipelines"

// Metrics groups the collectors shared by the workflow client, the reconcilers
// and the input file service.
type Metrics struct {
	registry *prometheus.Registry

	remoteRequests *prometheus.CounterVec   // engine calls by operation and outcome
	remoteLatency  *prometheus.HistogramVec // engine call latency by operation
	breakerState   *prometheus.GaugeVec     // 0=closed 1=half-open 2=open
	reconciles     *prometheus.CounterVec   // reconciler operations by entity, op, outcome
	orphaned       *prometheus.CounterVec   // remote entities with no local row
	uploadedBytes  prometheus.Counter
}

// New creates and registers the collectors on a fresh registry, together with
// the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "requests_total",
			Help:      "Calls to the workflow engine by operation and outcome",
		}, []string{"operation", "outcome"}),

		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "request_duration_seconds",
			Help:      "Latency of workflow engine calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"breaker"}),

		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Reconciler operations by entity, operation and outcome",
		}, []string{"entity", "operation", "outcome"}),

		orphaned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_remote_total",
			Help:      "Remote entities created or deleted whose local commit failed",
		}, []string{"entity"}),

		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "input_files",
			Name:      "uploaded_bytes_total",
			Help:      "Bytes of input files written to the blob store",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.remoteRequests,
		m.remoteLatency,
		m.breakerState,
		m.reconciles,
		m.orphaned,
		m.uploadedBytes,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRemote records one engine call.
func (m *Metrics) ObserveRemote(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.remoteRequests.WithLabelValues(operation, outcome).Inc()
	m.remoteLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// SetBreakerState records the numeric state of a named circuit breaker.
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// Reconciled records the outcome of a reconciler operation.
func (m *Metrics) Reconciled(entity, operation, outcome string) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(entity, operation, outcome).Inc()
}

// Orphaned counts a remote entity left without its local counterpart.
func (m *Metrics) Orphaned(entity string) {
	if m == nil {
		return
	}
	m.orphaned.WithLabelValues(entity).Inc()
}

// Uploaded adds n bytes to the uploaded total.
func (m *Metrics) Uploaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadedBytes.Add(float64(n))
}
