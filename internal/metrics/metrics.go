// Package metrics defines the Prometheus collectors a worker reports.
//
// All recording methods are safe on a nil *Worker, so callers that run
// without metrics pass nil instead of a no-op implementation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "cpool"
	workerSubsystem  = "worker"
)

// Outcome label values for CallsTotal.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Worker holds the collectors for one compiler worker.
type Worker struct {
	// SyncsTotal counts applied sync messages.
	// Labels: kind (none, full, diff)
	SyncsTotal *prometheus.CounterVec

	// SyncFailuresTotal counts rejected sync messages by the underlying cause.
	// Labels: code (PROTOCOL_ERROR, UNKNOWN_CLIENT, UNKNOWN_DATABASE)
	SyncFailuresTotal *prometheus.CounterVec

	// EvictionsTotal counts cache entries removed by invalidation lists.
	EvictionsTotal prometheus.Counter

	// CallsTotal counts handled calls.
	// Labels: op, outcome (ok, error)
	CallsTotal *prometheus.CounterVec

	// ContinuationReuseTotal counts calls that resolved the continuation marker.
	ContinuationReuseTotal prometheus.Counter

	// CachedClients is the number of clients currently mirrored.
	CachedClients prometheus.Gauge
}

// New creates the worker collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Worker {
	f := promauto.With(reg)
	return &Worker{
		SyncsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: workerSubsystem,
				Name:      "syncs_total",
				Help:      "Total sync messages applied by kind",
			},
			[]string{"kind"},
		),
		SyncFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: workerSubsystem,
				Name:      "sync_failures_total",
				Help:      "Total rejected sync messages by cause",
			},
			[]string{"code"},
		),
		EvictionsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: workerSubsystem,
				Name:      "evictions_total",
				Help:      "Total client cache entries evicted by invalidation",
			},
		),
		CallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: workerSubsystem,
				Name:      "calls_total",
				Help:      "Total calls handled by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		ContinuationReuseTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: workerSubsystem,
				Name:      "continuation_reuse_total",
				Help:      "Total calls that reused the last transaction state",
			},
		),
		CachedClients: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: workerSubsystem,
				Name:      "cached_clients",
				Help:      "Number of clients with a cached schema",
			},
		),
	}
}

// RecordSync counts one applied sync of the given kind.
func (m *Worker) RecordSync(kind string) {
	if m == nil {
		return
	}
	m.SyncsTotal.WithLabelValues(kind).Inc()
}

// RecordSyncFailure counts one rejected sync.
func (m *Worker) RecordSyncFailure(code string) {
	if m == nil {
		return
	}
	m.SyncFailuresTotal.WithLabelValues(code).Inc()
}

// RecordEvictions counts n evicted clients.
func (m *Worker) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EvictionsTotal.Add(float64(n))
}

// RecordCall counts one handled call.
func (m *Worker) RecordCall(op string, ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeError
	}
	m.CallsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordContinuationReuse counts one marker resolution.
func (m *Worker) RecordContinuationReuse() {
	if m == nil {
		return
	}
	m.ContinuationReuseTotal.Inc()
}

// SetCachedClients reports the current cache size.
func (m *Worker) SetCachedClients(n int) {
	if m == nil {
		return
	}
	m.CachedClients.Set(float64(n))
}
