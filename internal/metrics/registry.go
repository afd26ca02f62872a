// Package metrics wires the single process-wide Prometheus registry named
// in spec.md §6: a request-duration histogram with the exact bucket
// boundaries given, plus the counters/gauges the healing, replication and
// MRF subsystems update as they run.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the collectors every core subsystem updates. It is built
// once at process start (spec.md §9 "Global state") and passed down; nothing
// here uses promauto's global default registry so tests can build isolated
// instances.
type Registry struct {
	Registerer *prometheus.Registry

	RequestDuration   *prometheus.HistogramVec
	HealItemsTotal    prometheus.Counter
	HealBytesTotal    prometheus.Counter
	ReplicationPend   prometheus.Gauge
	ReplicationFailed prometheus.Counter
	MRFQueueDepth     prometheus.Gauge
	DsyncLockAcquire  *prometheus.CounterVec
}

// New builds and registers every collector. The histogram buckets are
// exactly the ones spec.md §6 specifies for request-duration.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		Registerer: reg,
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maxio_http_request_duration_seconds",
			Help:    "Duration of S3 requests handled by the external HTTP surface, as reported into the core.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"api"}),
		HealItemsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maxio_heal_items_total",
			Help: "Objects that completed a heal pass, successfully or not.",
		}),
		HealBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maxio_heal_bytes_total",
			Help: "Bytes rewritten by the healing engine.",
		}),
		ReplicationPend: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maxio_replication_pending",
			Help: "Objects with at least one target still Pending.",
		}),
		ReplicationFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maxio_replication_failed_total",
			Help: "Replication target PUTs that failed and were handed to MRF.",
		}),
		MRFQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maxio_mrf_queue_depth",
			Help: "Current depth of the most-recently-failed retry queue.",
		}),
		DsyncLockAcquire: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maxio_dsync_lock_acquire_total",
			Help: "Dsync lock acquisition attempts by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		r.RequestDuration,
		r.HealItemsTotal,
		r.HealBytesTotal,
		r.ReplicationPend,
		r.ReplicationFailed,
		r.MRFQueueDepth,
		r.DsyncLockAcquire,
	)
	return r
}
