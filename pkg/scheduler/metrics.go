package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the hand-registered prometheus collectors for observing
// this dispatcher: per-CPU watermark and queue depth, migration/IPI/
// preemption counts, and dispatch latency.
type Metrics struct {
	registry *prometheus.Registry

	watermarkLevel *prometheus.GaugeVec
	nrRunning      *prometheus.GaugeVec
	dispatchTotal  *prometheus.CounterVec
	migrations     prometheus.Counter
	ipiSent        prometheus.Counter
	ipiElided      prometheus.Counter
	preemptions    prometheus.Counter
	dispatchLatency prometheus.Histogram
}

// NewMetrics builds and registers a fresh Metrics set against its own
// private registry, so multiple Schedulers (as in tests) never collide
// on prometheus's default global registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		watermarkLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bmqsched",
			Name:      "rq_watermark_level",
			Help:      "Current cached priority level of the first non-empty queue level per CPU.",
		}, []string{"cpu"}),
		nrRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "bmqsched",
			Name:      "rq_nr_running",
			Help:      "Number of runnable tasks queued per CPU.",
		}, []string{"cpu"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bmqsched",
			Name:      "dispatch_total",
			Help:      "Total dispatch decisions per CPU.",
		}, []string{"cpu"}),
		migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmqsched",
			Name:      "migrations_total",
			Help:      "Total tasks pulled across CPUs by the balancer.",
		}),
		ipiSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmqsched",
			Name:      "ipi_sent_total",
			Help:      "Total resched IPIs sent to remote CPUs.",
		}),
		ipiElided: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmqsched",
			Name:      "ipi_elided_total",
			Help:      "Total resched IPIs elided because the target's current task was polling for reschedule.",
		}),
		preemptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bmqsched",
			Name:      "preemptions_total",
			Help:      "Total times a running task was marked for preemption.",
		}),
		dispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "bmqsched",
			Name:      "dispatch_latency_seconds",
			Help:      "Wall-clock time spent inside the dispatch critical section.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 10),
		}),
	}
	reg.MustRegister(m.watermarkLevel, m.nrRunning, m.dispatchTotal, m.migrations, m.ipiSent, m.ipiElided, m.preemptions, m.dispatchLatency)
	return m
}

// Registry exposes the private prometheus registry for an HTTP handler
// (cmd/bmqctl wires this to promhttp.HandlerFor).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
