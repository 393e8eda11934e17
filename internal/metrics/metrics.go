package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ricirt/message-dispatch/internal/domain"
	"github.com/ricirt/message-dispatch/internal/router"
	"github.com/ricirt/message-dispatch/internal/worker"
)

// Metrics groups all Prometheus instruments used across the application.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	WorkEnqueued     *prometheus.CounterVec
	WorkCompleted    *prometheus.CounterVec
	WorkRejected     *prometheus.CounterVec
	WorkLatency      *prometheus.HistogramVec
	InFlight         prometheus.Gauge
	WorkerQueueDepth *prometheus.GaugeVec
	WorkerLoad       *prometheus.GaugeVec
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_enqueued_total",
			Help: "Work items admitted to a worker queue.",
		}, []string{"priority"}),

		WorkCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_completed_total",
			Help: "Work items executed by a worker, by outcome.",
		}, []string{"priority", "outcome"}),

		WorkRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_rejected_total",
			Help: "Work items declined before enqueue, by reason.",
		}, []string{"priority", "reason"}),

		WorkLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_execution_seconds",
			Help:    "Time spent executing a work item on its worker.",
			Buckets: prometheus.DefBuckets,
		}, []string{"priority"}),

		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_in_flight",
			Help: "Work items queued or executing across all workers.",
		}),

		WorkerQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_worker_queue_depth",
			Help: "Items resident in each worker queue at the last report.",
		}, []string{"worker"}),

		WorkerLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatch_worker_load",
			Help: "Per-worker load (queued plus executing) at the last report.",
		}, []string{"worker"}),
	}

	reg.MustRegister(
		m.WorkEnqueued,
		m.WorkCompleted,
		m.WorkRejected,
		m.WorkLatency,
		m.InFlight,
		m.WorkerQueueDepth,
		m.WorkerLoad,
	)

	return m
}

// RouterHooks returns the callbacks expected by router.MetricHooks.
// Centralises the prometheus observation calls so the router stays import-free.
func (m *Metrics) RouterHooks() router.MetricHooks {
	return router.MetricHooks{
		OnEnqueued: func(p domain.Priority, inFlight int64) {
			m.WorkEnqueued.WithLabelValues(p.String()).Inc()
			m.InFlight.Set(float64(inFlight))
		},
		OnCompleted: func(p domain.Priority, latency time.Duration, err error, inFlight int64) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			m.WorkCompleted.WithLabelValues(p.String(), outcome).Inc()
			m.WorkLatency.WithLabelValues(p.String()).Observe(latency.Seconds())
			m.InFlight.Set(float64(inFlight))
		},
		OnRejected: func(p domain.Priority, reason error) {
			m.WorkRejected.WithLabelValues(p.String(), RejectReason(reason)).Inc()
		},
	}
}

// ObserveStats publishes a periodic per-worker report.
func (m *Metrics) ObserveStats(stats []worker.Stats) {
	for _, s := range stats {
		id := strconv.Itoa(s.ID)
		m.WorkerQueueDepth.WithLabelValues(id).Set(float64(s.Depth))
		m.WorkerLoad.WithLabelValues(id).Set(float64(s.Load))
	}
}

// RejectReason maps a dispatch error onto a bounded label value.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, domain.ErrAdmissionRejected):
		return "threshold"
	case errors.Is(err, domain.ErrInvalidAffinityKey):
		return "invalid_key"
	case errors.Is(err, domain.ErrDispatcherStopped):
		return "stopped"
	}
	return "other"
}
