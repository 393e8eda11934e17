package router

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/message-dispatch/internal/admission"
	"github.com/ricirt/message-dispatch/internal/domain"
	"github.com/ricirt/message-dispatch/internal/worker"
)

// Router places work items on workers. The dispatcher talks to this
// interface so alternative placement strategies can be plugged in.
type Router interface {
	Start(ctx context.Context)
	// Dispatch admits item to a worker. A negative timeout never blocks.
	Dispatch(ctx context.Context, item domain.WorkItem, timeout time.Duration) error
	// AggregateLoad sums per-worker load without a global snapshot.
	AggregateLoad() int64
	InFlight() int64
	Stats() []worker.Stats
	Stop(ctx context.Context) error
}

// MetricHooks carries the metric callback functions injected by main.
// inFlight is the router-wide count after the event was applied.
type MetricHooks struct {
	OnEnqueued  func(p domain.Priority, inFlight int64)
	OnCompleted func(p domain.Priority, latency time.Duration, err error, inFlight int64)
	OnRejected  func(p domain.Priority, reason error)
}

// Options sizes the router's queues.
type Options struct {
	// InitialCapacity is the starting allocation of each worker queue.
	InitialCapacity int
	// BurstFactor multiplies MaxPerWorker to form each queue's hard limit.
	BurstFactor int
}

// AffinityRouter maps each item to worker affinityKey mod workerCount, so
// items sharing a key run in submission order on the same worker.
type AffinityRouter struct {
	pool     *worker.Pool
	workers  []*worker.Worker
	inFlight atomic.Int64
	logger   *zap.Logger
	hooks    MetricHooks
}

// NewAffinityRouter builds t.WorkerCount workers. They do not execute
// anything until Start is called.
func NewAffinityRouter(t *admission.Thresholds, opts Options, logger *zap.Logger, hooks MetricHooks) *AffinityRouter {
	if hooks.OnEnqueued == nil {
		hooks.OnEnqueued = func(domain.Priority, int64) {}
	}
	if hooks.OnCompleted == nil {
		hooks.OnCompleted = func(domain.Priority, time.Duration, error, int64) {}
	}
	if hooks.OnRejected == nil {
		hooks.OnRejected = func(domain.Priority, error) {}
	}

	r := &AffinityRouter{logger: logger, hooks: hooks}
	r.pool = worker.NewPool(t, opts.InitialCapacity, opts.BurstFactor, logger, worker.Hooks{
		OnEnqueued: func(_ int, item domain.WorkItem) {
			r.hooks.OnEnqueued(item.Priority(), r.inFlight.Add(1))
		},
		OnCompleted: func(_ int, item domain.WorkItem, latency time.Duration, err error) {
			r.hooks.OnCompleted(item.Priority(), latency, err, r.inFlight.Add(-1))
		},
	})
	r.workers = r.pool.Workers()
	return r
}

func (r *AffinityRouter) Start(ctx context.Context) {
	r.pool.Start(ctx)
	r.logger.Info("dispatch workers started", zap.Int("workers", len(r.workers)))
}

func (r *AffinityRouter) Dispatch(ctx context.Context, item domain.WorkItem, timeout time.Duration) error {
	key := item.AffinityKey()
	if key < 0 {
		r.logger.Error("rejecting work item with negative affinity key",
			zap.Int("affinity_key", key),
			zap.Stringer("priority", item.Priority()),
		)
		r.hooks.OnRejected(item.Priority(), domain.ErrInvalidAffinityKey)
		return domain.ErrInvalidAffinityKey
	}

	w := r.workers[key%len(r.workers)]
	if err := w.Offer(ctx, item, timeout); err != nil {
		r.hooks.OnRejected(item.Priority(), err)
		return err
	}
	return nil
}

func (r *AffinityRouter) AggregateLoad() int64 {
	var total int64
	for _, w := range r.workers {
		total += w.Load()
	}
	return total
}

func (r *AffinityRouter) InFlight() int64 {
	return r.inFlight.Load()
}

func (r *AffinityRouter) Stats() []worker.Stats {
	stats := make([]worker.Stats, len(r.workers))
	for i, w := range r.workers {
		stats[i] = w.Stats()
	}
	return stats
}

// Stop drains the workers until ctx ends, then abandons what is left.
func (r *AffinityRouter) Stop(ctx context.Context) error {
	abandoned, err := r.pool.Shutdown(ctx)
	if abandoned > 0 {
		r.inFlight.Add(-int64(abandoned))
		r.logger.Warn("dispatch workers stopped before draining", zap.Int("abandoned", abandoned))
		return err
	}
	r.logger.Info("dispatch workers drained")
	return err
}

// compile-time check that AffinityRouter implements Router
var _ Router = (*AffinityRouter)(nil)
