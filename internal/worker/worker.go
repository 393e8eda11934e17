package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/message-dispatch/internal/admission"
	"github.com/ricirt/message-dispatch/internal/domain"
	"github.com/ricirt/message-dispatch/internal/queue"
)

// Hooks are called by a worker on every successful enqueue and after every
// execution. They run on the enqueuing or executing goroutine, so they must
// not block.
type Hooks struct {
	OnEnqueued  func(workerID int, item domain.WorkItem)
	OnCompleted func(workerID int, item domain.WorkItem, latency time.Duration, err error)
}

type entry struct {
	item       domain.WorkItem
	enqueuedAt time.Time
}

// Worker owns one bounded queue and executes its items one at a time, in the
// order they were enqueued.
type Worker struct {
	id        int
	q         *queue.Bounded[entry]
	load      queue.LoadCounter
	admission *admission.Controller
	logger    *zap.Logger
	hooks     Hooks

	enqueued  atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// New constructs a worker whose queue starts at initialCapacity slots and
// never holds more than limit items. Nil hooks are no-ops.
func New(id int, t *admission.Thresholds, initialCapacity, limit int, logger *zap.Logger, hooks Hooks) *Worker {
	if hooks.OnEnqueued == nil {
		hooks.OnEnqueued = func(int, domain.WorkItem) {}
	}
	if hooks.OnCompleted == nil {
		hooks.OnCompleted = func(int, domain.WorkItem, time.Duration, error) {}
	}
	w := &Worker{
		id:     id,
		q:      queue.NewBounded[entry](initialCapacity, limit),
		logger: logger,
		hooks:  hooks,
	}
	w.admission = admission.NewController(t, &w.load, logger)
	return w
}

func (w *Worker) ID() int { return w.id }

// Load returns the items queued on this worker plus the one executing.
func (w *Worker) Load() int64 { return w.load.Get() }

// Offer runs admission control for item and, when admitted, enqueues it.
// A negative timeout never blocks the caller.
func (w *Worker) Offer(ctx context.Context, item domain.WorkItem, timeout time.Duration) error {
	if !w.admission.CanAdmit(ctx, item, timeout) {
		w.rejected.Add(1)
		return domain.ErrAdmissionRejected
	}
	return w.Enqueue(item)
}

// Enqueue inserts item without consulting the priority thresholds. Only the
// queue's hard limit applies.
func (w *Worker) Enqueue(item domain.WorkItem) error {
	w.load.Inc()
	if err := w.q.Offer(entry{item: item, enqueuedAt: time.Now()}); err != nil {
		w.admission.Release(w.load.Dec())
		w.rejected.Add(1)
		if errors.Is(err, queue.ErrClosed) {
			return domain.ErrDispatcherStopped
		}
		return domain.ErrQueueFull
	}
	w.enqueued.Add(1)
	w.hooks.OnEnqueued(w.id, item)
	return nil
}

// Run blocks until the queue is closed and drained or ctx is cancelled,
// executing one item per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug("worker started")
	for {
		e, ok := w.q.Take(ctx)
		if !ok {
			w.logger.Debug("worker stopping", zap.Int("pending", w.q.Len()))
			return
		}
		w.process(ctx, e)
	}
}

func (w *Worker) process(ctx context.Context, e entry) {
	start := time.Now()
	err := w.execute(ctx, e.item)
	elapsed := time.Since(start)

	if err != nil {
		w.failed.Add(1)
		w.logger.Error("work item failed",
			zap.Stringer("priority", e.item.Priority()),
			zap.Int("affinity_key", e.item.AffinityKey()),
			zap.Duration("queued_for", start.Sub(e.enqueuedAt)),
			zap.Duration("latency", elapsed),
			zap.Error(err),
		)
	} else {
		w.completed.Add(1)
	}

	load := w.load.Dec()
	w.hooks.OnCompleted(w.id, e.item, elapsed, err)
	w.admission.Release(load)
}

// execute shields the run loop from panicking actions.
func (w *Worker) execute(ctx context.Context, item domain.WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrActionPanicked, r)
		}
	}()
	return item.Execute(ctx)
}

// close stops accepting items and wakes parked submitters so they observe it.
func (w *Worker) close() {
	w.q.Close()
	w.admission.ReleaseAll()
}

// abandon discards everything still queued and returns the count.
func (w *Worker) abandon() int {
	n := w.q.Drop()
	if n > 0 {
		w.load.Sub(int64(n))
	}
	return n
}

// Stats is a point-in-time view of one worker's counters.
type Stats struct {
	ID            int    `json:"id"`
	Depth         int    `json:"depth"`
	Capacity      int    `json:"capacity"`
	Load          int64  `json:"load"`
	Enqueued      uint64 `json:"enqueued"`
	Completed     uint64 `json:"completed"`
	Failed        uint64 `json:"failed"`
	Rejected      uint64 `json:"rejected"`
	WaitingNormal int    `json:"waiting_normal"`
	WaitingLow    int    `json:"waiting_low"`
}

func (w *Worker) Stats() Stats {
	normal, low := w.admission.Waiting()
	return Stats{
		ID:            w.id,
		Depth:         w.q.Len(),
		Capacity:      w.q.Cap(),
		Load:          w.load.Get(),
		Enqueued:      w.enqueued.Load(),
		Completed:     w.completed.Load(),
		Failed:        w.failed.Load(),
		Rejected:      w.rejected.Load(),
		WaitingNormal: normal,
		WaitingLow:    low,
	}
}
