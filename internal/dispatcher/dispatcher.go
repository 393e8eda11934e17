package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ricirt/message-dispatch/internal/admission"
	"github.com/ricirt/message-dispatch/internal/domain"
	"github.com/ricirt/message-dispatch/internal/router"
	"github.com/ricirt/message-dispatch/internal/worker"
)

// RejectFunc is told about declined items that need a definite outcome.
type RejectFunc func(ctx context.Context, item domain.WorkItem, reason error)

// StatsObserver receives every periodic statistics report.
type StatsObserver func(stats []worker.Stats)

const (
	defaultBlockingTimeout     = 2 * time.Second
	defaultOverloadLogInterval = 10 * time.Second
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRejectHandler installs the callback used for declined items whose
// OutcomeRequired reports true.
func WithRejectHandler(fn RejectFunc) Option {
	return func(d *Dispatcher) { d.reject = fn }
}

// WithReporting logs router statistics every period. A non-positive period
// disables reporting.
func WithReporting(period time.Duration) Option {
	return func(d *Dispatcher) { d.reportPeriod = period }
}

// WithBlockingTimeout sets the wait used by SubmitWait when called with a
// zero timeout.
func WithBlockingTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.blockingTimeout = timeout }
}

// WithOverloadLogInterval bounds overload error lines to one per interval.
func WithOverloadLogInterval(interval time.Duration) Option {
	return func(d *Dispatcher) { d.overloadLog = rate.Sometimes{Interval: interval} }
}

// WithStatsObserver forwards each periodic report to fn.
func WithStatsObserver(fn StatsObserver) Option {
	return func(d *Dispatcher) { d.observer = fn }
}

// Dispatcher is the single entry point producers submit work through.
// It is constructed once by the composing application and shared.
type Dispatcher struct {
	router          router.Router
	logger          *zap.Logger
	reject          RejectFunc
	observer        StatsObserver
	blockingTimeout time.Duration
	reportPeriod    time.Duration
	overloadLog     rate.Sometimes

	mu       sync.Mutex
	started  bool
	stopped  bool
	reporter *reporter
}

// New wraps r. Nothing executes until Start is called.
func New(r router.Router, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		router:          r,
		logger:          logger,
		blockingTimeout: defaultBlockingTimeout,
		overloadLog:     rate.Sometimes{Interval: defaultOverloadLogInterval},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the workers and, when enabled, the statistics reporter.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return domain.ErrDispatcherStopped
	}
	if d.started {
		return domain.ErrDispatcherStarted
	}
	d.started = true

	d.router.Start(ctx)
	if d.reportPeriod > 0 {
		d.reporter = newReporter(d.router, d.reportPeriod, d.logger, d.observer)
		d.reporter.start()
	}
	d.logger.Info("dispatcher started",
		zap.Bool("reporting", d.reportPeriod > 0),
		zap.Duration("report_period", d.reportPeriod),
	)
	return nil
}

// Submit dispatches item without blocking. It reports whether the item was
// accepted, either queued or run inline.
func (d *Dispatcher) Submit(ctx context.Context, item domain.WorkItem) bool {
	return d.submit(ctx, item, admission.NonBlocking)
}

// SubmitWait dispatches item, parking up to timeout when the target worker
// is above the item's priority threshold. A zero timeout uses the configured
// default; a negative one does not block.
func (d *Dispatcher) SubmitWait(ctx context.Context, item domain.WorkItem, timeout time.Duration) bool {
	if timeout == 0 {
		timeout = d.blockingTimeout
	}
	return d.submit(ctx, item, timeout)
}

func (d *Dispatcher) submit(ctx context.Context, item domain.WorkItem, timeout time.Duration) bool {
	if in, ok := item.(domain.InlineItem); ok && in.Inline() {
		d.runInline(ctx, item)
		return true
	}

	err := d.router.Dispatch(ctx, item, timeout)
	if err == nil {
		return true
	}

	switch {
	case errors.Is(err, domain.ErrInvalidAffinityKey):
		// already logged by the router
	case errors.Is(err, domain.ErrDispatcherStopped):
		d.logger.Warn("work item submitted after dispatcher stop",
			zap.Stringer("priority", item.Priority()))
	default:
		d.overloadLog.Do(func() {
			d.logger.Error("dispatcher overloaded, rejecting work",
				zap.Stringer("priority", item.Priority()),
				zap.Int("affinity_key", item.AffinityKey()),
				zap.Int64("aggregate_load", d.router.AggregateLoad()),
				zap.Error(err),
			)
		})
	}

	if oi, ok := item.(domain.OutcomeItem); ok && oi.OutcomeRequired() && d.reject != nil {
		d.reject(ctx, item, err)
	}
	return false
}

func (d *Dispatcher) runInline(ctx context.Context, item domain.WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("inline work item panicked",
				zap.Stringer("priority", item.Priority()), zap.Any("panic", r))
		}
	}()
	if err := item.Execute(ctx); err != nil {
		d.logger.Error("inline work item failed",
			zap.Stringer("priority", item.Priority()), zap.Error(err))
	}
}

// Stop cancels the reporter and drains the workers. Items still queued when
// ctx ends are abandoned and ctx's error is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	rep := d.reporter
	d.mu.Unlock()

	if rep != nil {
		rep.stop()
	}
	err := d.router.Stop(ctx)
	d.logger.Info("dispatcher stopped", zap.Error(err))
	return err
}

func (d *Dispatcher) AggregateLoad() int64 { return d.router.AggregateLoad() }

func (d *Dispatcher) InFlight() int64 { return d.router.InFlight() }

func (d *Dispatcher) Stats() []worker.Stats { return d.router.Stats() }
