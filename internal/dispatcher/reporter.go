package dispatcher

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/message-dispatch/internal/router"
)

// reporter logs router statistics on a fixed period. It only reads counters
// and never touches the queues.
type reporter struct {
	router   router.Router
	period   time.Duration
	logger   *zap.Logger
	observer StatsObserver

	// last processed count per worker, for throughput between reports
	last     []uint64
	lastTime time.Time

	quit chan struct{}
	wg   sync.WaitGroup
}

func newReporter(r router.Router, period time.Duration, logger *zap.Logger, observer StatsObserver) *reporter {
	return &reporter{
		router:   r,
		period:   period,
		logger:   logger.Named("stats"),
		observer: observer,
		quit:     make(chan struct{}),
	}
}

func (r *reporter) start() {
	r.lastTime = time.Now()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.period)
		defer ticker.Stop()
		for {
			select {
			case <-r.quit:
				return
			case now := <-ticker.C:
				r.report(now)
			}
		}
	}()
}

func (r *reporter) stop() {
	close(r.quit)
	r.wg.Wait()
}

func (r *reporter) report(now time.Time) {
	stats := r.router.Stats()
	if r.last == nil {
		r.last = make([]uint64, len(stats))
	}
	elapsed := now.Sub(r.lastTime).Seconds()
	r.lastTime = now

	var total uint64
	for i, s := range stats {
		processed := s.Completed + s.Failed
		delta := processed - r.last[i]
		r.last[i] = processed
		total += delta

		r.logger.Info("worker stats",
			zap.Int("worker_id", s.ID),
			zap.Int("depth", s.Depth),
			zap.Int64("load", s.Load),
			zap.Uint64("processed", delta),
			zap.Float64("per_second", perSecond(delta, elapsed)),
			zap.Uint64("failed", s.Failed),
			zap.Uint64("rejected", s.Rejected),
			zap.Int("waiting_normal", s.WaitingNormal),
			zap.Int("waiting_low", s.WaitingLow),
		)
	}

	r.logger.Info("dispatch stats",
		zap.Int64("aggregate_load", r.router.AggregateLoad()),
		zap.Int64("in_flight", r.router.InFlight()),
		zap.Uint64("processed", total),
		zap.Float64("per_second", perSecond(total, elapsed)),
	)

	if r.observer != nil {
		r.observer(stats)
	}
}

func perSecond(n uint64, seconds float64) float64 {
	if seconds <= 0 {
		return 0
	}
	return float64(n) / seconds
}

