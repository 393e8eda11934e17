package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ricirt/message-dispatch/internal/admission"
)

// Pool manages the lifecycle of a fixed set of workers.
// The set is sized once from the thresholds and never changes.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// NewPool creates t.WorkerCount workers, each with a queue starting at
// initialCapacity slots and capped at t.HardLimit(burstFactor) items.
func NewPool(t *admission.Thresholds, initialCapacity, burstFactor int, logger *zap.Logger, hooks Hooks) *Pool {
	limit := t.HardLimit(burstFactor)
	workers := make([]*Worker, t.WorkerCount)

	for i := range workers {
		workers[i] = New(i, t, initialCapacity, limit,
			logger.With(zap.Int("worker_id", i)),
			hooks,
		)
	}

	return &Pool{workers: workers, cancel: func() {}, logger: logger}
}

// Workers returns the fixed worker set. The slice must not be modified.
func (p *Pool) Workers() []*Worker {
	return p.workers
}

// Start launches every worker on its own goroutine.
// Cancelling ctx stops the workers after their current item.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown closes every queue and lets the workers drain what is already
// queued. If ctx ends first the workers are cancelled after their current
// item and the remaining items are discarded; the discarded count is returned
// together with ctx's error.
func (p *Pool) Shutdown(ctx context.Context) (int, error) {
	for _, w := range p.workers {
		w.close()
	}

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
		p.cancel()
		<-drained
	}

	// Queues of a pool that never started still hold their items here.
	abandoned := 0
	for _, w := range p.workers {
		if n := w.abandon(); n > 0 {
			p.logger.Warn("abandoned queued work items",
				zap.Int("worker_id", w.id), zap.Int("count", n))
			abandoned += n
		}
	}
	return abandoned, err
}
