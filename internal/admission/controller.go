package admission

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/message-dispatch/internal/domain"
	"github.com/ricirt/message-dispatch/internal/queue"
)

// NonBlocking as a timeout asks CanAdmit to reject instead of waiting.
const NonBlocking time.Duration = -1

// Controller decides whether an item may enter one worker's queue.
//
// Per submission the decision is one of: admitted at once, parked on the
// tier's blocker and then admitted, or rejected. A goroutine that returns from
// its wait is admitted without looking at the load again, whether it was
// released, timed out or had its context cancelled. That leniency can let a
// burst overshoot the thresholds; the queue's hard limit still applies.
type Controller struct {
	t      *Thresholds
	load   *queue.LoadCounter
	normal *Blocker
	low    *Blocker
	logger *zap.Logger
}

func NewController(t *Thresholds, load *queue.LoadCounter, logger *zap.Logger) *Controller {
	return &Controller{
		t:      t,
		load:   load,
		normal: NewBlocker(),
		low:    NewBlocker(),
		logger: logger,
	}
}

// CanAdmit applies the priority thresholds to item. A negative timeout never
// blocks; any other timeout bounds the wait on the tier's blocker.
func (c *Controller) CanAdmit(ctx context.Context, item domain.WorkItem, timeout time.Duration) bool {
	load := c.load.Get()
	p := item.Priority()

	switch {
	case load > c.t.CriticalOnlyThreshold && p <= domain.PriorityNormal:
		return c.park(ctx, c.normal, p, load, timeout)
	case load > c.t.LowPriorityRejectThreshold && p <= domain.PriorityLow:
		return c.park(ctx, c.low, p, load, timeout)
	}
	return true
}

func (c *Controller) park(ctx context.Context, b *Blocker, p domain.Priority, load int64, timeout time.Duration) bool {
	if timeout < 0 {
		return false
	}

	res := b.Wait(ctx, timeout)
	if res == Interrupted {
		c.logger.Debug("admission wait interrupted, admitting",
			zap.Stringer("priority", p),
			zap.Int64("load", load),
			zap.Error(ctx.Err()),
		)
	}
	return true
}

// Release wakes parked submitters whose tier fits under the given load.
func (c *Controller) Release(load int64) {
	if load <= c.t.CriticalOnlyThreshold {
		c.normal.Release()
	}
	if load <= c.t.LowPriorityRejectThreshold {
		c.low.Release()
	}
}

// ReleaseAll wakes every parked submitter regardless of load.
func (c *Controller) ReleaseAll() {
	c.normal.Release()
	c.low.Release()
}

// Waiting returns the number of submitters parked on the normal and low tiers.
func (c *Controller) Waiting() (normal, low int) {
	return c.normal.Waiting(), c.low.Waiting()
}
