package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/ricirt/message-dispatch/internal/domain"
)

// PriorityLimiters holds one token bucket limiter per priority tier.
// Each limiter enforces a steady-state rate (e.g. 100 tokens/sec) on outbound
// deliveries. Critical traffic gets twice the configured rate so it is not
// starved behind a saturated normal tier.
type PriorityLimiters struct {
	limiters map[domain.Priority]*rate.Limiter
}

// New creates a PriorityLimiters with ratePerSec tokens per second per tier.
func New(ratePerSec int) *PriorityLimiters {
	r := rate.Limit(ratePerSec)
	burst := ratePerSec // burst == rate: prevents any "saved up" burst above the limit

	return &PriorityLimiters{
		limiters: map[domain.Priority]*rate.Limiter{
			domain.PriorityLow:      rate.NewLimiter(r, burst),
			domain.PriorityNormal:   rate.NewLimiter(r, burst),
			domain.PriorityCritical: rate.NewLimiter(2*r, 2*burst),
		},
	}
}

// Wait blocks until the tier's limiter grants a token.
// Called by the delivery action immediately before sending to the provider.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (pl *PriorityLimiters) Wait(ctx context.Context, p domain.Priority) error {
	l, ok := pl.limiters[p]
	if !ok {
		return domain.ErrInvalidPriority
	}
	return l.Wait(ctx)
}
