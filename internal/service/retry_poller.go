package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/message-dispatch/internal/repository"
)

const retryBatchSize = 100

// RetryPoller polls the repository for failed messages whose next_retry_at
// is in the past and hands them back to the dispatcher at LOW priority.
//
// Retry times are persisted, so with a database behind the repository
// scheduled retries survive server restarts.
type RetryPoller struct {
	repo     repository.MessageRepository
	svc      *MessageService
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRetryPoller builds a poller ticking every interval. Each resubmission
// may park up to timeout when the target worker is busy.
func NewRetryPoller(
	repo repository.MessageRepository,
	svc *MessageService,
	interval, timeout time.Duration,
	logger *zap.Logger,
) *RetryPoller {
	return &RetryPoller{repo: repo, svc: svc, interval: interval, timeout: timeout, logger: logger}
}

// Run ticks every interval and resubmits any due retries.
// Stops cleanly when ctx is cancelled.
func (rp *RetryPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	rp.logger.Info("retry poller started", zap.Duration("interval", rp.interval))

	for {
		select {
		case <-ctx.Done():
			rp.logger.Info("retry poller stopping")
			return
		case <-ticker.C:
			rp.Poll(ctx)
		}
	}
}

// Poll resubmits one batch of due retries and returns how many the
// dispatcher accepted.
func (rp *RetryPoller) Poll(ctx context.Context) int {
	messages, err := rp.repo.FindDueRetries(ctx, retryBatchSize)
	if err != nil {
		rp.logger.Error("retry poll error", zap.Error(err))
		return 0
	}

	accepted := 0
	for _, m := range messages {
		if ctx.Err() != nil {
			break
		}
		if !rp.svc.Resubmit(ctx, m, rp.timeout) {
			rp.logger.Warn("could not resubmit retry", zap.String("id", m.ID))
			continue
		}
		accepted++
	}

	if len(messages) > 0 {
		rp.logger.Info("resubmitted due retries",
			zap.Int("due", len(messages)),
			zap.Int("accepted", accepted),
		)
	}
	return accepted
}
