package admission

import "fmt"

// Thresholds are the process-wide admission limits. They are derived once
// from configuration and shared read-only by every worker and the router.
type Thresholds struct {
	MaxTotalMessages int64
	WorkerCount      int
	MaxPerWorker     int64

	// Above this per-worker load only critical items are admitted.
	CriticalOnlyThreshold int64
	// Above this per-worker load low priority items wait or are rejected.
	LowPriorityRejectThreshold int64
}

// ThresholdOption adjusts derived thresholds before they are frozen.
type ThresholdOption func(*Thresholds)

// WithCriticalOnlyThreshold raises the critical-only threshold. Values below
// MaxTotalMessages are ignored.
func WithCriticalOnlyThreshold(n int64) ThresholdOption {
	return func(t *Thresholds) {
		if n >= t.MaxTotalMessages {
			t.CriticalOnlyThreshold = n
		}
	}
}

// NewThresholds derives the admission limits for workerCount workers sharing
// maxTotalMessages slots.
func NewThresholds(maxTotalMessages int64, workerCount int, opts ...ThresholdOption) (*Thresholds, error) {
	if workerCount <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workerCount)
	}
	if maxTotalMessages < int64(workerCount) {
		return nil, fmt.Errorf("max total messages (%d) must be at least the worker count (%d)",
			maxTotalMessages, workerCount)
	}

	perWorker := maxTotalMessages / int64(workerCount)
	t := &Thresholds{
		MaxTotalMessages:           maxTotalMessages,
		WorkerCount:                workerCount,
		MaxPerWorker:               perWorker,
		CriticalOnlyThreshold:      maxTotalMessages,
		LowPriorityRejectThreshold: perWorker / 2,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// HardLimit is the per-queue ceiling used for fail-fast enqueue.
func (t *Thresholds) HardLimit(burstFactor int) int {
	if burstFactor < 1 {
		burstFactor = 1
	}
	return int(t.MaxPerWorker) * burstFactor
}
