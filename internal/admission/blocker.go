package admission

import (
	"context"
	"sync"
	"time"
)

// WaitResult reports why Blocker.Wait returned.
type WaitResult int

const (
	Released WaitResult = iota
	TimedOut
	Interrupted
)

func (r WaitResult) String() string {
	switch r {
	case Released:
		return "released"
	case TimedOut:
		return "timed_out"
	case Interrupted:
		return "interrupted"
	}
	return "unknown"
}

// Blocker parks submitting goroutines until capacity frees up.
// Release wakes every goroutine parked at that moment; later waiters park on
// a fresh generation.
type Blocker struct {
	mu      sync.Mutex
	gen     chan struct{}
	waiters int
}

func NewBlocker() *Blocker {
	return &Blocker{gen: make(chan struct{})}
}

// Wait parks for at most timeout. A zero timeout returns TimedOut at once.
func (b *Blocker) Wait(ctx context.Context, timeout time.Duration) WaitResult {
	if timeout <= 0 {
		return TimedOut
	}

	b.mu.Lock()
	gen := b.gen
	b.waiters++
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res WaitResult
	select {
	case <-gen:
		return Released
	case <-timer.C:
		res = TimedOut
	case <-ctx.Done():
		res = Interrupted
	}

	b.mu.Lock()
	if b.gen == gen {
		b.waiters--
	}
	b.mu.Unlock()
	return res
}

// Release wakes all parked goroutines. It is a no-op when nobody waits.
func (b *Blocker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.waiters == 0 {
		return
	}
	close(b.gen)
	b.gen = make(chan struct{})
	b.waiters = 0
}

// Waiting returns the number of goroutines currently parked.
func (b *Blocker) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiters
}
