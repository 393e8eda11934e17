package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ricirt/message-dispatch/internal/admission"
	"github.com/ricirt/message-dispatch/internal/domain"
	"github.com/ricirt/message-dispatch/internal/worker"
)

func thresholds(t *testing.T, total int64, workers int) *admission.Thresholds {
	t.Helper()
	th, err := admission.NewThresholds(total, workers)
	if err != nil {
		t.Fatal(err)
	}
	return th
}

func newWorker(t *testing.T, total int64, limit int, logger *zap.Logger, hooks worker.Hooks) *worker.Worker {
	t.Helper()
	return worker.New(0, thresholds(t, total, 1), 2, limit, logger, hooks)
}

// run starts w and returns a function that stops it and waits for Run to return.
func run(w *worker.Worker) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker_ExecutesInEnqueueOrder(t *testing.T) {
	w := newWorker(t, 100, 100, zap.NewNop(), worker.Hooks{})

	var mu sync.Mutex
	var order []int
	for i := 0; i < 50; i++ {
		i := i
		err := w.Enqueue(domain.NewWorkItem(domain.PriorityNormal, 7, func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	stop := run(w)
	defer stop()
	waitFor(t, func() bool { return w.Load() == 0 })

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("position %d: expected %d, got %d", i, i, v)
		}
	}
	if len(order) != 50 {
		t.Fatalf("expected 50 executions, got %d", len(order))
	}
}

// TestWorker_FaultIsolation verifies a failing or panicking item does not
// stop the next item in the same queue.
func TestWorker_FaultIsolation(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	w := newWorker(t, 100, 100, zap.New(core), worker.Hooks{})

	var ran atomic.Bool
	_ = w.Enqueue(domain.NewWorkItem(domain.PriorityNormal, 1, func(context.Context) error {
		return errors.New("boom")
	}))
	_ = w.Enqueue(domain.NewWorkItem(domain.PriorityNormal, 1, func(context.Context) error {
		panic("unexpected")
	}))
	_ = w.Enqueue(domain.NewWorkItem(domain.PriorityNormal, 1, func(context.Context) error {
		ran.Store(true)
		return nil
	}))

	stop := run(w)
	defer stop()
	waitFor(t, func() bool { return w.Load() == 0 })

	if !ran.Load() {
		t.Fatal("expected the item after the failures to run")
	}
	s := w.Stats()
	if s.Failed != 2 || s.Completed != 1 {
		t.Fatalf("expected failed=2 completed=1, got failed=%d completed=%d", s.Failed, s.Completed)
	}
	if n := logs.FilterMessage("work item failed").Len(); n != 2 {
		t.Fatalf("expected 2 failure log lines, got %d", n)
	}
	panicked := 0
	for _, e := range logs.FilterMessage("work item failed").All() {
		if err, ok := e.ContextMap()["error"].(string); ok && err == "work item action panicked: unexpected" {
			panicked++
		}
	}
	if panicked != 1 {
		t.Fatalf("expected one panic to be logged as ErrActionPanicked, got %d", panicked)
	}
}

func TestWorker_LoadAndHooks(t *testing.T) {
	var enqueued, completed atomic.Int64
	var lastErr atomic.Value
	w := newWorker(t, 100, 100, zap.NewNop(), worker.Hooks{
		OnEnqueued: func(id int, _ domain.WorkItem) { enqueued.Add(1) },
		OnCompleted: func(id int, _ domain.WorkItem, _ time.Duration, err error) {
			completed.Add(1)
			if err != nil {
				lastErr.Store(err)
			}
		},
	})

	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		_ = w.Enqueue(domain.NewWorkItem(domain.PriorityNormal, 0, func(context.Context) error {
			<-release
			return nil
		}))
	}
	if w.Load() != 3 || enqueued.Load() != 3 {
		t.Fatalf("expected load=3 enqueued=3, got load=%d enqueued=%d", w.Load(), enqueued.Load())
	}

	stop := run(w)
	defer stop()

	// One item executing, two resident.
	waitFor(t, func() bool { return w.Stats().Depth == 2 })
	if w.Load() != 3 {
		t.Fatalf("expected the executing item to count toward load, got %d", w.Load())
	}

	close(release)
	waitFor(t, func() bool { return completed.Load() == 3 })
	if w.Load() != 0 {
		t.Fatalf("expected load back at 0, got %d", w.Load())
	}
	if lastErr.Load() != nil {
		t.Fatalf("unexpected error: %v", lastErr.Load())
	}
}

func TestWorker_HardLimit(t *testing.T) {
	w := newWorker(t, 100, 2, zap.NewNop(), worker.Hooks{})
	item := domain.NewWorkItem(domain.PriorityCritical, 0, func(context.Context) error { return nil })

	for i := 0; i < 2; i++ {
		if err := w.Offer(context.Background(), item, -1); err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
	}
	if err := w.Offer(context.Background(), item, -1); !errors.Is(err, domain.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if w.Load() != 2 {
		t.Fatalf("expected a failed enqueue to leave load at 2, got %d", w.Load())
	}
	if s := w.Stats(); s.Rejected != 1 || s.Enqueued != 2 {
		t.Fatalf("expected enqueued=2 rejected=1, got %+v", s)
	}
}

// TestWorker_BlockedLowSubmitterWokenByCompletion covers the path where a
// low priority submitter parks above the low threshold and is admitted once
// the worker has worked its load back down.
func TestWorker_BlockedLowSubmitterWokenByCompletion(t *testing.T) {
	// MaxPerWorker=8, low threshold=4.
	w := newWorker(t, 8, 16, zap.NewNop(), worker.Hooks{})

	gate := make(chan struct{})
	for i := 0; i < 6; i++ {
		_ = w.Enqueue(domain.NewWorkItem(domain.PriorityNormal, 0, func(context.Context) error {
			<-gate
			return nil
		}))
	}

	low := domain.NewWorkItem(domain.PriorityLow, 0, func(context.Context) error { return nil })
	if err := w.Offer(context.Background(), low, -1); !errors.Is(err, domain.ErrAdmissionRejected) {
		t.Fatalf("expected non-blocking low submission to be rejected, got %v", err)
	}

	result := make(chan error, 1)
	go func() { result <- w.Offer(context.Background(), low, time.Minute) }()
	waitFor(t, func() bool { return w.Stats().WaitingLow == 1 })

	stop := run(w)
	defer stop()
	close(gate)

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("expected woken submitter to be admitted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked low submitter was never woken")
	}
	waitFor(t, func() bool { return w.Load() == 0 })
}

func TestPool_ShutdownDrains(t *testing.T) {
	th := thresholds(t, 40, 4)
	p := worker.NewPool(th, 4, 1, zap.NewNop(), worker.Hooks{})
	p.Start(context.Background())

	var ran atomic.Int64
	for i := 0; i < 20; i++ {
		w := p.Workers()[i%4]
		_ = w.Enqueue(domain.NewWorkItem(domain.PriorityNormal, i, func(context.Context) error {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			return nil
		}))
	}

	abandoned, err := p.Shutdown(context.Background())
	if err != nil || abandoned != 0 {
		t.Fatalf("expected clean drain, got abandoned=%d err=%v", abandoned, err)
	}
	if ran.Load() != 20 {
		t.Fatalf("expected all 20 items to run, got %d", ran.Load())
	}

	err = p.Workers()[0].Enqueue(domain.NewWorkItem(domain.PriorityCritical, 0, func(context.Context) error { return nil }))
	if !errors.Is(err, domain.ErrDispatcherStopped) {
		t.Fatalf("expected ErrDispatcherStopped after shutdown, got %v", err)
	}
}

func TestPool_ShutdownAbandonsAfterGrace(t *testing.T) {
	th := thresholds(t, 10, 1)
	p := worker.NewPool(th, 4, 1, zap.NewNop(), worker.Hooks{})
	p.Start(context.Background())

	started := make(chan struct{})
	w := p.Workers()[0]
	_ = w.Enqueue(domain.NewWorkItem(domain.PriorityNormal, 0, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	for i := 0; i < 3; i++ {
		_ = w.Enqueue(domain.NewWorkItem(domain.PriorityNormal, 0, func(context.Context) error { return nil }))
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	abandoned, err := p.Shutdown(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if abandoned != 3 {
		t.Fatalf("expected 3 abandoned items, got %d", abandoned)
	}
	if w.Load() != 0 {
		t.Fatalf("expected load 0 after abandonment, got %d", w.Load())
	}
}
