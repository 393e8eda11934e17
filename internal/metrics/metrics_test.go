package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ricirt/message-dispatch/internal/domain"
	"github.com/ricirt/message-dispatch/internal/metrics"
	"github.com/ricirt/message-dispatch/internal/worker"
)

func TestRouterHooks(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	hooks := m.RouterHooks()

	hooks.OnEnqueued(domain.PriorityNormal, 1)
	hooks.OnEnqueued(domain.PriorityNormal, 2)
	hooks.OnCompleted(domain.PriorityNormal, 10*time.Millisecond, nil, 1)
	hooks.OnCompleted(domain.PriorityNormal, 10*time.Millisecond, errors.New("x"), 0)
	hooks.OnRejected(domain.PriorityLow, domain.ErrAdmissionRejected)

	if got := testutil.ToFloat64(m.WorkEnqueued.WithLabelValues("normal")); got != 2 {
		t.Fatalf("expected 2 enqueued, got %v", got)
	}
	if got := testutil.ToFloat64(m.WorkCompleted.WithLabelValues("normal", "ok")); got != 1 {
		t.Fatalf("expected 1 ok completion, got %v", got)
	}
	if got := testutil.ToFloat64(m.WorkCompleted.WithLabelValues("normal", "error")); got != 1 {
		t.Fatalf("expected 1 failed completion, got %v", got)
	}
	if got := testutil.ToFloat64(m.WorkRejected.WithLabelValues("low", "threshold")); got != 1 {
		t.Fatalf("expected 1 threshold rejection, got %v", got)
	}
	if got := testutil.ToFloat64(m.InFlight); got != 0 {
		t.Fatalf("expected in-flight 0, got %v", got)
	}
}

func TestObserveStats(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.ObserveStats([]worker.Stats{
		{ID: 0, Depth: 3, Load: 4},
		{ID: 1, Depth: 0, Load: 0},
	})

	if got := testutil.ToFloat64(m.WorkerQueueDepth.WithLabelValues("0")); got != 3 {
		t.Fatalf("expected depth 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.WorkerLoad.WithLabelValues("0")); got != 4 {
		t.Fatalf("expected load 4, got %v", got)
	}
}

func TestRejectReason(t *testing.T) {
	tests := map[error]string{
		domain.ErrQueueFull:          "queue_full",
		domain.ErrAdmissionRejected:  "threshold",
		domain.ErrInvalidAffinityKey: "invalid_key",
		domain.ErrDispatcherStopped:  "stopped",
		errors.New("other"):          "other",
	}
	for err, want := range tests {
		if got := metrics.RejectReason(err); got != want {
			t.Fatalf("%v: expected %q, got %q", err, want, got)
		}
	}
}
