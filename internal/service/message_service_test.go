package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/message-dispatch/internal/admission"
	"github.com/ricirt/message-dispatch/internal/dispatcher"
	"github.com/ricirt/message-dispatch/internal/domain"
	"github.com/ricirt/message-dispatch/internal/provider"
	"github.com/ricirt/message-dispatch/internal/ratelimiter"
	"github.com/ricirt/message-dispatch/internal/repository"
	"github.com/ricirt/message-dispatch/internal/router"
	"github.com/ricirt/message-dispatch/internal/service"
)

// fakeProvider records every delivery and fails the first failN of them.
type fakeProvider struct {
	mu    sync.Mutex
	sent  []string
	failN int
}

func (p *fakeProvider) Send(_ context.Context, m *domain.Message) (*provider.SendResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failN > 0 {
		p.failN--
		return nil, errors.New("provider unavailable")
	}
	p.sent = append(p.sent, m.Content)
	return &provider.SendResponse{MessageID: "prov-" + m.ID, Status: "accepted"}, nil
}

func (p *fakeProvider) delivered() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

type fixture struct {
	svc  *service.MessageService
	repo *repository.MemoryMessageRepository
	prov *fakeProvider
	disp *dispatcher.Dispatcher
}

func newFixture(t *testing.T, maxAttempts int, backoff ...time.Duration) *fixture {
	t.Helper()
	th, err := admission.NewThresholds(400, 4)
	if err != nil {
		t.Fatal(err)
	}
	repo := repository.NewMemoryMessageRepository()
	prov := &fakeProvider{}
	r := router.NewAffinityRouter(th, router.Options{InitialCapacity: 4, BurstFactor: 2}, zap.NewNop(), router.MetricHooks{})
	disp := dispatcher.New(r, zap.NewNop(),
		dispatcher.WithRejectHandler(service.RejectionRecorder(repo, zap.NewNop())))
	if err := disp.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = disp.Stop(context.Background()) })

	svc := service.NewMessageService(repo, disp, prov, ratelimiter.New(1000), backoff, maxAttempts, zap.NewNop())
	return &fixture{svc: svc, repo: repo, prov: prov, disp: disp}
}

func waitForStatus(t *testing.T, repo repository.MessageRepository, id string, want domain.Status) *domain.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m, err := repo.GetByID(context.Background(), id)
		if err == nil && m.Status == want {
			return m
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("message %s never reached status %s", id, want)
	return nil
}

var validReq = domain.SubmitMessageRequest{
	SessionID: "session-1",
	Priority:  domain.PriorityNormal,
	Content:   "hello",
}

func TestMessageService_SubmitDelivers(t *testing.T) {
	f := newFixture(t, 3, time.Second)

	m, isDup, err := f.svc.Submit(context.Background(), validReq, "")
	if err != nil || isDup {
		t.Fatalf("unexpected result: err=%v isDup=%v", err, isDup)
	}
	if m.AffinityKey != service.AffinityKey(validReq.SessionID) {
		t.Fatalf("affinity key not derived from session id: %d", m.AffinityKey)
	}

	got := waitForStatus(t, f.repo, m.ID, domain.StatusDelivered)
	if got.ProviderMsgID == nil || *got.ProviderMsgID != "prov-"+m.ID {
		t.Fatalf("unexpected provider message id: %v", got.ProviderMsgID)
	}
}

func TestMessageService_InlineDeliversBeforeReturning(t *testing.T) {
	f := newFixture(t, 3, time.Second)

	req := validReq
	req.Inline = true
	m, _, err := f.svc.Submit(context.Background(), req, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Status != domain.StatusDelivered {
		t.Fatalf("expected inline message to be delivered on return, got %s", m.Status)
	}
}

func TestMessageService_SubmitInvalidRequest(t *testing.T) {
	f := newFixture(t, 3)

	tests := []struct {
		name string
		mod  func(r *domain.SubmitMessageRequest)
		want error
	}{
		{"missing session", func(r *domain.SubmitMessageRequest) { r.SessionID = "" }, domain.ErrInvalidSession},
		{"empty content", func(r *domain.SubmitMessageRequest) { r.Content = "" }, domain.ErrInvalidContent},
		{"zero priority", func(r *domain.SubmitMessageRequest) { r.Priority = 0 }, domain.ErrInvalidPriority},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validReq
			tt.mod(&req)
			if _, _, err := f.svc.Submit(context.Background(), req, ""); err != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMessageService_IdempotencyReturnsDuplicate(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	first, isDup, err := f.svc.Submit(ctx, validReq, "idem-1")
	if err != nil || isDup {
		t.Fatalf("first call: err=%v isDup=%v", err, isDup)
	}
	second, isDup, err := f.svc.Submit(ctx, validReq, "idem-1")
	if err != nil {
		t.Fatalf("second call: unexpected error: %v", err)
	}
	if !isDup || second.ID != first.ID {
		t.Fatalf("expected duplicate of %s, got %s (isDup=%v)", first.ID, second.ID, isDup)
	}
}

func TestMessageService_RejectedAfterStop(t *testing.T) {
	f := newFixture(t, 3)
	if err := f.disp.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	m, _, err := f.svc.Submit(context.Background(), validReq, "")
	if !errors.Is(err, domain.ErrOverloaded) {
		t.Fatalf("expected ErrOverloaded, got %v", err)
	}
	if m.Status != domain.StatusRejected {
		t.Fatalf("expected status=rejected, got %s", m.Status)
	}
	if m.ErrorMessage == nil || *m.ErrorMessage != domain.ErrDispatcherStopped.Error() {
		t.Fatalf("expected rejection reason to be recorded, got %v", m.ErrorMessage)
	}
}

func TestMessageService_FailureSchedulesRetry(t *testing.T) {
	f := newFixture(t, 3, time.Minute)
	f.prov.failN = 1

	req := validReq
	req.Inline = true
	m, _, err := f.svc.Submit(context.Background(), req, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Status != domain.StatusFailed || m.Attempts != 1 {
		t.Fatalf("expected failed with 1 attempt, got %s/%d", m.Status, m.Attempts)
	}
	if m.NextRetryAt == nil || time.Until(*m.NextRetryAt) < 30*time.Second {
		t.Fatalf("expected retry about a minute out, got %v", m.NextRetryAt)
	}
}

func TestMessageService_FailureWithoutAttemptsLeftIsPermanent(t *testing.T) {
	f := newFixture(t, 1, time.Minute)
	f.prov.failN = 1

	req := validReq
	req.Inline = true
	m, _, _ := f.svc.Submit(context.Background(), req, "")
	if m.Status != domain.StatusFailed || m.NextRetryAt != nil {
		t.Fatalf("expected permanent failure, got status=%s next=%v", m.Status, m.NextRetryAt)
	}

	due, _ := f.repo.FindDueRetries(context.Background(), 10)
	if len(due) != 0 {
		t.Fatalf("expected no due retries, got %d", len(due))
	}
}

func TestMessageService_SessionOrderPreserved(t *testing.T) {
	f := newFixture(t, 3, time.Second)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 30; i++ {
		req := validReq
		req.Content = fmt.Sprintf("msg-%02d", i)
		m, _, err := f.svc.Submit(ctx, req, "")
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, m.ID)
	}
	waitForStatus(t, f.repo, ids[len(ids)-1], domain.StatusDelivered)

	got := f.prov.delivered()
	if len(got) != 30 {
		t.Fatalf("expected 30 deliveries, got %d", len(got))
	}
	for i, content := range got {
		if want := fmt.Sprintf("msg-%02d", i); content != want {
			t.Fatalf("delivery %d: expected %s, got %s", i, want, content)
		}
	}
}

func TestAffinityKey(t *testing.T) {
	for _, session := range []string{"", "a", "session-1", "a much longer session identifier"} {
		k := service.AffinityKey(session)
		if k < 0 {
			t.Fatalf("AffinityKey(%q) = %d, want non-negative", session, k)
		}
		if k != service.AffinityKey(session) {
			t.Fatalf("AffinityKey(%q) is not stable", session)
		}
	}
}

func TestMessageService_RepositoryErrors(t *testing.T) {
	dbDown := errors.New("db down")

	f := newFixture(t, 3)
	f.repo.GetByIdempotencyKeyErr = dbDown
	if _, _, err := f.svc.Submit(context.Background(), validReq, "idem"); !errors.Is(err, dbDown) {
		t.Fatalf("expected wrapped lookup error, got %v", err)
	}

	f = newFixture(t, 3)
	f.repo.CreateErr = dbDown
	if _, _, err := f.svc.Submit(context.Background(), validReq, ""); !errors.Is(err, dbDown) {
		t.Fatalf("expected wrapped persist error, got %v", err)
	}
	if got := f.prov.delivered(); len(got) != 0 {
		t.Fatalf("expected nothing delivered, got %v", got)
	}
}
