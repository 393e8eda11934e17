package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ricirt/message-dispatch/internal/dispatcher"
	"github.com/ricirt/message-dispatch/internal/domain"
	"github.com/ricirt/message-dispatch/internal/provider"
	"github.com/ricirt/message-dispatch/internal/ratelimiter"
	"github.com/ricirt/message-dispatch/internal/repository"
)

// Submitter is the part of the dispatcher the service depends on.
type Submitter interface {
	Submit(ctx context.Context, item domain.WorkItem) bool
	SubmitWait(ctx context.Context, item domain.WorkItem, timeout time.Duration) bool
}

// MessageService coordinates the repository, the dispatcher and the provider.
// HTTP handlers and the retry poller depend on this service, not on each other.
type MessageService struct {
	repo        repository.MessageRepository
	dispatch    Submitter
	prov        provider.Provider
	limiter     *ratelimiter.PriorityLimiters
	backoff     []time.Duration
	maxAttempts int
	logger      *zap.Logger
}

func NewMessageService(
	repo repository.MessageRepository,
	dispatch Submitter,
	prov provider.Provider,
	limiter *ratelimiter.PriorityLimiters,
	backoff []time.Duration,
	maxAttempts int,
	logger *zap.Logger,
) *MessageService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &MessageService{
		repo: repo, dispatch: dispatch, prov: prov, limiter: limiter,
		backoff: backoff, maxAttempts: maxAttempts, logger: logger,
	}
}

// Submit validates, persists and dispatches a single message.
//
// Idempotency: if an X-Idempotency-Key header was supplied and a message with
// that key already exists, the existing record is returned and the bool is true.
// A message the dispatcher declines is left in status=rejected and
// ErrOverloaded is returned together with the record.
func (s *MessageService) Submit(
	ctx context.Context,
	req domain.SubmitMessageRequest,
	idempotencyKey string,
) (*domain.Message, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	// --- idempotency check ---
	if idempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, idempotencyKey)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, false, fmt.Errorf("idempotency lookup: %w", err)
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	m := s.buildMessage(req, idempotencyKey)
	if err := s.repo.Create(ctx, m); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("persist message: %w", err)
	}

	task := s.newTask(m, m.Priority)
	if !s.dispatch.Submit(ctx, task) {
		return s.reload(ctx, m), false, domain.ErrOverloaded
	}
	return s.reload(ctx, m), false, nil
}

// Resubmit dispatches a persisted message again at LOW priority so retries
// never compete with fresh traffic. It parks up to timeout when the target
// worker is busy.
func (s *MessageService) Resubmit(ctx context.Context, m *domain.Message, timeout time.Duration) bool {
	if err := s.repo.UpdateStatus(ctx, m.ID, domain.StatusQueued); err != nil {
		s.logger.Error("failed to update status to queued", zap.String("id", m.ID), zap.Error(err))
		return false
	}
	m.Status = domain.StatusQueued
	return s.dispatch.SubmitWait(ctx, s.newTask(m, domain.PriorityLow), timeout)
}

func (s *MessageService) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *MessageService) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Message, int, error) {
	return s.repo.List(ctx, filter)
}

// RejectionRecorder returns the dispatcher reject handler that marks declined
// messages as rejected.
func RejectionRecorder(repo repository.MessageRepository, logger *zap.Logger) dispatcher.RejectFunc {
	return func(ctx context.Context, item domain.WorkItem, reason error) {
		task, ok := item.(*messageTask)
		if !ok {
			return
		}
		if err := repo.MarkRejected(ctx, task.msg.ID, reason.Error()); err != nil {
			logger.Error("failed to mark message as rejected",
				zap.String("id", task.msg.ID), zap.Error(err))
			return
		}
		logger.Debug("message rejected",
			zap.String("id", task.msg.ID),
			zap.Stringer("priority", task.priority),
			zap.Error(reason),
		)
	}
}

// ---- private helpers ----

func (s *MessageService) buildMessage(req domain.SubmitMessageRequest, idempotencyKey string) *domain.Message {
	now := time.Now().UTC()
	m := &domain.Message{
		ID:          uuid.New().String(),
		SessionID:   req.SessionID,
		AffinityKey: AffinityKey(req.SessionID),
		Priority:    req.Priority,
		Content:     req.Content,
		Inline:      req.Inline,
		Status:      domain.StatusQueued,
		MaxAttempts: s.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if idempotencyKey != "" {
		m.IdempotencyKey = &idempotencyKey
	}
	return m
}

// reload returns the stored copy of m, which reflects whatever the dispatcher
// did with it, falling back to m when the lookup fails.
func (s *MessageService) reload(ctx context.Context, m *domain.Message) *domain.Message {
	stored, err := s.repo.GetByID(ctx, m.ID)
	if err != nil {
		return m
	}
	return stored
}

// AffinityKey maps a session id onto a non-negative affinity key. Every
// message of a session gets the same key and so the same worker.
func AffinityKey(sessionID string) int {
	return int(xxhash.Sum64String(sessionID) & math.MaxInt32)
}
