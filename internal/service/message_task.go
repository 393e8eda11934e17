package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/message-dispatch/internal/domain"
)

// messageTask is the work item that delivers one stored message.
type messageTask struct {
	svc      *MessageService
	msg      *domain.Message
	priority domain.Priority
}

func (s *MessageService) newTask(m *domain.Message, p domain.Priority) *messageTask {
	snapshot := *m
	return &messageTask{svc: s, msg: &snapshot, priority: p}
}

func (t *messageTask) Priority() domain.Priority { return t.priority }
func (t *messageTask) AffinityKey() int          { return t.msg.AffinityKey }
func (t *messageTask) Inline() bool              { return t.msg.Inline }
func (t *messageTask) OutcomeRequired() bool     { return true }

// Execute marks the message as processing, waits for the priority's rate
// limiter and delivers it. A failed delivery schedules a retry or, once the
// attempts are used up, marks the message failed. The delivery error is
// returned either way.
func (t *messageTask) Execute(ctx context.Context) error {
	s := t.svc
	m := t.msg
	log := s.logger.With(
		zap.String("message_id", m.ID),
		zap.String("session_id", m.SessionID),
		zap.Stringer("priority", t.priority),
	)

	if err := s.repo.UpdateStatus(ctx, m.ID, domain.StatusProcessing); err != nil {
		log.Error("failed to mark as processing", zap.Error(err))
		return err
	}

	// Block here until the priority's rate limiter grants a token.
	if err := s.limiter.Wait(ctx, t.priority); err != nil {
		// ctx cancelled while waiting; the worker is being abandoned.
		s.handleFailure(context.WithoutCancel(ctx), m, err)
		return err
	}

	start := time.Now()
	resp, err := s.prov.Send(ctx, m)
	elapsed := time.Since(start)
	if err != nil {
		log.Warn("provider send failed", zap.Error(err), zap.Int("attempts", m.Attempts))
		s.handleFailure(ctx, m, err)
		return err
	}

	if err := s.repo.MarkDelivered(ctx, m.ID, resp.MessageID, time.Now().UTC()); err != nil {
		log.Error("failed to mark as delivered", zap.Error(err))
		return err
	}
	log.Info("message delivered", zap.String("provider_msg_id", resp.MessageID), zap.Duration("latency", elapsed))
	return nil
}

// handleFailure either schedules a retry (if attempts remain) or marks the
// message as permanently failed.
//
// Retry schedule uses the configured backoff:
//
//	attempt 1 → backoff[0]  (default 5 s)
//	attempt 2 → backoff[1]  (default 30 s)
//	attempt N > len(backoff) → last backoff entry (clamped)
func (s *MessageService) handleFailure(ctx context.Context, m *domain.Message, sendErr error) {
	attempts := m.Attempts + 1
	if attempts >= m.MaxAttempts || len(s.backoff) == 0 {
		if err := s.repo.MarkFailed(ctx, m.ID, attempts, sendErr.Error()); err != nil {
			s.logger.Error("failed to mark message as failed",
				zap.String("id", m.ID), zap.Error(err))
		}
		return
	}

	idx := attempts - 1
	if idx >= len(s.backoff) {
		idx = len(s.backoff) - 1
	}
	nextRetry := time.Now().UTC().Add(s.backoff[idx])

	if err := s.repo.ScheduleRetry(ctx, m.ID, attempts, nextRetry, sendErr.Error()); err != nil {
		s.logger.Error("failed to schedule retry",
			zap.String("id", m.ID), zap.Error(err))
	}
}
