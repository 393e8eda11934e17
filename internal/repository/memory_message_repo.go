package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ricirt/message-dispatch/internal/domain"
)

// MemoryMessageRepository is an in-memory MessageRepository. It backs unit
// tests and runs without DATABASE_URL, where message history is lost on exit.
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message
	now      func() time.Time

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr              error
	GetByIDErr             error
	GetByIdempotencyKeyErr error
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		messages: make(map[string]*domain.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryMessageRepository) Create(_ context.Context, msg *domain.Message) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.IdempotencyKey != nil {
		for _, existing := range m.messages {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *msg.IdempotencyKey {
				return domain.ErrConflict
			}
		}
	}
	clone := *msg
	m.messages[msg.ID] = &clone
	return nil
}

func (m *MemoryMessageRepository) GetByID(_ context.Context, id string) (*domain.Message, error) {
	if m.GetByIDErr != nil {
		return nil, m.GetByIDErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *msg
	return &clone, nil
}

func (m *MemoryMessageRepository) GetByIdempotencyKey(_ context.Context, key string) (*domain.Message, error) {
	if m.GetByIdempotencyKeyErr != nil {
		return nil, m.GetByIdempotencyKeyErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.IdempotencyKey != nil && *msg.IdempotencyKey == key {
			clone := *msg
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MemoryMessageRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		if f.Status != nil && msg.Status != *f.Status {
			continue
		}
		if f.SessionID != nil && msg.SessionID != *f.SessionID {
			continue
		}
		if f.From != nil && msg.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && msg.CreatedAt.After(*f.To) {
			continue
		}
		clone := *msg
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })

	total := len(result)
	if f.Limit > 0 {
		start := (f.Page - 1) * f.Limit
		if start < 0 {
			start = 0
		}
		if start > total {
			start = total
		}
		end := start + f.Limit
		if end > total {
			end = total
		}
		result = result[start:end]
	}
	return result, total, nil
}

func (m *MemoryMessageRepository) update(id string, fn func(msg *domain.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok {
		fn(msg)
		msg.UpdatedAt = m.now()
	}
}

func (m *MemoryMessageRepository) UpdateStatus(_ context.Context, id string, status domain.Status) error {
	m.update(id, func(msg *domain.Message) { msg.Status = status })
	return nil
}

func (m *MemoryMessageRepository) MarkDelivered(_ context.Context, id, providerMsgID string, deliveredAt time.Time) error {
	m.update(id, func(msg *domain.Message) {
		msg.Status = domain.StatusDelivered
		msg.Attempts++
		msg.ProviderMsgID = &providerMsgID
		msg.DeliveredAt = &deliveredAt
		msg.ErrorMessage = nil
		msg.NextRetryAt = nil
	})
	return nil
}

func (m *MemoryMessageRepository) MarkFailed(_ context.Context, id string, attempts int, errMsg string) error {
	m.update(id, func(msg *domain.Message) {
		msg.Status = domain.StatusFailed
		msg.Attempts = attempts
		msg.ErrorMessage = &errMsg
		msg.NextRetryAt = nil
	})
	return nil
}

func (m *MemoryMessageRepository) MarkRejected(_ context.Context, id, reason string) error {
	m.update(id, func(msg *domain.Message) {
		msg.Status = domain.StatusRejected
		msg.ErrorMessage = &reason
		msg.NextRetryAt = nil
	})
	return nil
}

func (m *MemoryMessageRepository) ScheduleRetry(_ context.Context, id string, attempts int, nextRetry time.Time, errMsg string) error {
	m.update(id, func(msg *domain.Message) {
		msg.Status = domain.StatusFailed
		msg.Attempts = attempts
		msg.NextRetryAt = &nextRetry
		msg.ErrorMessage = &errMsg
	})
	return nil
}

func (m *MemoryMessageRepository) FindDueRetries(_ context.Context, limit int) ([]*domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var due []*domain.Message
	for _, msg := range m.messages {
		if msg.Status != domain.StatusFailed || msg.Attempts >= msg.MaxAttempts {
			continue
		}
		if msg.NextRetryAt == nil || msg.NextRetryAt.After(now) {
			continue
		}
		clone := *msg
		due = append(due, &clone)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetryAt.Before(*due[j].NextRetryAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// compile-time check that MemoryMessageRepository implements MessageRepository
var _ MessageRepository = (*MemoryMessageRepository)(nil)
