package repository

import (
	"context"
	"time"

	"github.com/ricirt/message-dispatch/internal/domain"
)

// MessageRepository records the lifecycle of every accepted message.
// The pgx implementation is in pg_message_repo.go.
// Tests and database-less runs use the in-memory one (memory_message_repo.go).
type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Message, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Message, int, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	MarkDelivered(ctx context.Context, id string, providerMsgID string, deliveredAt time.Time) error
	MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error
	MarkRejected(ctx context.Context, id string, reason string) error
	ScheduleRetry(ctx context.Context, id string, attempts int, nextRetry time.Time, errMsg string) error
	FindDueRetries(ctx context.Context, limit int) ([]*domain.Message, error)
}
