package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ricirt/message-dispatch/internal/domain"
)

const messageColumns = `id, session_id, affinity_key, priority, content, inline, status,
		       idempotency_key, attempts, max_attempts, next_retry_at,
		       delivered_at, provider_msg_id, error_message,
		       created_at, updated_at`

type pgMessageRepository struct {
	pool *pgxpool.Pool
}

// NewPgMessageRepository returns a MessageRepository backed by PostgreSQL.
func NewPgMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &pgMessageRepository{pool: pool}
}

func (r *pgMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO messages
			(id, session_id, affinity_key, priority, content, inline, status,
			 idempotency_key, attempts, max_attempts, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.ID, m.SessionID, m.AffinityKey, int(m.Priority), m.Content, m.Inline, string(m.Status),
		m.IdempotencyKey, m.Attempts, m.MaxAttempts, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "idempotency_key") {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *pgMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return m, err
}

func (r *pgMessageRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE idempotency_key = $1`, key)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return m, err
}

func (r *pgMessageRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Message, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	// Count total matching rows for pagination metadata.
	var total int
	countQuery := "SELECT COUNT(*) FROM messages" + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	// Append pagination args after the WHERE args.
	args = append(args, f.Limit, offset)
	limitPlaceholder := fmt.Sprintf("$%d", len(args)-1)
	offsetPlaceholder := fmt.Sprintf("$%d", len(args))

	query := fmt.Sprintf(`
		SELECT %s
		FROM messages%s
		ORDER BY created_at DESC
		LIMIT %s OFFSET %s`, messageColumns, where, limitPlaceholder, offsetPlaceholder)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	return messages, total, err
}

func (r *pgMessageRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
	return err
}

func (r *pgMessageRepository) MarkDelivered(ctx context.Context, id, providerMsgID string, deliveredAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'delivered', provider_msg_id = $1, delivered_at = $2,
		    attempts = attempts + 1, error_message = NULL, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $3`, providerMsgID, deliveredAt, id)
	return err
}

func (r *pgMessageRepository) MarkFailed(ctx context.Context, id string, attempts int, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'failed', attempts = $1, error_message = $2, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $3`, attempts, errMsg, id)
	return err
}

func (r *pgMessageRepository) MarkRejected(ctx context.Context, id, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'rejected', error_message = $1, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $2`, reason, id)
	return err
}

func (r *pgMessageRepository) ScheduleRetry(ctx context.Context, id string, attempts int, nextRetry time.Time, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'failed', attempts = $1, next_retry_at = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4`, attempts, nextRetry, errMsg, id)
	return err
}

func (r *pgMessageRepository) FindDueRetries(ctx context.Context, limit int) ([]*domain.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE status = 'failed'
		  AND attempts < max_attempts
		  AND next_retry_at <= NOW()
		ORDER BY next_retry_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("find due retries: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ---- helpers ----

// scanMessage reads a single message row from any pgx row type.
func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	var priority int
	err := row.Scan(
		&m.ID, &m.SessionID, &m.AffinityKey, &priority, &m.Content, &m.Inline, &m.Status,
		&m.IdempotencyKey, &m.Attempts, &m.MaxAttempts, &m.NextRetryAt,
		&m.DeliveredAt, &m.ProviderMsgID, &m.ErrorMessage,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Priority = domain.Priority(priority)
	return &m, nil
}

func scanMessages(rows pgx.Rows) ([]*domain.Message, error) {
	var result []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.SessionID != nil {
		add("session_id = $%d", *f.SessionID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
