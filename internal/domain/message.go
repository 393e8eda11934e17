package domain

import "time"

// Status tracks the lifecycle of a message.
type Status string

const (
	StatusReceived   Status = "received"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
)

// Message is the record kept for every message accepted by the front end.
// Messages of one session share an affinity key and are delivered in order.
type Message struct {
	ID             string     `json:"id"`
	SessionID      string     `json:"session_id"`
	AffinityKey    int        `json:"affinity_key"`
	Priority       Priority   `json:"priority"`
	Content        string     `json:"content"`
	Inline         bool       `json:"inline,omitempty"`
	Status         Status     `json:"status"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ProviderMsgID  *string    `json:"provider_message_id,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// SubmitMessageRequest is the inbound payload for a single message.
type SubmitMessageRequest struct {
	SessionID string   `json:"session_id"`
	Priority  Priority `json:"priority"`
	Content   string   `json:"content"`
	Inline    bool     `json:"inline"`
}

func (r *SubmitMessageRequest) Validate() error {
	if !r.Priority.IsValid() {
		return ErrInvalidPriority
	}
	if r.SessionID == "" {
		return ErrInvalidSession
	}
	if r.Content == "" || len(r.Content) > 4096 {
		return ErrInvalidContent
	}
	return nil
}

// ListFilter holds query parameters for paginated message listing.
type ListFilter struct {
	Status    *Status
	SessionID *string
	From      *time.Time
	To        *time.Time
	Page      int
	Limit     int
}
