package provider

import (
	"context"

	"github.com/ricirt/message-dispatch/internal/domain"
)

// SendRequest is the JSON body posted to the external provider.
type SendRequest struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Priority  string `json:"priority"`
	Content   string `json:"content"`
}

// SendResponse maps the provider's 202 Accepted response body.
type SendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Provider abstracts delivery to the downstream message consumer.
// Mocking this interface in tests gives full control over provider behaviour
// without making real HTTP calls.
type Provider interface {
	Send(ctx context.Context, m *domain.Message) (*SendResponse, error)
}
