package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/ricirt/message-dispatch/internal/api/middleware"
	"github.com/ricirt/message-dispatch/internal/domain"
)

// MessageService is the part of service.MessageService the handler calls.
type MessageService interface {
	Submit(ctx context.Context, req domain.SubmitMessageRequest, idempotencyKey string) (*domain.Message, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Message, int, error)
}

// MessageHandler handles the message intake and lookup endpoints.
type MessageHandler struct {
	svc    MessageService
	logger *zap.Logger
}

func NewMessageHandler(svc MessageService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, logger: logger}
}

// Submit handles POST /api/v1/messages
//
// @Summary     Submit a message for dispatch
// @Tags        messages
// @Accept      json
// @Produce     json
// @Param       X-Idempotency-Key  header    string                       false  "Idempotency key"
// @Param       body               body      domain.SubmitMessageRequest  true   "Message payload"
// @Success     202                {object}  domain.Message
// @Success     200                {object}  domain.Message               "Duplicate: returned existing message"
// @Failure     422                {object}  map[string]string
// @Failure     503                {object}  map[string]string
// @Router      /api/v1/messages [post]
func (h *MessageHandler) Submit(w http.ResponseWriter, r *http.Request) {
	// priority is optional in the payload and defaults to normal.
	req := domain.SubmitMessageRequest{Priority: domain.PriorityNormal}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, domain.ErrInvalidPriority) {
			mapError(w, domain.ErrInvalidPriority)
			return
		}
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	m, isDuplicate, err := h.svc.Submit(r.Context(), req, r.Header.Get("X-Idempotency-Key"))
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("submit message failed",
			zap.String("session_id", req.SessionID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	status := http.StatusAccepted
	if isDuplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, m)
}

// GetByID handles GET /api/v1/messages/{id}
//
// @Summary  Get a message by ID
// @Tags     messages
// @Produce  json
// @Param    id   path      string  true  "Message UUID"
// @Success  200  {object}  domain.Message
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/messages/{id} [get]
func (h *MessageHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// List handles GET /api/v1/messages
//
// @Summary  List messages with filtering and pagination
// @Tags     messages
// @Produce  json
// @Param    status      query     string  false  "Filter by status"
// @Param    session_id  query     string  false  "Filter by session"
// @Param    from        query     string  false  "Created after (RFC3339)"
// @Param    to          query     string  false  "Created before (RFC3339)"
// @Param    page        query     int     false  "Page number (default 1)"
// @Param    limit       query     int     false  "Items per page (default 20, max 100)"
// @Success  200         {object}  map[string]any
// @Router   /api/v1/messages [get]
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	messages, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Error("list messages failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  messages,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

func parseListFilter(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 20}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if s := q.Get("status"); s != "" {
		st := domain.Status(s)
		filter.Status = &st
	}
	if sid := q.Get("session_id"); sid != "" {
		filter.SessionID = &sid
	}
	if f := q.Get("from"); f != "" {
		if t, err := time.Parse(time.RFC3339, f); err == nil {
			filter.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}
	return filter
}
