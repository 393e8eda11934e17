package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ricirt/message-dispatch/internal/api/middleware"
)

func TestCorrelationID(t *testing.T) {
	var seen string
	h := middleware.CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetCorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get("X-Correlation-ID") != "abc" {
		t.Fatalf("expected supplied id to be kept, got ctx=%q header=%q", seen, rec.Header().Get("X-Correlation-ID"))
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get("X-Correlation-ID") != seen {
		t.Fatalf("expected generated id to be echoed, got ctx=%q header=%q", seen, rec.Header().Get("X-Correlation-ID"))
	}
}

func TestRequestLogger_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusCreated, zapcore.InfoLevel},
		{http.StatusServiceUnavailable, zapcore.WarnLevel},
		{http.StatusInternalServerError, zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		core, logs := observer.New(zapcore.DebugLevel)
		var scoped *zap.Logger
		h := middleware.CorrelationID(middleware.RequestLogger(zap.New(core))(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				scoped = middleware.Logger(r.Context(), nil)
				w.WriteHeader(tt.status)
			})))

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/messages", nil))

		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("status %d: expected 1 log line, got %d", tt.status, len(entries))
		}
		if entries[0].Level != tt.level {
			t.Fatalf("status %d: expected level %s, got %s", tt.status, tt.level, entries[0].Level)
		}
		if entries[0].ContextMap()["correlation_id"] == "" {
			t.Fatalf("status %d: expected correlation_id field", tt.status)
		}
		if scoped == nil {
			t.Fatalf("status %d: expected request-scoped logger in context", tt.status)
		}
	}
}
