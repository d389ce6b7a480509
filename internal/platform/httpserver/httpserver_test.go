package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWrapAssignsRequestID(t *testing.T) {
	var seen string
	handler := Wrap(discardLogger(), "orchestrator", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pipelines", nil))

	if seen == "" {
		t.Fatalf("expected request id in handler context")
	}
	if got := rec.Header().Get("X-Request-Id"); got != seen {
		t.Fatalf("response X-Request-Id=%q, want %q", got, seen)
	}
}

func TestWrapKeepsCallerRequestID(t *testing.T) {
	handler := Wrap(discardLogger(), "orchestrator", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/pipelines", nil)
	req.Header.Set("X-Request-Id", "caller-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "caller-id" {
		t.Fatalf("response X-Request-Id=%q, want caller-id", got)
	}
}

func TestWrapRecoversPanic(t *testing.T) {
	handler := Wrap(discardLogger(), "orchestrator", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pipelines", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_server_error") {
		t.Fatalf("body=%q, want internal_server_error", rec.Body.String())
	}
}

func TestReadyzReportsFailedCheck(t *testing.T) {
	handler := Readyz("orchestrator",
		ReadinessCheck{Name: "database", Check: func(ctx context.Context) error { return nil }},
		ReadinessCheck{Name: "objectstore", Check: func(ctx context.Context) error { return errors.New("unreachable") }},
	)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not_ready") {
		t.Fatalf("body=%q, want not_ready", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "unreachable") {
		t.Fatalf("body=%q, want failed check error", rec.Body.String())
	}
}
