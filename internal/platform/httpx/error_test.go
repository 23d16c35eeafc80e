package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/doxvl/legalization-api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{TraceID: "abc123"})

	rec := httptest.NewRecorder()
	WriteError(ctx, rec, NewError("confirmation_expired", "this link\nhas expired", http.StatusGone).
		WithDetails(map[string]any{"kind": "quote"}))

	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if rec.Header().Get("Retry-After") != "" {
		t.Fatalf("unexpected Retry-After header")
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]any{
		"error":      "confirmation_expired",
		"message":    "this link has expired",
		"status":     float64(http.StatusGone),
		"request_id": "req-1",
		"trace_id":   "abc123",
		"kind":       "quote",
	}
	for key, value := range want {
		if body[key] != value {
			t.Fatalf("expected %s=%v, got %v", key, value, body[key])
		}
	}
}

func TestWriteErrorDetailsCannotOverrideEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("invalid_request", "bad", http.StatusBadRequest).
		WithDetails(map[string]any{"error": "spoofed", "status": 200}))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "invalid_request" || body["status"] != float64(http.StatusBadRequest) {
		t.Fatalf("envelope fields overridden: %v", body)
	}
	if _, ok := body["request_id"]; ok {
		t.Fatalf("expected request_id to be omitted without a request id")
	}
}

func TestWriteErrorRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("rate_limited", "slow down", http.StatusTooManyRequests).
		WithRetryAfter(1500*time.Millisecond))

	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["retryAfter"] != float64(2) {
		t.Fatalf("expected retryAfter 2, got %v", body["retryAfter"])
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := map[time.Duration]int{
		0:                      1,
		200 * time.Millisecond: 1,
		time.Second:            1,
		30 * time.Second:       30,
		30*time.Second + 1:     31,
	}
	for in, want := range tests {
		if got := RetryAfterSeconds(in); got != want {
			t.Fatalf("RetryAfterSeconds(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	err := NewError("internal", "boom", 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", err.Status)
	}
	if err.Error() != "internal: boom" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}
