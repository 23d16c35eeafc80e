package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/doxvl/legalization-api/internal/platform/requestctx"
)

func TestRedactPath(t *testing.T) {
	tests := map[string]string{
		"/api/confirmation/quote/6f1c2f4e-8c1b-4b55-9d55-0a6b1b0b9f10": "/api/confirmation/quote/{token}",
		"/api/confirmation/address/abc/extra":                          "/api/confirmation/address/{token}",
		"/api/confirmation/quote":                                      "/api/confirmation/quote",
		"/api/orders/status":                                           "/api/orders/status",
	}
	for in, want := range tests {
		if got := RedactPath(in); got != want {
			t.Fatalf("RedactPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)

	logEvent := NewEventLogger(zap.New(fallbackCore), "confirmations")

	logEvent(context.Background(), "confirmation.sent", map[string]any{"kind": "quote"})
	if fallbackLogs.Len() != 1 {
		t.Fatalf("expected fallback logger to be used without request logger, got %d", fallbackLogs.Len())
	}

	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore).With(zap.String("request_id", "req-1")))
	logEvent(ctx, "confirmation.publish_failed", map[string]any{"error": "boom"})
	entries := requestLogs.All()
	if len(entries) != 1 {
		t.Fatalf("expected request logger entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected failures at warn level, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["request_id"] != "req-1" || fields["event"] != "confirmation.publish_failed" || fields["error"] != "boom" {
		t.Fatalf("unexpected fields %#v", fields)
	}
	if entry.LoggerName != "confirmations" {
		t.Fatalf("expected named logger, got %q", entry.LoggerName)
	}
}

func TestRequestLoggerLogsRoutePattern(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	router := chi.NewRouter()
	router.Use(InjectLoggerMiddleware(zap.New(core)))
	router.Use(RequestLoggerMiddleware("proj"))
	router.Get("/api/confirmation/{kind}/{token}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/confirmation/quote/secret-token", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["route"] != "/api/confirmation/{kind}/{token}" {
		t.Fatalf("expected route pattern, got %v", fields["route"])
	}
	if fields["remote_ip"] != "203.0.113.9" {
		t.Fatalf("expected client ip, got %v", fields["remote_ip"])
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected 4xx at warn, got %s", entries[0].Level)
	}
}

func TestRecoveryMiddlewareWritesJSON(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok || !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote context, got %#v ok=%v", sc, ok)
	}
	if got := sc.SpanID().String(); got != "0000000000000001" {
		t.Fatalf("expected decimal span id 1, got %s", got)
	}
	if got := formatCloudTraceHeader(sc); got != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("unexpected round trip %q", got)
	}

	for _, header := range []string{"garbage", "105445aa7843bc8bf206b12000100000/0", "xyz/1;o=1", ""} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewareContinuesRemoteTrace(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("doxvl-prod")(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/orders/status", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/7;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if info.ProjectID != "doxvl-prod" {
		t.Fatalf("expected project id on trace info, got %q", info.ProjectID)
	}
	// Without an SDK provider the span is non-recording and inherits the remote ids.
	if info.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected remote trace id, got %q", info.TraceID)
	}
}

func TestRecoveryMiddlewareRepanicsAbort(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
