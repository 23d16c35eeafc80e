package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSlidingRateLimiterWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := newSlidingRateLimiter(3, time.Minute, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if d := limiter.Allow("ip"); !d.allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		now = now.Add(10 * time.Second)
	}
	denied := limiter.Allow("ip")
	if denied.allowed {
		t.Fatal("fourth request inside the window must be rejected")
	}
	// First hit at 12:00:00, now 12:00:30.
	if denied.retryAfter != 30*time.Second {
		t.Fatalf("expected retry after 30s, got %s", denied.retryAfter)
	}
	if d := limiter.Allow("other"); !d.allowed {
		t.Fatal("budgets must be per key")
	}

	now = now.Add(30 * time.Second)
	if d := limiter.Allow("ip"); !d.allowed || d.remaining != 0 {
		t.Fatalf("oldest hit left the window, expected allowance with 0 remaining, got %#v", d)
	}
}

func TestSlidingRateLimiterDisabled(t *testing.T) {
	if newSlidingRateLimiter(0, time.Minute, nil) != nil {
		t.Fatal("zero limit should disable the limiter")
	}
	handler := rateLimitByClientIP("orders", nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rr.Code)
	}
}

func TestRateLimitByClientIPRejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := newSlidingRateLimiter(1, time.Minute, func() time.Time { return now })
	handler := rateLimitByClientIP("orders", limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("203.0.113.1"); rr.Code != http.StatusCreated {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}
	now = now.Add(15 * time.Second)
	rr := send("203.0.113.1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "45" {
		t.Fatalf("expected Retry-After 45, got %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "rate_limited" || body["retryAfter"] != float64(45) || body["message"] == "" {
		t.Fatalf("unexpected body %#v", body)
	}
	if rr := send("203.0.113.2"); rr.Code != http.StatusCreated {
		t.Fatalf("other clients keep their budget, got %d", rr.Code)
	}
}

func TestRateLimitByClientIPIgnoresSpoofedForwardedEntries(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := newSlidingRateLimiter(10, time.Minute, func() time.Time { return now })
	handler := rateLimitByClientIP("confirmation", limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	limited := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/confirmation/quote/tok", nil)
		req.RemoteAddr = "169.254.8.1:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d, 203.0.113.9", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 40 {
		t.Fatalf("expected 40 of 50 requests limited for one client, got %d", limited)
	}
}
