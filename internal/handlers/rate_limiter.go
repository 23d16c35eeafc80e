package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/doxvl/legalization-api/internal/platform/auth"
	"github.com/doxvl/legalization-api/internal/platform/httpx"
)

const rateLimitPruneEvery = 256

type rateDecision struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
}

type rateLimiter interface {
	Allow(key string) rateDecision
}

// slidingRateLimiter keeps the request instants of each key inside the window.
// State is per process, so every instance enforces its own budget.
type slidingRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string][]time.Time
	calls  int
}

func newSlidingRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &slidingRateLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string][]time.Time),
	}
}

func (l *slidingRateLimiter) Allow(key string) rateDecision {
	if l == nil {
		return rateDecision{allowed: true}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls++
	if l.calls%rateLimitPruneEvery == 0 {
		l.pruneExpiredLocked(now)
	}

	hits := trimWindow(l.store[key], now.Add(-l.window))
	if len(hits) >= l.limit {
		l.store[key] = hits
		return rateDecision{retryAfter: hits[0].Add(l.window).Sub(now)}
	}
	hits = append(hits, now)
	l.store[key] = hits
	return rateDecision{allowed: true, remaining: l.limit - len(hits)}
}

func (l *slidingRateLimiter) pruneExpiredLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	for key, hits := range l.store {
		if hits = trimWindow(hits, cutoff); len(hits) == 0 {
			delete(l.store, key)
			continue
		}
		l.store[key] = hits
	}
}

// trimWindow drops instants at or before cutoff. hits is ordered oldest first.
func trimWindow(hits []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(hits) && !hits[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return hits
	}
	return append(hits[:0], hits[idx:]...)
}

// rateLimit rejects requests whose key spent its budget. A nil limiter disables the check.
func rateLimit(scope string, limiter rateLimiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := limiter.Allow(scope + ":" + key(r))
			if !decision.allowed {
				writeRateLimited(w, r, decision.retryAfter)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.remaining))
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitByClientIP(scope string, limiter rateLimiter) func(http.Handler) http.Handler {
	return rateLimit(scope, limiter, httpx.ClientIP)
}

// actorKey budgets authenticated callers by identity and everyone else by address.
func actorKey(r *http.Request) string {
	if id, ok := auth.RequesterID(r.Context()); ok {
		return id
	}
	return httpx.ClientIP(r)
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests, try again later", http.StatusTooManyRequests).
		WithRetryAfter(retryAfter))
}
