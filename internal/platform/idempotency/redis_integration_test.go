//go:build integration

package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	store, err := NewRedisStore(url)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Ping(context.Background()); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return store
}

func TestRedisStoreReserveLifecycle(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()
	key := fmt.Sprintf("uid:staff|/api/admin/orders/o1/quotes|%d", time.Now().UnixNano())
	now := time.Now().UTC()

	res, err := store.Reserve(ctx, key, "fp1", now, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v err=%v", res, err)
	}
	res, err = store.Reserve(ctx, key, "fp1", now, time.Minute)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v err=%v", res, err)
	}
	if _, err := store.Reserve(ctx, key, "fp2", now, time.Minute); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	resp := Response{Status: http.StatusCreated, Headers: http.Header{"Content-Type": {"application/json"}, "Set-Cookie": {"x=1"}}, Body: []byte(`{"ok":true}`)}
	if err := store.SaveResponse(ctx, key, "fp2", resp, now, time.Minute); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected mismatch on save, got %v", err)
	}
	if err := store.SaveResponse(ctx, key, "fp1", resp, now, time.Minute); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	res, err = store.Reserve(ctx, key, "fp1", now, time.Minute)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %+v err=%v", res, err)
	}
	if res.Record.ResponseStatus != http.StatusCreated || string(res.Record.ResponseBody) != `{"ok":true}` {
		t.Fatalf("unexpected stored response %+v", res.Record)
	}
	if _, ok := res.Record.ResponseHeaders["Set-Cookie"]; ok {
		t.Fatalf("expected Set-Cookie to be dropped")
	}
}

func TestRedisStoreReleaseRequiresOwner(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()
	key := fmt.Sprintf("system:scheduler|/internal/send|%d", time.Now().UnixNano())
	now := time.Now().UTC()

	if _, err := store.Reserve(ctx, key, "owner", now, time.Minute); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := store.Release(ctx, key, "intruder"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if res, _ := store.Reserve(ctx, key, "owner", now, time.Minute); res.State != ReservationStatePending {
		t.Fatalf("expected key to survive foreign release, got %v", res.State)
	}
	if err := store.Release(ctx, key, "owner"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if res, _ := store.Reserve(ctx, key, "other", now, time.Minute); res.State != ReservationStateNew {
		t.Fatalf("expected key to be free after release, got %v", res.State)
	}
}
