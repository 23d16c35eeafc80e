package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const credentialsResource = "projects/dox-prod/secrets/firebase-credentials/versions/latest"

func writeFallback(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

func TestResolveCachesRemoteSecretUntilTTL(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[credentialsResource] = `{"type":"service_account"}`

	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("dox-prod"),
		WithLogger(zap.NewNop()),
		WithCacheTTL(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://firebase-credentials")
		if err != nil || got != `{"type":"service_account"}` {
			t.Fatalf("Resolve #%d = %q, %v", i, got, err)
		}
	}
	if calls := client.callCount(credentialsResource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := fetcher.Resolve(ctx, "sm://firebase-credentials"); err != nil {
		t.Fatalf("Resolve after ttl: %v", err)
	}
	if calls := client.callCount(credentialsResource); calls != 2 {
		t.Fatalf("expected refetch after ttl, got %d", calls)
	}
}

func TestResolveFallsBackWhenSecretManagerDenies(t *testing.T) {
	ctx := context.Background()
	path := writeFallback(t, "# local dev\nsecret://firebase-credentials=local-secret\n")

	client := newFakeSecretClient()
	client.errors[credentialsResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("dox-prod"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://firebase-credentials")
	if err != nil || got != "local-secret" {
		t.Fatalf("expected fallback secret, got %q %v", got, err)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	path := writeFallback(t, "secret://firebase-credentials=local-secret\n")

	client := newFakeSecretClient()
	client.errors[credentialsResource] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("dox-prod"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, "secret://firebase-credentials"); err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestResolveUsesVersionPinsAndProjectMap(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	pinned := "projects/dox-staging/secrets/firebase-credentials/versions/5"
	client.values[pinned] = "version-5"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithEnvironment("staging"),
		WithDefaultProject("dox-prod"),
		WithProjectMap(map[string]string{"staging": "dox-staging"}),
		WithVersionPins(map[string]string{"staging:secret://firebase-credentials": "5"}),
	)
	if err != nil {
		t.Fatalf("NewFetcher error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://firebase-credentials")
	if err != nil || got != "version-5" {
		t.Fatalf("expected version-5, got %q %v", got, err)
	}
	if calls := client.callCount(pinned); calls != 1 {
		t.Fatalf("expected fetch of pinned version, got %d calls", calls)
	}
}

func TestCheckBypassesCache(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[credentialsResource] = "value"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("dox-prod"), WithFallbackFile(""))
	if err != nil {
		t.Fatalf("NewFetcher error: %v", err)
	}
	if err := fetcher.Check(ctx, "secret://firebase-credentials"); err != nil {
		t.Fatalf("Check: %v", err)
	}
	client.setError(credentialsResource, status.Error(codes.NotFound, "deleted"))
	if err := fetcher.Check(ctx, "secret://firebase-credentials"); err == nil {
		t.Fatal("expected Check to observe the deleted secret")
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()
	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = originalFactory })

	path := writeFallback(t, "sm://firebase-credentials?version=2=pinned-local\nsecret://firebase-credentials=latest-local\n")
	fetcher, err := NewFetcher(ctx, WithFallbackFile(path), WithDefaultProject("dox-prod"))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	if value, err := fetcher.Resolve(ctx, "secret://firebase-credentials"); err != nil || value != "latest-local" {
		t.Fatalf("expected latest-local, got %q %v", value, err)
	}
	if value, err := fetcher.Resolve(ctx, "secret://firebase-credentials?version=2"); err != nil || value != "pinned-local" {
		t.Fatalf("expected pinned-local, got %q %v", value, err)
	}
}

func TestParseReference(t *testing.T) {
	ref, err := parseReference("sm://firebase-credentials?version=3&project=other")
	if err != nil {
		t.Fatalf("parseReference: %v", err)
	}
	if ref.Canonical != "secret://firebase-credentials" || ref.Version != "3" || ref.Project != "other" {
		t.Fatalf("unexpected reference %#v", ref)
	}
	for _, bad := range []string{"", "https://example.com/x", "secret://"} {
		if _, err := parseReference(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetName()
	f.counter[name]++
	if err, ok := f.errors[name]; ok && err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) setError(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[name] = err
}

func (f *fakeSecretClient) Close() error {
	return nil
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
