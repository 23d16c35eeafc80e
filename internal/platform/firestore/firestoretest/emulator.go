// Package firestoretest connects integration tests to the Firestore emulator.
package firestoretest

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/doxvl/legalization-api/internal/platform/config"
	pfirestore "github.com/doxvl/legalization-api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

// NewProvider connects to FIRESTORE_EMULATOR_HOST, or starts the emulator in docker when unset.
// The test is skipped in short mode or when neither is available. Every call gets its own
// project so emulator state never leaks between tests.
func NewProvider(tb testing.TB, projectID string) *pfirestore.Provider {
	tb.Helper()
	if testing.Short() {
		tb.Skip("integration test skipped in short mode")
	}

	endpoint := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if endpoint == "" {
		endpoint = startEmulator(tb)
	}
	waitForEndpoint(tb, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(config.FirestoreConfig{
		ProjectID:    fmt.Sprintf("%s-%d", projectID, time.Now().UnixNano()),
		EmulatorHost: endpoint,
	})
	tb.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func startEmulator(tb testing.TB) string {
	tb.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		tb.Skip("FIRESTORE_EMULATOR_HOST not set and docker not available: " + err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		tb.Skipf("docker daemon not available: %v", err)
	}

	port := freePort(tb)
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		tb.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		tb.Fatalf("docker returned empty container id")
	}
	tb.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
	})
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func freePort(tb testing.TB) int {
	tb.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitForEndpoint(tb testing.TB, endpoint string, timeout time.Duration) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	tb.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
