package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerCloudLoggingLayout(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("legalization-api", WithLogLevel("debug"), WithLogOutput(zapcore.AddSync(&buf)))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("probe")
	logger.Warn("slow")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 entries, got %d: %s", len(lines), buf.String())
	}
	want := []string{"DEBUG", "WARNING"}
	for i, line := range lines {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if entry["severity"] != want[i] {
			t.Fatalf("entry %d severity = %v, want %s", i, entry["severity"], want[i])
		}
		if entry["service"] != "legalization-api" || entry["message"] == nil || entry["timestamp"] == nil {
			t.Fatalf("missing layout fields: %v", entry)
		}
	}
}

func TestNewLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("", WithLogLevel("chatty"), WithLogOutput(zapcore.AddSync(&buf)))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("shown")
	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Contains(buf.String(), `"service"`) {
		t.Fatalf("expected no service field for empty name")
	}
}

func TestSanitizers(t *testing.T) {
	if got := SanitizeRoute(""); got != "/" {
		t.Fatalf("SanitizeRoute(\"\") = %q", got)
	}
	if got := SanitizeMethod("GET\r\nX-Injected: 1"); got != "GETX-Injec" {
		t.Fatalf("SanitizeMethod = %q", got)
	}
	long := strings.Repeat("å", 200)
	if got := SanitizeUserID("  " + long); got != strings.Repeat("å", 128) {
		t.Fatalf("expected rune-safe truncation, got %d bytes", len(got))
	}
}
