package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/services"
)

type stubSystemService struct {
	liveness services.SystemHealthReport
	report   services.SystemHealthReport
	err      error
}

func (s *stubSystemService) Liveness(context.Context) services.SystemHealthReport {
	return s.liveness
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

var _ services.SystemService = (*stubSystemService)(nil)

func TestHealthHandlersHealthzFromBuildInfo(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != domain.HealthStatusOK || body["version"] != "1.0.0" || body["commitSha"] != "abc123" {
		t.Fatalf("unexpected body %#v", body)
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersHealthzSkipsDependencies(t *testing.T) {
	svc := &stubSystemService{
		liveness: services.SystemHealthReport{Status: domain.HealthStatusOK, Version: "2.0.0"},
		err:      errors.New("firestore down"),
	}
	handlers := NewHealthHandlers(WithHealthSystemService(svc))

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("liveness must not depend on dependency probes, got %d", rr.Code)
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	tests := []struct {
		name        string
		svc         *stubSystemService
		wantStatus  int
		wantDetails []string
	}{
		{
			name: "ok",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
				},
			}},
			wantStatus: http.StatusOK,
		},
		{
			name: "degraded",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore":     {Status: domain.HealthStatusOK},
					"secretManager": {Status: domain.HealthStatusDegraded, Error: "permission denied"},
				},
			}},
			wantStatus:  http.StatusServiceUnavailable,
			wantDetails: []string{"secretManager: permission denied"},
		},
		{
			name:       "probe error",
			svc:        &stubSystemService{err: errors.New("context canceled")},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(
				WithHealthSystemService(tc.svc),
				WithHealthClock(func() time.Time { return now }),
			)
			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			var body struct {
				Details []string `json:"details"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if len(body.Details) != len(tc.wantDetails) {
				t.Fatalf("expected details %v, got %v", tc.wantDetails, body.Details)
			}
			for i := range tc.wantDetails {
				if body.Details[i] != tc.wantDetails[i] {
					t.Fatalf("expected details %v, got %v", tc.wantDetails, body.Details)
				}
			}
		})
	}
}
