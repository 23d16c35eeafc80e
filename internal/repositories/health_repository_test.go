package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
)

func okCheck(context.Context) error { return nil }

func failCheck(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDependencyHealthRepositoryCollect(t *testing.T) {
	denied := errors.New("permission denied")
	cases := map[string]struct {
		checks     []DependencyCheck
		wantStatus string
		wantChecks map[string]string
		wantDetail map[string]string
	}{
		"all healthy": {
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Check: okCheck},
				{Name: "secretManager", Check: okCheck},
			},
			wantStatus: domain.HealthStatusOK,
			wantChecks: map[string]string{"firestore": domain.HealthStatusOK, "secretManager": domain.HealthStatusOK},
			wantDetail: map[string]string{"firestore": "ok"},
		},
		"optional failure degrades": {
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Check: okCheck},
				{Name: "secretManager", Check: failCheck(denied)},
			},
			wantStatus: domain.HealthStatusDegraded,
			wantChecks: map[string]string{"secretManager": domain.HealthStatusDegraded},
			wantDetail: map[string]string{"secretManager": "permission denied"},
		},
		"critical timeout errors": {
			checks: []DependencyCheck{
				{Name: "redis", Critical: true, Timeout: 5 * time.Millisecond, Check: blockUntilDone},
				{Name: "secretManager", Check: failCheck(errors.New("down"))},
			},
			wantStatus: domain.HealthStatusError,
			wantChecks: map[string]string{"redis": domain.HealthStatusError, "secretManager": domain.HealthStatusDegraded},
			wantDetail: map[string]string{"redis": "timeout"},
		},
	}

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks, WithDependencyClock(func() time.Time { return now }))
			if err != nil {
				t.Fatalf("NewDependencyHealthRepository: %v", err)
			}
			report, err := repo.Collect(context.Background())
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if report.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", report.Status, tc.wantStatus)
			}
			if len(report.Checks) != len(tc.checks) || !report.GeneratedAt.Equal(now) {
				t.Fatalf("unexpected report %+v", report)
			}
			for dep, want := range tc.wantChecks {
				if got := report.Checks[dep].Status; got != want {
					t.Fatalf("%s status = %s, want %s", dep, got, want)
				}
			}
			for dep, want := range tc.wantDetail {
				if got := report.Checks[dep].Detail; got != want {
					t.Fatalf("%s detail = %q, want %q", dep, got, want)
				}
			}
		})
	}
}

func TestDependencyHealthRepositoryDefaultTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{{Name: "firestore", Critical: true, Check: blockUntilDone}},
		WithDependencyTimeout(5*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, _ := repo.Collect(context.Background())
	if check := report.Checks["firestore"]; check.Detail != "timeout" || check.Error == "" {
		t.Fatalf("expected default timeout to apply, got %+v", check)
	}
}

func TestNewDependencyHealthRepositoryRejectsInvalidChecks(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"no name":   {{Name: " ", Check: okCheck}},
		"no func":   {{Name: "firestore"}},
		"duplicate": {{Name: "firestore", Check: okCheck}, {Name: " firestore", Check: okCheck}},
	}
	for name, checks := range cases {
		if _, err := NewDependencyHealthRepository(checks); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
