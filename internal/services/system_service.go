package services

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/repositories"
)

// BuildInfo is the deployment metadata reported by /healthz and /readyz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// ReadinessTTL reuses a successful dependency probe for this long. Zero probes on every call.
	ReadinessTTL time.Duration
}

type systemService struct {
	health repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
	ttl    time.Duration

	probes   singleflight.Group
	mu       sync.Mutex
	last     SystemHealthReport
	lastTime time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the liveness and readiness endpoints.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		health: deps.HealthRepository,
		now:    func() time.Time { return clock().UTC() },
		build:  deps.Build,
		ttl:    deps.ReadinessTTL,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// HealthReport probes dependencies. Concurrent readiness probes share one round of checks.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	if report, ok := s.cached(); ok {
		return report, nil
	}

	v, err, _ := s.probes.Do("readiness", func() (any, error) {
		report, err := s.health.Collect(ctx)
		if err != nil {
			return SystemHealthReport{}, err
		}
		report = s.decorate(report)
		if s.ttl > 0 && report.Status == domain.HealthStatusOK {
			s.mu.Lock()
			s.last, s.lastTime = report, s.now()
			s.mu.Unlock()
		}
		return report, nil
	})
	if err != nil {
		return SystemHealthReport{}, err
	}
	return copyReport(v.(SystemHealthReport)), nil
}

func (s *systemService) cached() (SystemHealthReport, bool) {
	if s.ttl <= 0 {
		return SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTime.IsZero() || s.now().Sub(s.lastTime) >= s.ttl {
		return SystemHealthReport{}, false
	}
	return copyReport(s.last), true
}

func (s *systemService) decorate(report SystemHealthReport) SystemHealthReport {
	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.CommitSHA) == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = worstStatus(report.Checks)
	}
	return report
}

// Liveness reports build metadata and uptime without probing dependencies.
func (s *systemService) Liveness(context.Context) SystemHealthReport {
	now := s.now()
	return SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Version:     s.build.Version,
		CommitSHA:   s.build.CommitSHA,
		Environment: s.build.Environment,
		Checks:      map[string]domain.SystemHealthCheck{},
		Uptime:      now.Sub(s.build.StartedAt),
		GeneratedAt: now,
	}
}

func copyReport(report SystemHealthReport) SystemHealthReport {
	report.Checks = maps.Clone(report.Checks)
	return report
}

// worstStatus folds check results: any error wins, then any non-ok result degrades.
func worstStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
