package handlers

import (
	"net/http"
	"sort"
	"time"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/platform/httpx"
	"github.com/doxvl/legalization-api/internal/services"
)

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	system    services.SystemService
	build     services.BuildInfo
	clock     func() time.Time
	startedAt time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService sets the service probing dependencies for readiness.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// WithHealthBuildInfo sets the build metadata reported when no system service is wired.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock used for timestamps.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the health endpoints.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.startedAt = h.build.StartedAt
	if h.startedAt.IsZero() {
		h.startedAt = h.clock()
	}
	return h
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type healthPayload struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commitSha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime"`
	Timestamp   string                        `json:"timestamp"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
	Details     []string                      `json:"details,omitempty"`
}

// Healthz reports liveness. It never probes dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	var report services.SystemHealthReport
	if h.system != nil {
		report = h.system.Liveness(r.Context())
	} else {
		now := h.clock().UTC()
		report = services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Version:     h.build.Version,
			CommitSHA:   h.build.CommitSHA,
			Environment: h.build.Environment,
			Uptime:      now.Sub(h.startedAt),
			GeneratedAt: now,
		}
	}
	httpx.WriteJSON(w, http.StatusOK, h.buildPayload(report))
}

// Readyz probes dependencies and answers 503 unless every check is ok.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		h.Healthz(w, r)
		return
	}
	report, err := h.system.HealthReport(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_check_failed", err.Error(), http.StatusServiceUnavailable))
		return
	}
	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, h.buildPayload(report))
}

func (h *HealthHandlers) buildPayload(report services.SystemHealthReport) healthPayload {
	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = h.clock()
	}
	payload := healthPayload{
		Status:      report.Status,
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Uptime:      report.Uptime.Round(time.Second).String(),
		Timestamp:   generated.UTC().Format(time.RFC3339),
	}
	if payload.Status == "" {
		payload.Status = domain.HealthStatusOK
	}
	if len(report.Checks) == 0 {
		return payload
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	payload.Checks = make(map[string]healthCheckPayload, len(names))
	for _, name := range names {
		check := report.Checks[name]
		payload.Checks[name] = healthCheckPayload{
			Status:    check.Status,
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		}
		if check.Status != domain.HealthStatusOK && check.Error != "" {
			payload.Details = append(payload.Details, name+": "+check.Error)
		}
	}
	return payload
}
