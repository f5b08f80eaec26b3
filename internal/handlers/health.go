package handlers

import (
	"context"
	"net/http"
	"time"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/services"
)

const readinessTimeout = 5 * time.Second

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	build  services.BuildInfo
	system services.SystemService
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) { h.build = info }
}

// WithHealthSystemService enables dependency probing on /readyz. Without it /readyz behaves
// like /healthz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) { h.system = svc }
}

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type dependencyPayload struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Critical  bool   `json:"critical"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	CheckedAt string `json:"checked_at,omitempty"`
}

type healthResponse struct {
	Status        string              `json:"status"`
	Version       string              `json:"version,omitempty"`
	Commit        string              `json:"commit,omitempty"`
	Environment   string              `json:"environment,omitempty"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Time          string              `json:"time"`
	Dependencies  []dependencyPayload `json:"dependencies,omitempty"`
	Error         string              `json:"error,omitempty"`
}

func (h *HealthHandlers) response(state domain.HealthState, now time.Time, uptime time.Duration) healthResponse {
	return healthResponse{
		Status:        string(state),
		Version:       h.build.Version,
		Commit:        h.build.CommitSHA,
		Environment:   h.build.Environment,
		UptimeSeconds: int64(uptime / time.Second),
		Time:          formatTime(now),
	}
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock()
	writeJSONResponse(w, http.StatusOK, h.response(domain.HealthOK, now, now.Sub(h.build.StartedAt)))
}

// Readyz answers 503 only when a critical dependency is down or probing itself failed; a
// degraded report keeps the instance in rotation.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		h.Healthz(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	now := h.clock()
	report, err := h.system.Readiness(ctx)
	if err != nil {
		body := h.response(domain.HealthDown, now, now.Sub(h.build.StartedAt))
		body.Error = err.Error()
		writeJSONResponse(w, http.StatusServiceUnavailable, body)
		return
	}

	if !report.GeneratedAt.IsZero() {
		now = report.GeneratedAt
	}
	body := h.response(report.State.Worse(domain.HealthOK), now, report.Uptime)
	for _, probe := range report.Probes {
		body.Dependencies = append(body.Dependencies, dependencyPayload{
			Name:      probe.Name,
			Status:    string(probe.State),
			Critical:  probe.Critical,
			Detail:    probe.Detail,
			LatencyMS: probe.Latency.Milliseconds(),
			CheckedAt: formatTime(probe.CheckedAt),
		})
	}

	status := http.StatusOK
	if report.State == domain.HealthDown {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, body)
}
