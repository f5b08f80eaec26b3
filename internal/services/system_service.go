package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/repositories"
)

const sweeperProbe = "teamcart_sweeper"

// staleSweepFactor is how many missed intervals mark the sweeper degraded.
const staleSweepFactor = 3

var errSweeperNotConfigured = errors.New("system service: expiration sweeper not configured")

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SweepSummary reports one expiration sweep.
type SweepSummary struct {
	Expired   int
	StartedAt time.Time
	Duration  time.Duration
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Expiration       TeamCartExpirationService
	Clock            func() time.Time
	Build            BuildInfo
	// SweepInterval is the expected sweep cadence. Zero disables the staleness check.
	SweepInterval time.Duration
	Logger        func(context.Context, string, map[string]any)
}

type systemService struct {
	health        repositories.HealthRepository
	expiration    TeamCartExpirationService
	now           func() time.Time
	startedAt     time.Time
	sweepInterval time.Duration
	logger        func(context.Context, string, map[string]any)

	mu        sync.Mutex
	lastSweep SweepSummary
	lastErr   error
}

var _ SystemService = (*systemService)(nil)

// NewSystemService builds the service behind /readyz and the internal sweep trigger.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	startedAt := deps.Build.StartedAt
	if startedAt.IsZero() {
		startedAt = clock()
	}
	return &systemService{
		health:        deps.HealthRepository,
		expiration:    deps.Expiration,
		now:           func() time.Time { return clock().UTC() },
		startedAt:     startedAt.UTC(),
		sweepInterval: deps.SweepInterval,
		logger:        logger,
	}, nil
}

// Readiness probes the dependencies and adds the sweeper as an optional dependency.
func (s *systemService) Readiness(ctx context.Context) (HealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return HealthReport{}, fmt.Errorf("system service: collect health: %w", err)
	}
	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.Uptime = now.Sub(s.startedAt)
	if s.expiration != nil {
		report.Add(s.sweeperProbe(now))
	}
	return report, nil
}

// RunExpirationSweep runs one sweep and remembers its outcome for Readiness.
func (s *systemService) RunExpirationSweep(ctx context.Context) (SweepSummary, error) {
	if s.expiration == nil {
		return SweepSummary{}, errSweeperNotConfigured
	}
	started := s.now()
	expired, err := s.expiration.Sweep(ctx)
	summary := SweepSummary{Expired: expired, StartedAt: started, Duration: s.now().Sub(started)}

	s.mu.Lock()
	s.lastSweep, s.lastErr = summary, err
	s.mu.Unlock()

	if err != nil {
		s.logger(ctx, "system.sweep_failed", map[string]any{"error": err.Error(), "expired": expired})
	}
	return summary, err
}

func (s *systemService) sweeperProbe(now time.Time) domain.DependencyProbe {
	s.mu.Lock()
	last, lastErr := s.lastSweep, s.lastErr
	s.mu.Unlock()

	probe := domain.DependencyProbe{Name: sweeperProbe, State: domain.HealthOK, CheckedAt: now}
	switch {
	case last.StartedAt.IsZero():
		probe.Detail = "no sweep yet"
	case lastErr != nil:
		probe.State = domain.HealthDegraded
		probe.Detail = lastErr.Error()
	case s.sweepInterval > 0 && now.Sub(last.StartedAt) > staleSweepFactor*s.sweepInterval:
		probe.State = domain.HealthDegraded
		probe.Detail = "last sweep " + last.StartedAt.Format(time.RFC3339)
	default:
		probe.Latency = last.Duration
		probe.Detail = fmt.Sprintf("expired %d", last.Expired)
	}
	return probe
}
