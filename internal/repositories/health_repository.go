package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/groupdine/api/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck is one readiness probe. Check returning an error marks the dependency down;
// that fails readiness only when Critical is set.
type DependencyCheck struct {
	Name     string
	Timeout  time.Duration
	Critical bool
	Check    func(context.Context) error
}

// DependencyHealthOption customises NewDependencyHealthRepository.
type DependencyHealthOption func(*dependencyHealth)

// WithDependencyTimeout sets the timeout for checks that do not carry their own.
func WithDependencyTimeout(timeout time.Duration) DependencyHealthOption {
	return func(h *dependencyHealth) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithDependencyClock injects the clock.
func WithDependencyClock(clock func() time.Time) DependencyHealthOption {
	return func(h *dependencyHealth) {
		if clock != nil {
			h.now = clock
		}
	}
}

type dependencyHealth struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*dependencyHealth)(nil)

// NewDependencyHealthRepository returns a HealthRepository that runs every check concurrently
// on each Collect.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...DependencyHealthOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks")
	}
	names := make(map[string]bool, len(checks))
	normalised := make([]DependencyCheck, 0, len(checks))
	for _, check := range checks {
		check.Name = strings.TrimSpace(check.Name)
		switch {
		case check.Name == "":
			return nil, errors.New("health: dependency check without a name")
		case check.Check == nil:
			return nil, fmt.Errorf("health: dependency %q has no check", check.Name)
		case names[check.Name]:
			return nil, fmt.Errorf("health: dependency %q registered twice", check.Name)
		}
		names[check.Name] = true
		normalised = append(normalised, check)
	}

	h := &dependencyHealth{checks: normalised, timeout: defaultProbeTimeout, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

func (h *dependencyHealth) Collect(ctx context.Context) (domain.HealthReport, error) {
	probes := make([]domain.DependencyProbe, len(h.checks))
	var group errgroup.Group
	for i, check := range h.checks {
		group.Go(func() error {
			probes[i] = h.probe(ctx, check)
			return nil
		})
	}
	_ = group.Wait()

	report := domain.HealthReport{GeneratedAt: h.now()}
	for _, probe := range probes {
		report.Add(probe)
	}
	return report, nil
}

func (h *dependencyHealth) probe(ctx context.Context, check DependencyCheck) domain.DependencyProbe {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = h.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := h.now()
	err := check.Check(ctx)
	if err == nil {
		err = ctx.Err()
	}
	finished := h.now()

	probe := domain.DependencyProbe{
		Name:      check.Name,
		State:     domain.HealthOK,
		Critical:  check.Critical,
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err != nil {
		probe.State = domain.HealthDown
		probe.Detail = probeFailure(err)
	}
	return probe
}

func probeFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}
