package domain

import (
	"slices"
	"strings"
	"time"
)

// HealthState grades one dependency or the service as a whole.
type HealthState string

const (
	HealthOK       HealthState = "ok"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "error"
)

func (s HealthState) severity() int {
	switch s {
	case HealthOK, "":
		return 0
	case HealthDegraded:
		return 1
	default:
		return 2
	}
}

// Worse returns the more severe of the two states.
func (s HealthState) Worse(other HealthState) HealthState {
	if other.severity() > s.severity() {
		return other
	}
	if s == "" {
		return HealthOK
	}
	return s
}

// DependencyProbe is the result of checking one dependency.
type DependencyProbe struct {
	Name      string
	State     HealthState
	Critical  bool
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// Impact is what the probe contributes to the overall state: an optional dependency that is
// down only degrades the service.
func (p DependencyProbe) Impact() HealthState {
	if p.State == HealthDown && !p.Critical {
		return HealthDegraded
	}
	return p.State.Worse(HealthOK)
}

// HealthReport is the readiness view of the service.
type HealthReport struct {
	State       HealthState
	Probes      []DependencyProbe
	Uptime      time.Duration
	GeneratedAt time.Time
}

// Add records a probe, replacing any earlier probe with the same name, and recomputes State.
func (r *HealthReport) Add(probe DependencyProbe) {
	r.Probes = slices.DeleteFunc(r.Probes, func(p DependencyProbe) bool { return p.Name == probe.Name })
	r.Probes = append(r.Probes, probe)
	slices.SortFunc(r.Probes, func(a, b DependencyProbe) int { return strings.Compare(a.Name, b.Name) })

	state := HealthOK
	for _, p := range r.Probes {
		state = state.Worse(p.Impact())
	}
	r.State = state
}

// Failing lists the probes that are not ok.
func (r HealthReport) Failing() []DependencyProbe {
	var out []DependencyProbe
	for _, p := range r.Probes {
		if p.State != HealthOK {
			out = append(out, p)
		}
	}
	return out
}
