package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/groupdine/api/internal/domain"
)

func pass(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func TestDependencyHealthGrading(t *testing.T) {
	cases := []struct {
		name   string
		checks []DependencyCheck
		want   domain.HealthState
		failed map[string]string
	}{
		{
			name: "all healthy",
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Check: pass},
				{Name: "redis", Check: pass},
			},
			want: domain.HealthOK,
		},
		{
			name: "optional dependency down",
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Check: pass},
				{Name: "pubsub", Check: failWith("topic missing")},
			},
			want:   domain.HealthDegraded,
			failed: map[string]string{"pubsub": "topic missing"},
		},
		{
			name: "critical dependency down",
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Check: failWith("unavailable")},
				{Name: "redis", Check: failWith("refused")},
			},
			want:   domain.HealthDown,
			failed: map[string]string{"firestore": "unavailable", "redis": "refused"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			now := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
			repo, err := NewDependencyHealthRepository(tc.checks, WithDependencyClock(func() time.Time { return now }))
			if err != nil {
				t.Fatalf("NewDependencyHealthRepository: %v", err)
			}
			report, err := repo.Collect(context.Background())
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if report.State != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.State)
			}
			if len(report.Probes) != len(tc.checks) || !report.GeneratedAt.Equal(now) {
				t.Fatalf("unexpected report %+v", report)
			}
			if report.Probes[0].Name > report.Probes[len(report.Probes)-1].Name {
				t.Fatalf("expected probes sorted by name, got %+v", report.Probes)
			}
			failing := report.Failing()
			if len(failing) != len(tc.failed) {
				t.Fatalf("expected %d failing probes, got %+v", len(tc.failed), failing)
			}
			for _, probe := range failing {
				if probe.State != domain.HealthDown || probe.Detail != tc.failed[probe.Name] {
					t.Fatalf("unexpected failing probe %+v", probe)
				}
			}
		})
	}
}

func TestDependencyHealthTimeout(t *testing.T) {
	slow := func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Critical: true, Timeout: 5 * time.Millisecond, Check: slow},
		{Name: "redis", Check: slow},
	}, WithDependencyTimeout(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.State != domain.HealthDown {
		t.Fatalf("expected error state, got %s", report.State)
	}
	for _, probe := range report.Probes {
		if probe.Detail != "timeout" {
			t.Fatalf("expected %s to time out, got %q", probe.Name, probe.Detail)
		}
	}
}

func TestNewDependencyHealthRepositoryRejectsBadChecks(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"no name":   {{Name: " ", Check: pass}},
		"no func":   {{Name: "firestore"}},
		"duplicate": {{Name: "redis", Check: pass}, {Name: " redis", Check: pass}},
	}
	for name, checks := range cases {
		if _, err := NewDependencyHealthRepository(checks); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
