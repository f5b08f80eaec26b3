package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/groupdine/api/internal/domain"
	"github.com/groupdine/api/internal/repositories"
)

const (
	sweeperMetricNamespace   = "github.com/groupdine/api/internal/services"
	defaultSweeperBatchSize  = 100
	maxSweeperBatchSize      = 500
	sweeperOutcomeExpired    = "expired"
	sweeperOutcomeConflict   = "conflict"
	sweeperOutcomeFailed     = "failed"
	sweeperOutcomeNotOverdue = "not_overdue"
)

var (
	errExpirationRepositoryRequired = errors.New("team cart expiration: repository is required")
	errExpirationClockRequired      = errors.New("team cart expiration: clock is required")
)

// TeamCartExpirationServiceDeps wires the expiration sweeper.
type TeamCartExpirationServiceDeps struct {
	Repository repositories.TeamCartRepository
	Events     TeamCartEventPublisher
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
	BatchSize  int
	Meter      metric.Meter
}

type teamCartExpirationService struct {
	repo      repositories.TeamCartRepository
	events    TeamCartEventPublisher
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
	batchSize int
	processed metric.Int64Counter
}

var _ TeamCartExpirationService = (*teamCartExpirationService)(nil)

// NewTeamCartExpirationService constructs the sweeper.
func NewTeamCartExpirationService(deps TeamCartExpirationServiceDeps) (TeamCartExpirationService, error) {
	if deps.Repository == nil {
		return nil, errExpirationRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errExpirationClockRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultSweeperBatchSize
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(sweeperMetricNamespace)
	}
	processed, err := meter.Int64Counter(
		"teamcart.sweeper.processed",
		metric.WithDescription("Team carts visited by the expiration sweeper, by outcome"),
	)
	if err != nil {
		logger(context.Background(), "teamcart.sweeper.metric_unavailable", map[string]any{"error": err.Error()})
		processed = nil
	}

	return &teamCartExpirationService{
		repo:      deps.Repository,
		events:    deps.Events,
		now:       func() time.Time { return deps.Clock().UTC() },
		logger:    logger,
		batchSize: batch,
		processed: processed,
	}, nil
}

// Sweep expires every overdue cart in one batch using the current time as cutoff.
func (s *teamCartExpirationService) Sweep(ctx context.Context) (int, error) {
	return s.ExpireOverdue(ctx, s.now(), s.batchSize)
}

// ExpireOverdue expires up to batchSize carts whose deadline is at or before cutoff. Each cart is
// written under its own revision check; carts that changed concurrently are skipped until the
// next round and other per-cart failures are logged without aborting the batch.
func (s *teamCartExpirationService) ExpireOverdue(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}
	if batchSize > maxSweeperBatchSize {
		batchSize = maxSweeperBatchSize
	}
	cutoff = cutoff.UTC()

	carts, err := s.repo.ListExpirable(ctx, cutoff, batchSize)
	if err != nil {
		return 0, translateRepoError(err)
	}

	expired := 0
	for _, cart := range carts {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		outcome := s.expireOne(ctx, cart, cutoff)
		s.record(ctx, outcome)
		if outcome == sweeperOutcomeExpired {
			expired++
		}
	}

	if len(carts) > 0 {
		s.logger(ctx, "teamcart.sweeper.completed", map[string]any{
			"cutoff":   cutoff,
			"visited":  len(carts),
			"expired":  expired,
			"batchCap": batchSize,
		})
	}
	return expired, nil
}

func (s *teamCartExpirationService) expireOne(ctx context.Context, cart TeamCart, cutoff time.Time) string {
	expected := cart.Revision
	events, err := cart.Expire(cutoff, s.now())
	if err != nil {
		if errors.Is(err, domain.ErrCartNotExpirable) || errors.Is(err, domain.ErrInvalidStatus) {
			return sweeperOutcomeNotOverdue
		}
		s.logger(ctx, "teamcart.sweeper.expire_failed", map[string]any{"cartId": cart.ID, "error": err.Error()})
		return sweeperOutcomeFailed
	}

	if _, err := s.repo.Update(ctx, cart, expected); err != nil {
		if isRepoConflict(err) {
			s.logger(ctx, "teamcart.sweeper.conflict", map[string]any{"cartId": cart.ID, "revision": expected})
			return sweeperOutcomeConflict
		}
		s.logger(ctx, "teamcart.sweeper.expire_failed", map[string]any{"cartId": cart.ID, "error": err.Error()})
		return sweeperOutcomeFailed
	}

	s.logger(ctx, "teamcart.expired", map[string]any{
		"cartId":    cart.ID,
		"expiresAt": cart.ExpiresAt,
	})
	publishEvents(ctx, s.events, s.logger, events)
	return sweeperOutcomeExpired
}

func (s *teamCartExpirationService) record(ctx context.Context, outcome string) {
	if s.processed == nil {
		return
	}
	s.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
