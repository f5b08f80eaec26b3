package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/groupdine/api/internal/di"
	"github.com/groupdine/api/internal/platform/config"
	"github.com/groupdine/api/internal/platform/idempotency"
)

const jobRunTimeout = time.Minute

// periodicJob is in-process housekeeping. On Cloud Run the sweep is also triggered by Cloud
// Scheduler through the internal route; both paths are safe to run together.
type periodicJob struct {
	name  string
	every time.Duration
	run   func(ctx context.Context) (int, error)
}

func backgroundJobs(cfg config.Config, container *di.Container, store idempotency.Store) []periodicJob {
	var out []periodicJob
	if system := container.Services.System; system != nil && cfg.TeamCart.SweepInterval > 0 {
		out = append(out, periodicJob{
			name:  "sweeper",
			every: cfg.TeamCart.SweepInterval,
			run: func(ctx context.Context) (int, error) {
				summary, err := system.RunExpirationSweep(ctx)
				return summary.Expired, err
			},
		})
	}
	if cfg.Idempotency.CleanupInterval > 0 {
		out = append(out, periodicJob{
			name:  "idempotency_cleanup",
			every: cfg.Idempotency.CleanupInterval,
			run: func(ctx context.Context) (int, error) {
				return store.CleanupExpired(ctx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
			},
		})
	}
	return out
}

// loop runs the job on every tick until ctx ends. Each run is bounded by jobRunTimeout.
func (j periodicJob) loop(ctx context.Context, logger *zap.Logger) {
	ticker := time.NewTicker(j.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		runCtx, cancel := context.WithTimeout(ctx, jobRunTimeout)
		n, err := j.run(runCtx)
		cancel()
		switch {
		case err != nil:
			logger.Error("background job failed", zap.String("job", j.name), zap.Error(err))
		case n > 0:
			logger.Info("background job done", zap.String("job", j.name), zap.Int("affected", n))
		}
	}
}
