// Command api serves the GroupDine team cart API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/groupdine/api/internal/di"
	"github.com/groupdine/api/internal/platform/auth"
	"github.com/groupdine/api/internal/platform/config"
	"github.com/groupdine/api/internal/platform/observability"
	"github.com/groupdine/api/internal/repositories"
	firestoreRepo "github.com/groupdine/api/internal/repositories/firestore"
)

const (
	meterName     = "github.com/groupdine/api"
	drainTimeout  = 10 * time.Second
	releaseBudget = 5 * time.Second
)

func main() {
	logger, err := observability.NewLogger(observability.WithLogLevel(os.Getenv("LOG_LEVEL")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "groupdine api: build logger: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, logger.Named("api"))
	stop()
	if err != nil {
		logger.Error("groupdine api stopped", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run wires the process and blocks until ctx is cancelled or the server fails. Resources are
// released in reverse order of acquisition on the way out.
func run(ctx context.Context, logger *zap.Logger) error {
	started := time.Now().UTC()
	ctx = observability.WithLogger(ctx, logger)

	var res resources
	defer res.release(logger)

	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	meter := otel.Meter(meterName)

	fetcher, err := newSecretFetcher(ctx, logger, env, meter)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	res.add("secret fetcher", func(context.Context) error { return fetcher.Close() })

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(env)...),
	)
	if missing := (*config.MissingSecretsError)(nil); errors.As(err, &missing) {
		return fmt.Errorf("missing required secrets %v", missing.RedactedNames())
	}
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	infra, err := dial(ctx, logger, cfg, &res)
	if err != nil {
		return err
	}
	infra.checks = append(infra.checks, repositories.DependencyCheck{Name: "secretManager", Timeout: time.Second, Check: fetcher.Ping})

	health, err := repositories.NewDependencyHealthRepository(infra.checks)
	if err != nil {
		return fmt.Errorf("health checks: %w", err)
	}
	registry, err := firestoreRepo.NewRegistry(infra.firestore, health)
	if err != nil {
		return fmt.Errorf("repositories: %w", err)
	}
	psp, err := newPaymentManager(cfg, logger)
	if err != nil {
		return err
	}

	build := buildInfoFromEnv(env, cfg, started)
	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		Payments: psp,
		Parser:   psp,
		Inbox:    infra.inbox,
		Events:   infra.events,
		Meter:    meter,
		Build:    build,
		Clock:    time.Now,
		Logger: func(component string) di.Logger {
			return observability.ServiceLogger(logger, component)
		},
	})
	if err != nil {
		return fmt.Errorf("services: %w", err)
	}

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return fmt.Errorf("firebase verifier: %w", err)
	}
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(logger, cfg, container, auth.NewAuthenticator(verifier, auth.WithUserGetter(verifier)), infra.idempotency, build, meter),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("groupdine api listening", zap.String("addr", server.Addr), zap.String("version", build.Version))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("draining requests")
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), drainTimeout)
		defer cancel()
		return server.Shutdown(drainCtx)
	})
	for _, job := range backgroundJobs(cfg, container, infra.idempotency) {
		g.Go(func() error {
			job.loop(gctx, logger.Named(job.name))
			return nil
		})
	}
	return g.Wait()
}
