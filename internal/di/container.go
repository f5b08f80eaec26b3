package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/groupdine/api/internal/platform/config"
	"github.com/groupdine/api/internal/repositories"
	"github.com/groupdine/api/internal/services"
)

// Logger is the structured logger shape handed to every service.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Services bundles the service-layer contracts that handlers and background loops rely upon.
type Services struct {
	Financial  services.OrderFinancialService
	Conversion *services.TeamCartConversion
	TeamCarts  services.TeamCartService
	Webhooks   services.PaymentWebhookService
	Expiration services.TeamCartExpirationService
	System     services.SystemService
}

// Infrastructure carries the adapters built by the entrypoint. Nil members disable the features
// that depend on them: without Payments online payment is rejected, without Parser or Inbox the
// webhook service is not built, without Events domain events are dropped after commit.
type Infrastructure struct {
	Payments services.PaymentGateway
	Parser   services.WebhookParser
	Inbox    services.WebhookInbox
	Events   services.TeamCartEventPublisher
	Meter    metric.Meter
	Build    services.BuildInfo
	Clock    func() time.Time
	// Logger returns a logger for the named component. Nil silences services.
	Logger func(component string) Logger
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production passes the Firestore registry;
// tests and local runs can pass the in-memory store.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := func(component string) func(context.Context, string, map[string]any) {
		if infra.Logger == nil {
			return nil
		}
		return infra.Logger(component)
	}

	financial, err := services.NewOrderFinancialService(services.OrderFinancialServiceDeps{
		DefaultCurrency: cfg.TeamCart.DefaultCurrency,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build financial service: %w", err)
	}
	svc.Financial = financial

	conversion, err := services.NewTeamCartConversion(services.TeamCartConversionDeps{
		Financial:              financial,
		Tolerance:              cfg.TeamCart.ReconciliationTolerance,
		MaxAdjustmentDeviation: cfg.TeamCart.MaxAdjustmentDeviation,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build conversion engine: %w", err)
	}
	svc.Conversion = conversion

	teamCarts, err := services.NewTeamCartService(services.TeamCartServiceDeps{
		Repository:  reg.TeamCarts(),
		Coupons:     reg.Coupons(),
		CouponUsage: reg.CouponUsage(),
		Menu:        reg.Menu(),
		Financial:   financial,
		Conversion:  conversion,
		Payments:    infra.Payments,
		Events:      infra.Events,
		Settings: services.TeamCartSettings{
			DefaultCurrency: cfg.TeamCart.DefaultCurrency,
			TTL:             cfg.TeamCart.TTL,
			DeliveryFee:     cfg.TeamCart.DeliveryFee,
			TaxRate:         cfg.TeamCart.TaxRate,
			MaxMembers:      cfg.TeamCart.MaxMembers,
		},
		Clock:  clock,
		Logger: logger("teamcart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build team cart service: %w", err)
	}
	svc.TeamCarts = teamCarts

	if infra.Parser != nil && infra.Inbox != nil {
		webhooks, err := services.NewPaymentWebhookService(services.PaymentWebhookServiceDeps{
			Repository: reg.TeamCarts(),
			Parser:     infra.Parser,
			Inbox:      infra.Inbox,
			Events:     infra.Events,
			Clock:      clock,
			Logger:     logger("webhooks"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build payment webhook service: %w", err)
		}
		svc.Webhooks = webhooks
	}

	expiration, err := services.NewTeamCartExpirationService(services.TeamCartExpirationServiceDeps{
		Repository: reg.TeamCarts(),
		Events:     infra.Events,
		Clock:      clock,
		Logger:     logger("sweeper"),
		BatchSize:  cfg.TeamCart.SweepBatchSize,
		Meter:      infra.Meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build expiration service: %w", err)
	}
	svc.Expiration = expiration

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Expiration:       expiration,
			Clock:            clock,
			Build:            build,
			SweepInterval:    cfg.TeamCart.SweepInterval,
			Logger:           logger("system"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
