package main

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/groupdine/api/internal/di"
	"github.com/groupdine/api/internal/handlers"
	"github.com/groupdine/api/internal/platform/auth"
	"github.com/groupdine/api/internal/platform/config"
	"github.com/groupdine/api/internal/platform/idempotency"
	"github.com/groupdine/api/internal/platform/observability"
	"github.com/groupdine/api/internal/services"
)

func newRouter(logger *zap.Logger, cfg config.Config, c *di.Container, authn *auth.Authenticator, store idempotency.Store, build services.BuildInfo, meter metric.Meter) http.Handler {
	httpLogger := logger.Named("http")
	project := traceProjectID(cfg)

	replay := idempotency.Middleware(store,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(observability.ServiceLogger(logger, "idempotency")),
	)
	carts := handlers.NewTeamCartHandlers(authn, c.Services.TeamCarts,
		handlers.NewRateLimitMiddleware(cfg.RateLimits.AuthenticatedPerMinute, handlers.IdentityKey),
		replay,
	)
	webhooks := handlers.NewPaymentWebhookHandlers(c.Services.Webhooks)
	internal := handlers.NewInternalJobHandlers(c.Services.System, c.Services.Expiration)

	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(project),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(project),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(build),
			handlers.WithHealthSystemService(c.Services.System),
		)),
		handlers.WithTeamCartRoutes(carts.Routes),
		handlers.WithWebhookRoutes(webhooks.Routes),
		handlers.WithWebhookMiddlewares(handlers.NewRateLimitMiddleware(cfg.RateLimits.WebhookPerMinute, handlers.ClientIPKey)),
		handlers.WithInternalRoutes(internal.Routes),
	}
	if oidc := oidcMiddleware(logger.Named("auth"), cfg.Security.OIDC, meter); oidc != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidc))
	} else {
		logger.Warn("OIDC not configured; internal routes are unauthenticated")
	}
	return handlers.NewRouter(opts...)
}

// oidcMiddleware guards the internal routes with Google-signed service tokens. It returns nil
// when no JWKS endpoint is configured.
func oidcMiddleware(logger *zap.Logger, cfg config.OIDCConfig, meter metric.Meter) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.JWKSURL) == "" {
		return nil
	}
	printf := observability.NewPrintfAdapter(logger)
	validator := auth.NewOIDCValidator(
		auth.NewKeySet(cfg.JWKSURL, auth.WithKeySetLogger(printf)),
		auth.WithOIDCLogger(printf),
		auth.WithOIDCServiceAccounts(cfg.ServiceAccounts...),
		auth.WithOIDCMeter(meter),
	)
	if len(cfg.ServiceAccounts) == 0 {
		logger.Warn("OIDC service account allowlist empty; any verified Google token for the audience is accepted")
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		logger.Warn("OIDC audience not configured; internal routes will refuse every request")
	}
	return validator.RequireOIDC(cfg.Audience, cfg.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
