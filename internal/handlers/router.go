package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/groupdine/api/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar mounts one route group.
type RouteRegistrar func(r chi.Router)

type routeGroup struct {
	path        string
	register    RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	teamCarts   routeGroup
	webhooks    routeGroup
	internal    routeGroup
}

// Option customises NewRouter.
type Option func(*routerConfig)

// NewRouter builds the HTTP surface: probes at the root and the team cart, webhook and internal
// groups under /api/v1. A group without a registrar answers 501 for every path.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		teamCarts: routeGroup{path: "/team-carts"},
		webhooks:  routeGroup{path: "/webhooks"},
		internal:  routeGroup{path: "/internal"},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, group := range []routeGroup{cfg.teamCarts, cfg.webhooks, cfg.internal} {
			api.Route(group.path, group.mount)
		}
	})
	return r
}

func (g routeGroup) mount(r chi.Router) {
	for _, mw := range g.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	if g.register != nil {
		g.register(r)
		return
	}
	unavailable := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", g.path+" is not enabled on this server", http.StatusNotImplemented))
	}
	r.HandleFunc("/", unavailable)
	r.HandleFunc("/*", unavailable)
}

// WithMiddlewares appends router-wide middleware after the chi defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

func WithTeamCartRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.teamCarts.register = reg }
}

func WithTeamCartMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.teamCarts.middlewares = append(cfg.teamCarts.middlewares, mw...) }
}

func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.webhooks.register = reg }
}

// WithWebhookMiddlewares applies middleware to /webhooks only, such as the per-IP limiter.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.webhooks.middlewares = append(cfg.webhooks.middlewares, mw...) }
}

func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.internal.register = reg }
}

// WithInternalMiddlewares applies middleware to /internal only. main installs OIDC here.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.internal.middlewares = append(cfg.internal.middlewares, mw...) }
}
