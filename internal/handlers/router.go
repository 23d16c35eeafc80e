package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/doxvl/legalization-api/internal/platform/httpx"
)

// RouteRegistrar registers one route group on a sub-router.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

// routeGroup is a sub-tree of /api. Groups without a registrar are not mounted and answer 404.
type routeGroup struct {
	registrar   RouteRegistrar
	middlewares []middlewareFunc
}

const (
	apiPrefix      = "/api"
	requestTimeout = 30 * time.Second
)

// groupOrder fixes the mount order so route conflicts resolve the same way on every start.
var groupOrder = []string{"/confirmation", "/orders", "/pricing", "/admin", "/internal"}

type routerConfig struct {
	middlewares []middlewareFunc
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

func (c *routerConfig) group(path string) *routeGroup {
	g, ok := c.groups[path]
	if !ok {
		g = &routeGroup{}
		c.groups[path] = g
	}
	return g
}

// Option customises the router before construction.
type Option func(*routerConfig)

// NewRouter builds the HTTP surface: /healthz and /readyz at the root and the route groups under /api.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{
		middlewares: []middlewareFunc{middleware.RequestID, middleware.CleanPath, middleware.Timeout(requestTimeout)},
		groups:      make(map[string]*routeGroup, len(groupOrder)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
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
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no such route", http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", "method "+req.Method+" not allowed", http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, path := range groupOrder {
			g, ok := cfg.groups[path]
			if !ok || g.registrar == nil {
				continue
			}
			api.Route(path, func(sub chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				g.registrar(sub)
			})
		}
	})
	return r
}

// WithMiddlewares appends middleware applied to every request.
func WithMiddlewares(mw ...middlewareFunc) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithHealthHandlers overrides the probe handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

func withGroup(path string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.group(path).registrar = reg }
}

// WithConfirmationRoutes mounts the public token pages under /api/confirmation.
func WithConfirmationRoutes(reg RouteRegistrar) Option { return withGroup("/confirmation", reg) }

// WithOrderRoutes mounts /api/orders.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup("/orders", reg) }

// WithPricingRoutes mounts /api/pricing.
func WithPricingRoutes(reg RouteRegistrar) Option { return withGroup("/pricing", reg) }

// WithAdminRoutes mounts the staff endpoints under /api/admin.
func WithAdminRoutes(reg RouteRegistrar) Option { return withGroup("/admin", reg) }

// WithInternalRoutes mounts the service-to-service endpoints under /api/internal.
func WithInternalRoutes(reg RouteRegistrar) Option { return withGroup("/internal", reg) }

// WithInternalMiddlewares wraps the /api/internal group, typically with OIDC and idempotency.
func WithInternalMiddlewares(mw ...middlewareFunc) Option {
	return func(cfg *routerConfig) {
		g := cfg.group("/internal")
		g.middlewares = append(g.middlewares, mw...)
	}
}
