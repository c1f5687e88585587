package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/freshmarket/api/internal/platform/httpx"
)

const (
	errorNotFoundCode         = "route_not_found"
	errorMethodNotAllowedCode = "method_not_allowed"
	errorNotImplementedCode   = "not_implemented"
)

// RouteRegistrar attaches a handler group onto a chi sub-router.
type RouteRegistrar interface {
	Routes(r chi.Router)
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	orders      RouteRegistrar
	products    RouteRegistrar
	admin       RouteRegistrar
}

// Option customises router construction.
type Option func(*routerConfig)

// WithMiddlewares replaces the default middleware chain.
func WithMiddlewares(middlewares ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = middlewares
	}
}

// WithBasePath overrides the versioned API prefix.
func WithBasePath(basePath string) Option {
	return func(cfg *routerConfig) {
		if basePath != "" {
			cfg.basePath = basePath
		}
	}
}

// WithHealthHandlers wires liveness and readiness endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithOrderRoutes mounts the buyer-facing order endpoints.
func WithOrderRoutes(r RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.orders = r
	}
}

// WithProductRoutes mounts the public catalog endpoints.
func WithProductRoutes(r RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.products = r
	}
}

// WithAdminRoutes mounts the staff order management endpoints.
func WithAdminRoutes(r RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.admin = r
	}
}

// NewRouter constructs the chi router with shared middleware and the expected
// route groups. Groups without a registrar answer 501 so the surface stays
// discoverable while features roll out.
func NewRouter(opts ...Option) http.Handler {
	cfg := &routerConfig{
		basePath: "/api/v1",
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(60 * time.Second),
		},
		health: NewHealthHandlers(nil),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorMethodNotAllowedCode, fmt.Sprintf("method %s not allowed", req.Method), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		mount(api, "/orders", cfg.orders)
		mount(api, "/products", cfg.products)
		mount(api, "/admin/orders", cfg.admin)
	})

	return r
}

func mount(api chi.Router, pattern string, registrar RouteRegistrar) {
	if registrar == nil {
		registerNotImplemented(api, pattern)
		return
	}
	api.Route(pattern, registrar.Routes)
}

func registerNotImplemented(api chi.Router, pattern string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotImplementedCode, fmt.Sprintf("%s is not available yet", pattern), http.StatusNotImplemented))
	}
	api.HandleFunc(pattern, handler)
	api.HandleFunc(pattern+"/*", handler)
}
