package api

import (
	"net/http"

	"linqyard/internal/auth"
	"linqyard/internal/models"
	"linqyard/internal/ratelimit"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// Route names. Rate limit rules bind policies to these.
const (
	RouteHealth           = "health"
	RouteLinksList        = "links.list"
	RouteLinksCreate      = "links.create"
	RouteLinksResequence  = "links.resequence"
	RouteLinksUpdate      = "links.update"
	RouteLinksDelete      = "links.delete"
	RouteGroupsList       = "groups.list"
	RouteGroupsCreate     = "groups.create"
	RouteGroupsResequence = "groups.resequence"
	RouteGroupsDelete     = "groups.delete"
	RouteBotChat          = "bot.chat"
)

// RouteNames lists every named route, used to validate rate limit rules.
var RouteNames = []string{
	RouteHealth,
	RouteLinksList, RouteLinksCreate, RouteLinksResequence, RouteLinksUpdate, RouteLinksDelete,
	RouteGroupsList, RouteGroupsCreate, RouteGroupsResequence, RouteGroupsDelete,
	RouteBotChat,
}

type routeConfig struct {
	otelService string
	verifier    *auth.Verifier
	rateLimiter *ratelimit.Middleware
}

// RouteOption configures optional route behavior.
type RouteOption func(*routeConfig)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(c *routeConfig) {
		c.otelService = serviceName
	}
}

// WithAuth verifies bearer tokens on every route. Without it every
// authenticated route answers 401.
func WithAuth(v *auth.Verifier) RouteOption {
	return func(c *routeConfig) {
		c.verifier = v
	}
}

// WithRateLimiter enforces the configured policies on named routes.
func WithRateLimiter(m *ratelimit.Middleware) RouteOption {
	return func(c *routeConfig) {
		c.rateLimiter = m
	}
}

// SetupRoutes configures the HTTP routes for the API.
//
// Middleware runs in this order: recovery, logging, CORS, tracing, optional
// authentication, rate limiting, then RequireAuth on the owner-scoped subrouters.
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	var rc routeConfig
	for _, opt := range opts {
		opt(&rc)
	}

	router := mux.NewRouter()

	router.Use(recoveryMiddleware)
	router.Use(loggingMiddleware)
	if config.Server.CORS.Enabled {
		router.Use(corsMiddleware(config.Server.CORS))
	}
	if rc.otelService != "" {
		router.Use(otelmux.Middleware(rc.otelService,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/api/v1/health"
			}),
		))
	}
	if rc.verifier != nil {
		router.Use(auth.Middleware(rc.verifier))
	}
	if rc.rateLimiter != nil {
		router.Use(rc.rateLimiter.Handler)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet).Name(RouteHealth)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet).Name(RouteHealth)
	api.HandleFunc("/bot/chat", handlers.Chat).Methods(http.MethodPost).Name(RouteBotChat)

	linksAPI := api.PathPrefix("/links").Subrouter()
	linksAPI.Use(auth.RequireAuth)
	linksAPI.HandleFunc("", handlers.ListLinks).Methods(http.MethodGet).Name(RouteLinksList)
	linksAPI.HandleFunc("", handlers.CreateLink).Methods(http.MethodPost).Name(RouteLinksCreate)
	linksAPI.HandleFunc("/resequence", handlers.ResequenceLinks).Methods(http.MethodPost).Name(RouteLinksResequence)
	linksAPI.HandleFunc("/{id}", handlers.UpdateLink).Methods(http.MethodPut).Name(RouteLinksUpdate)
	linksAPI.HandleFunc("/{id}", handlers.DeleteLink).Methods(http.MethodDelete).Name(RouteLinksDelete)

	groupsAPI := api.PathPrefix("/groups").Subrouter()
	groupsAPI.Use(auth.RequireAuth)
	groupsAPI.HandleFunc("", handlers.ListGroups).Methods(http.MethodGet).Name(RouteGroupsList)
	groupsAPI.HandleFunc("", handlers.CreateGroup).Methods(http.MethodPost).Name(RouteGroupsCreate)
	groupsAPI.HandleFunc("/resequence", handlers.ResequenceGroups).Methods(http.MethodPost).Name(RouteGroupsResequence)
	groupsAPI.HandleFunc("/{id}", handlers.DeleteGroup).Methods(http.MethodDelete).Name(RouteGroupsDelete)

	// CORS preflight for any API path
	api.PathPrefix("").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodOptions)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Resource not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, models.ErrorCodeInvalidRequest, "Method not allowed")
	})

	return router
}
