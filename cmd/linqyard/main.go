package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linqyard/internal/api"
	"linqyard/internal/assistant"
	"linqyard/internal/auth"
	"linqyard/internal/cleanup"
	"linqyard/internal/config"
	"linqyard/internal/links"
	"linqyard/internal/logger"
	"linqyard/internal/models"
	"linqyard/internal/observability"
	"linqyard/internal/ratelimit"
	"linqyard/internal/storage"
	"linqyard/internal/version"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envFile    = flag.String("env-file", "", "Path to a .env file loaded before the environment overrides")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)
	slog.Info("Starting linqyard", "version", ver.Version, "commit", ver.GitCommit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelProvider, err := observability.Setup(ctx, cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	factory := storage.NewFactory()
	store, err := factory.Create(cfg.Storage)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err, "type", cfg.Storage.Type)
		os.Exit(1)
	}
	defer store.Close()

	var activeStorage storage.Storage = store
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStorage(store)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		activeStorage = instrumented
	}

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	if cfg.Security.JWT.Secret == "" {
		slog.Warn("No JWT secret configured; every authenticated route will answer 401")
	} else {
		verifier, err := auth.NewVerifier(cfg.Security.JWT)
		if err != nil {
			slog.Error("Failed to initialize token verifier", "error", err)
			os.Exit(1)
		}
		routeOpts = append(routeOpts, api.WithAuth(verifier))
	}

	if cfg.Security.RateLimit.Enabled {
		limitMW, bucketCloser, err := setupRateLimiting(ctx, factory, cfg.Security, activeStorage)
		if err != nil {
			slog.Error("Failed to initialize rate limiting", "error", err)
			os.Exit(1)
		}
		if bucketCloser != nil {
			defer bucketCloser.Close()
		}
		routeOpts = append(routeOpts, api.WithRateLimiter(limitMW))
	}

	chat := assistant.NewService(cfg.Assistant)
	if err := chat.Ready(); err != nil && cfg.Assistant.Enabled {
		slog.Warn("Assistant unavailable", "error", err)
	}

	handlers := api.NewHandlers(links.NewService(activeStorage), chat, activeStorage, ver)
	router := api.SetupRoutes(handlers, cfg, routeOpts...)

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "tls", cfg.Server.TLSEnabled)
		if cfg.Server.TLSEnabled {
			serverErr <- server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
			return
		}
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// setupRateLimiting builds the limiter middleware and, when bucket cleanup is
// enabled for a storage-backed store, starts the cleanup worker on ctx.
func setupRateLimiting(ctx context.Context, factory *storage.Factory, sec models.SecurityConfig, primary storage.Storage) (*ratelimit.Middleware, io.Closer, error) {
	rl := sec.RateLimit

	buckets, closer, err := factory.CreateBucketStore(rl, primary)
	if err != nil {
		return nil, nil, fmt.Errorf("bucket store: %w", err)
	}

	policies, err := ratelimit.NewPolicies(rl)
	if err != nil {
		return nil, closer, err
	}
	limiter, err := ratelimit.NewLimiter(buckets, policies, rl.ThrowOnMissingPolicy)
	if err != nil {
		return nil, closer, err
	}
	mw, err := ratelimit.NewMiddleware(limiter, rl.Rules, sec.TrustProxyHeaders)
	if err != nil {
		return nil, closer, err
	}

	known := make(map[string]struct{}, len(api.RouteNames))
	for _, name := range api.RouteNames {
		known[name] = struct{}{}
	}
	for _, rule := range rl.Rules {
		if _, ok := known[rule.Route]; !ok {
			slog.Warn("Rate limit rule names an unknown route", "route", rule.Route, "policy", rule.Policy)
		}
	}

	if rl.Cleanup.Enabled && (rl.Store == models.BucketStoreStorage || rl.Store == "") {
		worker, err := cleanup.NewWorker(buckets, rl.Cleanup, cleanup.WithLongestWindow(rl.LongestWindow()))
		if err != nil {
			return nil, closer, fmt.Errorf("bucket cleanup: %w", err)
		}
		go worker.Run(ctx)
	}

	slog.Info("Rate limiting enabled", "store", rl.Store, "policies", len(rl.Policies), "rules", len(rl.Rules))
	return mw, closer, nil
}
