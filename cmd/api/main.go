package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/di"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/handlers"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/auth"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/config"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/idempotency"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/observability"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/platform/requestctx"
	"github.com/helix74/dodo-nutrition-ecommerce-sub000/internal/services"
)

const (
	shutdownTimeout = 10 * time.Second
	jobRunTimeout   = 2 * time.Minute
)

func main() {
	startedAt := time.Now().UTC()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseLogger, err := observability.NewLogger("fulfillment-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, env, err := di.LoadConfig(ctx, logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, logger, di.WithFirebaseAuth())
	if err != nil {
		logger.Fatal("failed to build dependencies", zap.Error(err))
	}
	defer func() {
		if err := container.Close(context.Background()); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	router := handlers.NewRouter(routerOptions(logger, cfg, container, buildInfoFromEnv(env, cfg, startedAt))...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var jobsWG sync.WaitGroup
	startJobs(ctx, &jobsWG, logger.Named("jobs"), cfg, container.Services)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	serverErr := make(chan error, 1)
	go func() {
		serverLogger.Info("fulfillment api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received; draining requests")
	case err := <-serverErr:
		logger.Error("http server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	stop()
	jobsWG.Wait()
}

func routerOptions(logger *zap.Logger, cfg config.Config, c *di.Container, build handlers.BuildInfo) []handlers.Option {
	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID, c.Metrics),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(
			handlers.WithHealthBuildInfo(build),
			handlers.WithHealthRepository(c.Health),
		)),
	}
	if cfg.Server.ExposeMetrics {
		opts = append(opts, handlers.WithMetricsHandler(c.Metrics.Handler()))
	}

	checkout := handlers.NewCheckoutHandlers(c.Authenticator, c.Services.Checkout)
	orders := handlers.NewOrderHandlers(c.Authenticator, c.Services.COD, handlers.WithOrderIdempotency(
		idempotency.Middleware(c.Idempotency,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
		),
	))
	shipping := handlers.NewShippingHandlers(c.Authenticator, c.Services.Shipping,
		handlers.WithNotificationRelay(c.Services.Notifications, cfg.Jobs.RelayBatchSize))

	opts = append(opts,
		handlers.WithCheckoutRoutes(checkout.Routes),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithAdminRoutes(shipping.AdminRoutes),
		handlers.WithInternalRoutes(shipping.InternalRoutes),
		handlers.WithInternalMiddlewares(buildOIDCMiddleware(logger.Named("auth"), cfg)),
	)
	if c.Services.Payments != nil {
		webhooks := handlers.NewPaymentWebhookHandlers(c.Services.Payments)
		opts = append(opts, handlers.WithWebhookRoutes(webhooks.Routes))
	}
	return opts
}

// startJobs runs the in-process schedulers. Deployments driven by Cloud Scheduler leave the
// intervals at zero and call the /internal routes instead.
func startJobs(ctx context.Context, wg *sync.WaitGroup, logger *zap.Logger, cfg config.Config, svc di.Services) {
	if interval := cfg.Jobs.ShippingSyncInterval; interval > 0 && svc.Shipping != nil {
		runEvery(ctx, wg, interval, func(ctx context.Context) {
			report, err := svc.Shipping.Sync(requestctx.WithTrigger(ctx, "scheduler", "ticker"), services.ShippingSyncCommand{})
			switch {
			case errors.Is(err, services.ErrSyncInProgress), errors.Is(err, services.ErrSyncNotConfigured):
				logger.Debug("shipping sync skipped", zap.Error(err))
			case err != nil:
				logger.Error("shipping sync failed", zap.Error(err))
			default:
				logger.Info("shipping sync finished", zap.Int("synced", report.Synced), zap.Int("total", report.Total))
			}
		})
	}
	if interval := cfg.Jobs.NotificationRelayInterval; interval > 0 && svc.Notifications != nil {
		runEvery(ctx, wg, interval, func(ctx context.Context) {
			report, err := svc.Notifications.Relay(ctx, cfg.Jobs.RelayBatchSize)
			if err != nil {
				logger.Error("notification relay failed", zap.Error(err))
				return
			}
			if report.Attempted > 0 {
				logger.Info("notification relay finished", zap.Int("sent", report.Sent), zap.Int("failed", report.Failed))
			}
		})
	}
}

func runEvery(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, jobRunTimeout)
				fn(runCtx)
				cancel()
			}
		}
	}()
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["STORE_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   strings.TrimSpace(env["STORE_BUILD_COMMIT_SHA"]),
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, nil, nil)
	return auth.NewOIDCValidator(cache, logger).RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
