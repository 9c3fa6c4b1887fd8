package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/trunkline/trunkline/internal/api"
	"github.com/trunkline/trunkline/internal/cache"
	"github.com/trunkline/trunkline/internal/config"
	"github.com/trunkline/trunkline/internal/database"
	"github.com/trunkline/trunkline/internal/ivr"
	"github.com/trunkline/trunkline/internal/metrics"
	"github.com/trunkline/trunkline/internal/ringgroup"
	"github.com/trunkline/trunkline/internal/routing"
	"github.com/trunkline/trunkline/internal/whitelist"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting trunkline",
		"http_port", cfg.HTTPPort,
		"redis_addr", cfg.RedisAddr,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Repositories.
	extensions := database.NewExtensionRepository(db)
	ringGroups := database.NewRingGroupRepository(db)
	schedules := database.NewBusinessHoursRepository(db)
	menus := database.NewIVRMenuRepository(db)
	dids := database.NewDIDRepository(db)
	whitelists := database.NewWhitelistRepository(db)
	conferences := database.NewConferenceRepository(db)
	locks := database.NewLockRepository(db)

	// Primary cache/lock backend. Connection trouble is tolerated; the
	// cache layer degrades to its fallbacks and keeps probing.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(appCtx).Err(); err != nil {
		slog.Warn("redis unreachable at startup, running degraded", "error", err)
	}

	cacheLayer := cache.New(rdb, locks, logger)
	cacheLayer.Start(appCtx)
	defer cacheLayer.Close()

	// Metrics registry; the cache gauge samples fallback state at scrape
	// time.
	m := metrics.New(prometheus.DefaultRegisterer, func() bool {
		return cacheLayer.Status().UsingFallback
	})

	// Routing engine.
	resolver := routing.NewResolver(routing.Config{
		Extensions:  extensions,
		RingGroups:  ringGroups,
		Schedules:   schedules,
		Menus:       menus,
		DIDs:        dids,
		Conferences: conferences,
		Cache:       cacheLayer,
		Metrics:     m,
		Logger:      logger,
		BaseURL:     cfg.BaseURL(),
	})
	resolver.SetCollaborators(
		whitelist.NewMatcher(whitelists, logger),
		ringgroup.NewHunter(ringGroups, extensions, cacheLayer, m, logger),
		ivr.NewMachine(menus, cacheLayer, resolver, m, logger),
	)

	// Per-tenant webhook rate limiter.
	limiterCfg := api.DefaultRateLimitConfig()
	limiterCfg.Rate = rate.Limit(cfg.WebhookRate)
	limiterCfg.Burst = cfg.WebhookRate * 2
	limiter := api.NewTenantRateLimiter(limiterCfg)
	defer limiter.Stop()

	// HTTP server using the api package.
	handler := api.NewServer(resolver, cacheLayer, limiter, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down server")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("trunkline stopped")
}
