package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dealerdesk/dealerdesk/internal/app"
	"github.com/dealerdesk/dealerdesk/internal/authz"
	"github.com/dealerdesk/dealerdesk/internal/dealers"
	"github.com/dealerdesk/dealerdesk/internal/observability"
	"github.com/dealerdesk/dealerdesk/internal/platform/cache"
	"github.com/dealerdesk/dealerdesk/internal/platform/db"
	"github.com/dealerdesk/dealerdesk/internal/roles"
	"github.com/dealerdesk/dealerdesk/internal/users"
	"github.com/dealerdesk/dealerdesk/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	authzMetrics := authz.NewMetrics(metrics.Registry())

	configStore := authz.NewPGStore(pool)
	resolver := authz.NewResolver(configStore)
	permCache := authz.NewCache(resolver, configStore, redisClient, cfg.AuthzCacheTTL, logger, authzMetrics)
	bus := authz.NewBus(permCache, redisClient, cfg.InvalidationChannel, logger)
	go bus.Subscribe(ctx)

	guard := authz.NewGuard(permCache, logger, authzMetrics)
	authzMiddleware := authz.Middleware{Guard: guard, Logger: logger}
	authzHandler := authz.NewHandler(logger, guard, resolver, authzMiddleware)

	enqueuer := jobs.NewEnqueuer(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := enqueuer.Close(); err != nil {
			logger.Warn("enqueuer close", slog.Any("error", err))
		}
	}()

	rolesRepo := roles.NewRepository(pool)
	rolesService := roles.NewService(rolesRepo, bus, enqueuer, logger)
	rolesHandler := roles.NewHandler(logger, rolesService, authzMiddleware)

	dealersRepo := dealers.NewRepository(pool)
	dealersService := dealers.NewService(dealersRepo, bus, enqueuer, logger)
	dealersHandler := dealers.NewHandler(logger, dealersService, authzMiddleware)

	usersRepo := users.NewRepository(pool)
	usersHandler := users.NewHandler(logger, usersRepo)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthzHandler:   authzHandler,
		RolesHandler:   rolesHandler,
		DealersHandler: dealersHandler,
		UsersHandler:   usersHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
