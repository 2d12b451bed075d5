package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/vendora-ops/vendora-recon/internal/app"
	"github.com/vendora-ops/vendora-recon/internal/platform/cache"
	"github.com/vendora-ops/vendora-recon/internal/platform/db"
	"github.com/vendora-ops/vendora-recon/internal/recon"
	"github.com/vendora-ops/vendora-recon/jobs"
)

func main() {
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
		logger.Error("connect database", slog.Any("error", err))
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

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	taskClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init task client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Warn("task client close", slog.Any("error", err))
		}
	}()

	repo := recon.NewRepository(pool)
	summaryCache := recon.NewSummaryCache(redisClient, cfg.SummaryCacheTTL)
	service := recon.NewService(repo, recon.ServiceConfig{
		Enqueuer:                    taskClient,
		Cache:                       summaryCache,
		Logger:                      logger,
		RunTimeout:                  cfg.RunTimeout,
		MatchWorkers:                cfg.MatchWorkers,
		IncludeUnreferencedPayments: cfg.CountUnrefPayments,
	})
	importer := recon.NewImporter(repo, logger)
	reconHandler := recon.NewHandler(logger, service, importer, cfg.ImportRatePerMinute)
	jobsHandler := jobs.NewHandler(asynq.NewInspector(redisOpts), logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		ReconHandler: reconHandler,
		JobsHandler:  jobsHandler,
		Pool:         pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()

	logger.Info("api listening", slog.String("addr", cfg.AppAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", slog.Any("error", err))
		os.Exit(1)
	}
}
