package main

import (
	"context"
	"errors"
	"log/slog"
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
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	repo := recon.NewRepository(pool)
	summaryCache := recon.NewSummaryCache(redisClient, cfg.SummaryCacheTTL)
	service := recon.NewService(repo, recon.ServiceConfig{
		Cache:                       summaryCache,
		Logger:                      logger,
		RunTimeout:                  cfg.RunTimeout,
		MatchWorkers:                cfg.MatchWorkers,
		IncludeUnreferencedPayments: cfg.CountUnrefPayments,
	})
	runJob := recon.NewRunJob(service, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconRunExecute, Handler: runJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("queue", jobs.QueueDefault))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
