package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/konzern/internal/app"
	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/observability"
	"github.com/odyssey-erp/konzern/internal/platform/cache"
	"github.com/odyssey-erp/konzern/internal/platform/db"
	"github.com/odyssey-erp/konzern/internal/shared"
	"github.com/odyssey-erp/konzern/jobs"
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

	consolCfg, err := cfg.ConsolConfig()
	if err != nil {
		logger.Error("consolidation config", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
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

	metrics := observability.NewMetrics()
	if err := consol.SetupMetrics(metrics.Registerer()); err != nil {
		logger.Warn("consolidation metrics", slog.Any("error", err))
	}

	consolService := consol.NewService(consol.NewPgStore(pool), consolCfg, logger,
		consol.WithLocker(cache.NewLocker(redisClient)),
		consol.WithCache(cache.NewVersioned(redisClient, cfg.ConsolSummaryTTL)),
		consol.WithAudit(shared.NewAuditLogger(pool)),
	)
	runJob := jobs.NewRunJob(consolService, logger, metrics.Jobs())

	statements, err := cfg.RunStatements()
	if err != nil {
		logger.Error("scheduled statements", slog.Any("error", err))
		os.Exit(1)
	}
	cron, err := jobs.RunCron(cfg.ConsolRunCron, statements, cfg.RunActor())
	if err != nil {
		logger.Error("build scheduled runs", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskConsolidationRun, Handler: runJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.Int("scheduled_statements", len(cron)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
