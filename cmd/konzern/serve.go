package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/konzern/internal/app"
	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/goodwill"
	consolhttp "github.com/odyssey-erp/konzern/internal/consol/http"
	"github.com/odyssey-erp/konzern/internal/elimination"
	eliminationhttp "github.com/odyssey-erp/konzern/internal/elimination/http"
	"github.com/odyssey-erp/konzern/internal/ledger"
	ledgerhttp "github.com/odyssey-erp/konzern/internal/ledger/http"
	"github.com/odyssey-erp/konzern/internal/observability"
	"github.com/odyssey-erp/konzern/internal/shared"
	"github.com/odyssey-erp/konzern/jobs"
)

func serveCommand(ctx context.Context, args []string, stderr io.Writer) int {
	fs := newFlagSet("serve", stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, logger, ok := loadConfig(stderr)
	if !ok {
		return 1
	}

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backend", slog.Any("error", err))
		return 1
	}
	defer b.Close()

	metrics := observability.NewMetrics()
	if err := consol.SetupMetrics(metrics.Registerer()); err != nil {
		logger.Warn("consolidation metrics", slog.Any("error", err))
	}

	scheduler := goodwill.NewScheduler(goodwill.NewPgStore(b.pool), b.consolCfg.Accounts, logger,
		goodwill.WithDefaultLife(b.consolCfg.DefaultUsefulLife))
	ledgerService := ledger.NewService(ledger.NewPgStore(b.pool), b.audit, b.approvals, logger)
	eliminationService := elimination.NewService(elimination.NewPgStore(b.pool), b.audit, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		ConsolHandler:      consolhttp.NewHandler(logger, b.consol, scheduler, b.client),
		LedgerHandler:      ledgerhttp.NewHandler(logger, ledgerService, b.approvals),
		EliminationHandler: eliminationhttp.NewHandler(logger, eliminationService),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Idempotency:        shared.NewIdempotencyStore(b.pool),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	failed := make(chan struct{})
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			close(failed)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	select {
	case <-failed:
		return 1
	default:
		return 0
	}
}
