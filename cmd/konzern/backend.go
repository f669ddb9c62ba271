package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/konzern/internal/app"
	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/platform/cache"
	"github.com/odyssey-erp/konzern/internal/platform/db"
	"github.com/odyssey-erp/konzern/internal/shared"
	"github.com/odyssey-erp/konzern/jobs"
)

// backend holds the connections and the consolidation service shared by the
// serve and run commands.
type backend struct {
	pool      *pgxpool.Pool
	redis     *redis.Client
	audit     *shared.AuditLogger
	approvals *shared.ApprovalRecorder
	consolCfg consol.Config
	consol    *consol.Service
	client    *jobs.Client
	logger    *slog.Logger
}

func openBackend(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*backend, error) {
	consolCfg, err := cfg.ConsolConfig()
	if err != nil {
		return nil, fmt.Errorf("consolidation config: %w", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{})
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}

	b := &backend{
		pool:      pool,
		redis:     redisClient,
		audit:     shared.NewAuditLogger(pool),
		approvals: shared.NewApprovalRecorder(pool, logger),
		consolCfg: consolCfg,
		client:    jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}),
		logger:    logger,
	}
	b.consol = consol.NewService(consol.NewPgStore(pool), consolCfg, logger,
		consol.WithLocker(cache.NewLocker(redisClient)),
		consol.WithCache(cache.NewVersioned(redisClient, cfg.ConsolSummaryTTL)),
		consol.WithAudit(b.audit),
	)
	return b, nil
}

func (b *backend) Close() {
	if err := b.client.Close(); err != nil {
		b.logger.Warn("queue client close", slog.Any("error", err))
	}
	if err := b.redis.Close(); err != nil {
		b.logger.Warn("redis close", slog.Any("error", err))
	}
	b.pool.Close()
}
