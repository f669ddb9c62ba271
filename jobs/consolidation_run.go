package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/konzern/internal/consol"
	jobmetrics "github.com/odyssey-erp/konzern/internal/jobs"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// Runner performs a consolidation run; *consol.Service satisfies it.
type Runner interface {
	RunConsolidation(ctx context.Context, statementID, actor uuid.UUID) (consol.RunResult, error)
}

// RunJob executes queued consolidation runs.
type RunJob struct {
	Runner  Runner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRunJob constructs the job handler.
func NewRunJob(runner Runner, logger *slog.Logger, metrics *jobmetrics.Metrics) *RunJob {
	return &RunJob{Runner: runner, Logger: logger, Metrics: metrics}
}

// Handle executes one consolidation run. Failures that a retry cannot fix
// are wrapped with asynq.SkipRetry; a held statement lock is retried.
func (j *RunJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Runner == nil {
		return errors.New("consolidation run: dependencies not configured")
	}
	var payload RunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("consolidation run: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.StatementID == uuid.Nil {
		return fmt.Errorf("consolidation run: statement_id missing: %w", asynq.SkipRetry)
	}

	log := j.log().With(slog.String("statement_id", payload.StatementID.String()))
	tracker := j.metrics().Track(TaskConsolidationRun)

	res, err := j.Runner.RunConsolidation(ctx, payload.StatementID, payload.ActorID)
	if err != nil {
		_ = tracker.End(err)
		if retryable(err) {
			log.Warn("consolidation run deferred", slog.Any("error", err))
			return err
		}
		log.Error("consolidation run failed", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	_ = tracker.End(nil)

	counts := make(map[string]int)
	for _, e := range res.Entries {
		counts[string(e.AdjustmentType)]++
	}
	for typ, n := range counts {
		j.metrics().AddEntries(TaskConsolidationRun, typ, n)
	}
	log.Info("consolidation run finished",
		slog.String("run_id", res.RunID.String()),
		slog.Int("entries", len(res.Entries)),
		slog.Int("exceptions", len(res.Exceptions)),
		slog.Duration("duration", res.Duration))
	return nil
}

// retryable reports whether a later attempt may succeed.
func retryable(err error) bool {
	if errors.Is(err, consol.ErrRunInProgress) {
		return true
	}
	switch shared.KindOf(err) {
	case shared.KindValidation, shared.KindBusinessRule, shared.KindStateMachine, shared.KindNotFound, shared.KindConflict:
		return false
	}
	return true
}

func (j *RunJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RunJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsolidationRun))
	}
	return slog.Default().With(slog.String("job", TaskConsolidationRun))
}
