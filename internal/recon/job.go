package recon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/vendora-ops/vendora-recon/internal/shared"
	"github.com/vendora-ops/vendora-recon/jobs"
)

// RunJob processes reconciliation run tasks.
type RunJob struct {
	service *Service
	logger  *slog.Logger
}

// NewRunJob constructs a job handler.
func NewRunJob(service *Service, logger *slog.Logger) *RunJob {
	return &RunJob{service: service, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract. Pipeline failures are
// recorded on the run itself, so a returned error here means the task
// could not even be attempted against a valid run.
func (j *RunJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload jobs.ReconRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RunID == uuid.Nil {
		return asynq.SkipRetry
	}

	err := j.service.Execute(ctx, payload.RunID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, shared.ErrNotFound):
		// Deleted before execution; the task is moot.
		if j.logger != nil {
			j.logger.Warn("run task dropped",
				slog.String("run_id", payload.RunID.String()),
				slog.Any("reason", err),
			)
		}
		return asynq.SkipRetry
	case errors.Is(err, shared.ErrInvalidState):
		// On a first delivery a non-pending run means a duplicate task
		// lost the claim race; drop it. On a retried delivery it means
		// our own earlier attempt claimed the run and then could not
		// record an outcome, so fail the run instead of leaving it
		// stranded in processing.
		if n, ok := asynq.GetRetryCount(ctx); ok && n > 0 {
			if abortErr := j.service.AbortRun(ctx, payload.RunID); abortErr != nil {
				return abortErr
			}
			return nil
		}
		if j.logger != nil {
			j.logger.Warn("run task dropped",
				slog.String("run_id", payload.RunID.String()),
				slog.Any("reason", err),
			)
		}
		return asynq.SkipRetry
	default:
		if j.logger != nil {
			j.logger.Error("run task failed",
				slog.String("run_id", payload.RunID.String()),
				slog.Any("error", err),
			)
		}
		return err
	}
}
