package recon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vendora-ops/vendora-recon/internal/shared"
)

// TaskEnqueuer dispatches run execution to the background worker.
type TaskEnqueuer interface {
	EnqueueRunExecute(ctx context.Context, runID uuid.UUID) error
}

// ErrSummaryNotReady occurs when a summary is requested before the run completes.
var ErrSummaryNotReady = fmt.Errorf("recon: summary not ready: %w", shared.ErrInvalidState)

// ServiceConfig collects optional service dependencies and tuning.
type ServiceConfig struct {
	Enqueuer TaskEnqueuer
	Cache    *SummaryCache
	Logger   *slog.Logger
	// RunTimeout bounds one execution attempt; a timed-out run is failed,
	// never retried.
	RunTimeout time.Duration
	// MatchWorkers bounds per-machine matching parallelism.
	MatchWorkers int
	// IncludeUnreferencedPayments reports unmatched payments that carry
	// no order reference as order_not_found instead of skipping them.
	IncludeUnreferencedPayments bool
}

// Service owns the run state machine and mismatch resolution.
type Service struct {
	repo     Repository
	loader   *Loader
	enqueuer TaskEnqueuer
	cache    *SummaryCache
	logger   *slog.Logger
	cfg      ServiceConfig
	now      func() time.Time
}

// NewService builds the service.
func NewService(repo Repository, cfg ServiceConfig) *Service {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		loader:   NewLoader(repo),
		enqueuer: cfg.Enqueuer,
		cache:    cfg.Cache,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun validates input, applies tolerance defaults, and stores a
// pending run. Summary stays null until the run completes.
func (s *Service) CreateRun(ctx context.Context, in CreateRunInput) (*ReconciliationRun, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	run := &ReconciliationRun{
		ID:              uuid.New(),
		OrgID:           in.OrgID,
		Status:          RunStatusPending,
		DateFrom:        in.DateFrom,
		DateTo:          in.DateTo,
		Sources:         in.Sources,
		MachineIDs:      in.MachineIDs,
		TimeTolerance:   DefaultTimeToleranceSeconds,
		AmountTolerance: DefaultAmountTolerance,
		CreatedBy:       in.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.TimeTolerance != nil {
		run.TimeTolerance = *in.TimeTolerance
	}
	if in.AmountTolerance != nil {
		run.AmountTolerance = *in.AmountTolerance
	}

	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// StartRun dispatches execution of a pending run to the worker queue.
func (s *Service) StartRun(ctx context.Context, orgID, runID uuid.UUID) error {
	run, err := s.repo.GetRun(ctx, orgID, runID)
	if err != nil {
		return err
	}
	if run.Status != RunStatusPending {
		return ErrRunNotPending
	}
	if s.enqueuer == nil {
		return fmt.Errorf("recon: no task queue configured")
	}
	return s.enqueuer.EnqueueRunExecute(ctx, runID)
}

// Execute claims a pending run and drives the pipeline: load both sides,
// match, classify, persist mismatches, aggregate the summary.
//
// Business failures inside the pipeline are recorded on the run
// (status=failed, error message) and are NOT returned; the run record is
// the durable source of truth for the outcome. Only contract violations
// surface as errors: an unknown run id, or a run that is no longer
// pending (a concurrent execution already claimed it).
func (s *Service) Execute(ctx context.Context, runID uuid.UUID) error {
	startedAt := s.now()
	run, err := s.repo.ClaimRun(ctx, runID, startedAt)
	if err != nil {
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	summary, execErr := s.pipeline(execCtx, run)

	// The run must reach a terminal state even when the attempt context
	// is already dead.
	finishCtx := context.WithoutCancel(ctx)
	completedAt := s.now()
	elapsed := completedAt.Sub(startedAt).Milliseconds()

	if execErr != nil {
		s.logger.Error("reconciliation run failed",
			slog.String("run_id", runID.String()),
			slog.Any("error", execErr),
		)
		if err := s.repo.FailRun(finishCtx, runID, execErr.Error(), completedAt, elapsed); err != nil {
			return fmt.Errorf("recon: record run failure: %w", err)
		}
		return nil
	}

	if err := s.repo.CompleteRun(finishCtx, runID, summary, completedAt, elapsed); err != nil {
		return fmt.Errorf("recon: record run completion: %w", err)
	}
	s.cache.Set(finishCtx, runID, summary)
	s.logger.Info("reconciliation run completed",
		slog.String("run_id", runID.String()),
		slog.Int("total", summary.TotalRecords),
		slog.Int("matched", summary.Matched),
		slog.Float64("match_rate", summary.MatchRate),
	)
	return nil
}

func (s *Service) pipeline(ctx context.Context, run *ReconciliationRun) (RunSummary, error) {
	hardware, payments, err := s.loader.Load(ctx, run)
	if err != nil {
		return RunSummary{}, err
	}

	result, err := Match(ctx, hardware, payments, MatchOptions{
		TimeTolerance:               run.TimeToleranceDuration(),
		AmountTolerance:             run.AmountTolerance,
		IncludeUnreferencedPayments: s.cfg.IncludeUnreferencedPayments,
		Workers:                     s.cfg.MatchWorkers,
	})
	if err != nil {
		return RunSummary{}, err
	}

	mismatches := BuildMismatches(run, result.Discrepancies, s.now())
	if len(mismatches) > 0 {
		if err := s.repo.InsertMismatches(ctx, mismatches); err != nil {
			return RunSummary{}, err
		}
	}

	return Summarize(result), nil
}

// AbortRun force-fails a run stranded in processing after an execution
// attempt could not record its outcome. Does nothing once the run has
// reached a terminal state.
func (s *Service) AbortRun(ctx context.Context, runID uuid.UUID) error {
	return s.repo.AbortRun(ctx, runID, "execution interrupted before the outcome was recorded", s.now())
}

// GetRun returns a run by id within the org scope.
func (s *Service) GetRun(ctx context.Context, orgID, id uuid.UUID) (*ReconciliationRun, error) {
	return s.repo.GetRun(ctx, orgID, id)
}

// ListRuns returns a filtered page of runs.
func (s *Service) ListRuns(ctx context.Context, q ListRunsQuery) ([]ReconciliationRun, int, error) {
	return s.repo.ListRuns(ctx, q)
}

// RunSummary returns a completed run's summary, reading through the cache.
func (s *Service) RunSummary(ctx context.Context, orgID, runID uuid.UUID) (*RunSummary, error) {
	if cached := s.cache.Get(ctx, runID); cached != nil {
		return cached, nil
	}
	run, err := s.repo.GetRun(ctx, orgID, runID)
	if err != nil {
		return nil, err
	}
	if run.Summary == nil {
		return nil, ErrSummaryNotReady
	}
	s.cache.Set(ctx, runID, *run.Summary)
	return run.Summary, nil
}

// DeleteRun soft-deletes a run. Processing runs cannot be deleted.
func (s *Service) DeleteRun(ctx context.Context, orgID, id uuid.UUID) error {
	if err := s.repo.SoftDeleteRun(ctx, orgID, id, s.now()); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, id)
	return nil
}

// ListMismatches returns a filtered page of a run's mismatches.
func (s *Service) ListMismatches(ctx context.Context, q ListMismatchesQuery) ([]Mismatch, int, error) {
	return s.repo.ListMismatches(ctx, q)
}

// Resolve applies a manual resolution to a mismatch. The transition is a
// compare-and-set: once resolved, a mismatch is terminal and a second
// call fails without touching the first resolution's fields.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (*Mismatch, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ResolveMismatch(ctx, in, s.now())
}
