package recon

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vendora-ops/vendora-recon/jobs"
)

func runTask(t *testing.T, runID uuid.UUID) *asynq.Task {
	t.Helper()
	task, err := jobs.NewReconRunTask(jobs.ReconRunPayload{RunID: runID})
	require.NoError(t, err)
	return task
}

func TestRunJobExecutesRun(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := NewRunJob(svc, nil)

	run, err := svc.CreateRun(context.Background(), validRunInput())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), runTask(t, run.ID)))

	got, err := svc.GetRun(context.Background(), testOrg, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, got.Status)
}

func TestRunJobDropsMalformedPayload(t *testing.T) {
	job := NewRunJob(newTestService(newMockRepository()), nil)

	task := asynq.NewTask(jobs.TaskReconRunExecute, []byte("{"))
	assert.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)

	task = asynq.NewTask(jobs.TaskReconRunExecute, []byte("{}"))
	assert.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestRunJobDropsUnknownRun(t *testing.T) {
	job := NewRunJob(newTestService(newMockRepository()), nil)

	err := job.Handle(context.Background(), runTask(t, uuid.New()))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRunJobDropsDuplicateFirstDelivery(t *testing.T) {
	repo := newMockRepository()
	svc := newTestService(repo)
	job := NewRunJob(svc, nil)

	run, err := svc.CreateRun(context.Background(), validRunInput())
	require.NoError(t, err)
	_, err = repo.ClaimRun(context.Background(), run.ID, time.Now().UTC())
	require.NoError(t, err)

	// A first delivery losing the claim race drops the task and leaves
	// the in-flight run alone; only a retried delivery aborts it.
	err = job.Handle(context.Background(), runTask(t, run.ID))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	got, err := svc.GetRun(context.Background(), testOrg, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusProcessing, got.Status)
}
