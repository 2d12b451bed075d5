package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconRunExecute is the task type for executing a reconciliation run.
	TaskReconRunExecute = "recon:run_execute"
)

// ReconRunPayload identifies the run a worker should execute.
type ReconRunPayload struct {
	RunID uuid.UUID `json:"run_id"`
}

// NewReconRunTask constructs an Asynq task for run execution.
func NewReconRunTask(payload ReconRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	// A failed run is terminal and is never re-executed; the worker's
	// claim guard drops retried deliveries of runs that already ran. The
	// retry budget exists so a store outage while recording the outcome
	// does not strand the run mid-flight.
	return asynq.NewTask(TaskReconRunExecute, data, asynq.MaxRetry(3)), nil
}
