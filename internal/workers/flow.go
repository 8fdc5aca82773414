package workers

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/flow"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/jobs"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/logger"
)

// FlowWorker executes flow runs submitted through the queue.
type FlowWorker struct {
	river.WorkerDefaults[jobs.FlowRunArgs]
	runner *flow.Runner
}

// NewFlowWorker creates a new flow worker
func NewFlowWorker(runner *flow.Runner) *FlowWorker {
	return &FlowWorker{runner: runner}
}

// Work processes the flow run job
func (w *FlowWorker) Work(ctx context.Context, job *river.Job[jobs.FlowRunArgs]) error {
	log := logger.NewLogger("flow-worker")
	args := job.Args

	result, err := w.runner.ExecuteFlow(ctx, &args.Flow, args.Input, args.TenantID, args.CreatedBy)
	if err != nil {
		log.Error("Flow run could not start",
			"job_id", job.ID,
			"flow_code", args.Flow.Code,
			"tenant_id", args.TenantID,
			"error", err,
		)
		return err
	}

	log.Info("Flow run finished",
		"job_id", job.ID,
		"run_id", result.RunID,
		"flow_code", result.FlowCode,
		"status", result.Status,
		"duration_ms", result.Duration.Milliseconds(),
	)

	// A failed run is a recorded outcome, not a transient queue error.
	// Re-running a flow with side-effecting HTTP steps is never implicit.
	return nil
}
