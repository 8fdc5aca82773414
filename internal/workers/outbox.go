package workers

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/jobs"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/logger"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/scheduler"
)

// OutboxWorker runs one delivery poll cycle per job invocation. The periodic
// deliver-outbox job keeps these coming.
type OutboxWorker struct {
	river.WorkerDefaults[jobs.DeliverOutboxArgs]
	scheduler *scheduler.Scheduler
}

// NewOutboxWorker creates a new outbox worker
func NewOutboxWorker(s *scheduler.Scheduler) *OutboxWorker {
	return &OutboxWorker{scheduler: s}
}

// Work processes one poll-and-deliver cycle
func (w *OutboxWorker) Work(ctx context.Context, job *river.Job[jobs.DeliverOutboxArgs]) error {
	log := logger.NewLogger("outbox-worker")

	attempted, err := w.scheduler.PollAndDeliver(ctx)
	if err != nil {
		log.Error("Outbox poll cycle failed", "job_id", job.ID, "error", err)
		return err
	}

	if attempted > 0 {
		log.Info("Outbox poll cycle completed",
			"job_id", job.ID,
			"worker_id", w.scheduler.WorkerID(),
			"attempted", attempted,
		)
	}
	return nil
}
