package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/flow"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/jobs"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/logger"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/scheduler"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/webhook"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/workers"
)

// Deps carries the collaborators the queue workers need. The caller owns
// their construction so the manager stays a thin River wrapper.
type Deps struct {
	Scheduler      *scheduler.Scheduler
	WebhookService *webhook.Service
	FlowRunner     *flow.Runner

	// PollInterval is the cadence of the periodic outbox delivery job.
	// Zero means every 5 seconds.
	PollInterval time.Duration
}

// Manager handles the River queue management
type Manager struct {
	client *river.Client[pgx.Tx]
	dbPool *pgxpool.Pool
}

// NewManager creates a new queue manager
func NewManager(ctx context.Context, dbPool *pgxpool.Pool, deps Deps) (*Manager, error) {
	if err := dbPool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pollInterval := deps.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewOutboxWorker(deps.Scheduler))
	river.AddWorker(riverWorkers, workers.NewWebhookWorker(deps.WebhookService))
	river.AddWorker(riverWorkers, workers.NewFlowWorker(deps.FlowRunner))

	riverClient, err := river.NewClient(riverpgxv5.New(dbPool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
			"webhooks":         {MaxWorkers: 8}, // Webhook fan-out queue
			"flows":            {MaxWorkers: 4}, // Flow run queue
		},
		Workers: riverWorkers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(pollInterval),
				func() (river.JobArgs, *river.InsertOpts) {
					return jobs.DeliverOutboxArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &Manager{
		client: riverClient,
		dbPool: dbPool,
	}, nil
}

// Start starts the queue processing
func (m *Manager) Start(ctx context.Context) error {
	log := logger.NewLogger("queue-manager")

	if err := m.client.Start(ctx); err != nil {
		log.Error("Failed to start River client", "error", err)
		return fmt.Errorf("failed to start River client: %w", err)
	}

	log.Info("River queue started successfully")
	return nil
}

// Stop stops the queue processing
func (m *Manager) Stop(ctx context.Context) error {
	return m.client.Stop(ctx)
}

// GetClient returns the River client
func (m *Manager) GetClient() *river.Client[pgx.Tx] {
	return m.client
}

// EnqueueWebhookDispatch queues one event for webhook fan-out.
func (m *Manager) EnqueueWebhookDispatch(ctx context.Context, args jobs.DispatchWebhookArgs) (*rivertype.JobInsertResult, error) {
	return m.client.Insert(ctx, args, &river.InsertOpts{Queue: "webhooks"})
}

// EnqueueFlowRun queues a flow definition for asynchronous execution.
func (m *Manager) EnqueueFlowRun(ctx context.Context, args jobs.FlowRunArgs) (*rivertype.JobInsertResult, error) {
	return m.client.Insert(ctx, args, &river.InsertOpts{Queue: "flows"})
}

// InsertManyJobs inserts multiple jobs at once
func (m *Manager) InsertManyJobs(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error) {
	return m.client.InsertMany(ctx, params)
}
