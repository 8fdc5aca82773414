package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/logger"
)

// RunLog persists flow step transitions to Postgres for audit. Write
// failures are logged and swallowed so that a flaky audit table never
// interrupts a flow run.
type RunLog struct {
	db *pgxpool.Pool
}

// NewRunLog creates a new flow run log
func NewRunLog(db *pgxpool.Pool) *RunLog {
	return &RunLog{db: db}
}

// StartStep records that a step began executing
func (l *RunLog) StartStep(ctx context.Context, runID string, index int, name string) {
	query := `
		INSERT INTO flow_run_steps (run_id, step_index, step_name, status, started_at)
		VALUES ($1, $2, $3, 'started', $4)
		ON CONFLICT (run_id, step_index) DO UPDATE
		SET status = 'started', started_at = $4
	`
	if _, err := l.db.Exec(ctx, query, runID, index, name, time.Now()); err != nil {
		l.logWriteError(runID, index, err)
	}
}

// CompleteStep records a successful step with its output
func (l *RunLog) CompleteStep(ctx context.Context, runID string, index int, output any, duration time.Duration) {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		outputJSON = []byte("null")
	}

	query := `
		UPDATE flow_run_steps
		SET status = 'completed', output = $3, duration_ms = $4, finished_at = $5
		WHERE run_id = $1 AND step_index = $2
	`
	if _, err := l.db.Exec(ctx, query, runID, index, outputJSON, duration.Milliseconds(), time.Now()); err != nil {
		l.logWriteError(runID, index, err)
	}
}

// FailStep records a failed step with its reason
func (l *RunLog) FailStep(ctx context.Context, runID string, index int, reason string, duration time.Duration) {
	query := `
		UPDATE flow_run_steps
		SET status = 'failed', error = $3, duration_ms = $4, finished_at = $5
		WHERE run_id = $1 AND step_index = $2
	`
	if _, err := l.db.Exec(ctx, query, runID, index, reason, duration.Milliseconds(), time.Now()); err != nil {
		l.logWriteError(runID, index, err)
	}
}

func (l *RunLog) logWriteError(runID string, index int, err error) {
	logger.NewLogger("flow-run-log").Error("Failed to write flow step record",
		"run_id", runID,
		"step_index", index,
		"error", err,
	)
}
