package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/httpexec"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/logger"
)

// endpointResolver is the slice of the endpoint repository the runtime needs.
type endpointResolver interface {
	GetByCode(ctx context.Context, tenantID, code string) (*hub.IntegrationEndpoint, error)
}

// Runner executes flow definitions step by step.
type Runner struct {
	endpoints endpointResolver
	executor  httpexec.Executor
	mapper    MappingEngine
	runLog    RunLog
	tracer    trace.Tracer
	now       func() time.Time
}

// NewRunner creates a Runner. A nil runLog disables step audit logging.
func NewRunner(endpoints endpointResolver, executor httpexec.Executor, mapper MappingEngine, runLog RunLog) *Runner {
	if runLog == nil {
		runLog = NopRunLog{}
	}
	return &Runner{
		endpoints: endpoints,
		executor:  executor,
		mapper:    mapper,
		runLog:    runLog,
		tracer:    otel.Tracer("flow-runner"),
		now:       time.Now,
	}
}

// ExecuteFlow runs every step of the flow in declared order against the
// input. Each step's output becomes the next step's input; failures are
// governed by the step's onError policy. The returned result is complete
// even when the run fails.
func (r *Runner) ExecuteFlow(ctx context.Context, flow *Flow, input any, tenantID, createdBy string) (*RunResult, error) {
	log := logger.NewLogger("flow-runner")
	runID := uuid.New().String()
	startedAt := r.now()

	ctx, span := r.tracer.Start(ctx, "ExecuteFlow", trace.WithAttributes(
		attribute.String("flow.code", flow.Code),
		attribute.String("flow.run_id", runID),
		attribute.Int("flow.steps", len(flow.Steps)),
	))
	defer span.End()

	result := &RunResult{
		RunID:     runID,
		FlowCode:  flow.Code,
		TenantID:  tenantID,
		CreatedBy: createdBy,
		Status:    RunCompleted,
		Steps:     make([]StepResult, 0, len(flow.Steps)),
		StartedAt: startedAt,
	}

	rc := runContext{tenantID: tenantID, runID: runID, current: input, outputs: make(map[string]any)}

	stopped := false
	for i, step := range flow.Steps {
		if stopped {
			result.Steps = append(result.Steps, StepResult{Index: i, Name: step.Name, Status: StepSkipped})
			continue
		}

		sr := r.executeStep(ctx, i, step, &rc)
		result.Steps = append(result.Steps, sr)

		if sr.Status != StepFailed {
			continue
		}

		switch step.OnError {
		case OnErrorSkip:
			if result.Status == RunCompleted {
				result.Status = RunPartial
			}
			log.Warn("flow step failed, skipping",
				"run_id", runID, "step", step.Name, "error", sr.Error)
		default:
			// stop, and retry whose second attempt failed
			result.Status = RunFailed
			stopped = true
			log.Warn("flow step failed, stopping run",
				"run_id", runID, "step", step.Name, "error", sr.Error)
		}
	}

	result.Duration = r.now().Sub(startedAt)
	span.SetAttributes(attribute.String("flow.status", string(result.Status)))
	if result.Status == RunFailed {
		span.SetStatus(codes.Error, "flow run failed")
	}

	log.Info("flow run finished",
		"run_id", runID,
		"flow_code", flow.Code,
		"status", result.Status,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// executeStep runs one step, applying the retry policy inline. On success it
// threads the output into the run context.
func (r *Runner) executeStep(ctx context.Context, index int, step Step, rc *runContext) StepResult {
	r.runLog.StartStep(ctx, rc.runID, index, step.Name)
	start := r.now()

	output, err := r.runOnce(ctx, step, *rc)
	if err != nil && step.OnError == OnErrorRetry {
		logger.NewLogger("flow-runner").Info("retrying flow step",
			"run_id", rc.runID, "step", step.Name, "error", err)
		output, err = r.runOnce(ctx, step, *rc)
	}

	duration := r.now().Sub(start)
	if err != nil {
		r.runLog.FailStep(ctx, rc.runID, index, err.Error(), duration)
		return StepResult{
			Index:    index,
			Name:     step.Name,
			Status:   StepFailed,
			Output:   output,
			Error:    err.Error(),
			Duration: duration,
		}
	}

	rc.outputs[step.Name] = output
	rc.current = output

	r.runLog.CompleteStep(ctx, rc.runID, index, output, duration)
	return StepResult{
		Index:    index,
		Name:     step.Name,
		Status:   StepCompleted,
		Output:   output,
		Duration: duration,
	}
}

func (r *Runner) runOnce(ctx context.Context, step Step, rc runContext) (output any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("step %q panicked: %v", step.Name, rec)
		}
	}()

	exec, err := r.buildStep(step, false)
	if err != nil {
		return nil, err
	}
	return exec.run(ctx, rc)
}
