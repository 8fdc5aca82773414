package flow

import (
	"context"
	"time"
)

// StepType identifies the kind of a flow step.
type StepType string

const (
	StepHTTPCall  StepType = "HTTP_CALL"
	StepTransform StepType = "TRANSFORM"
	StepCondition StepType = "CONDITION"
	StepDelay     StepType = "DELAY"
	StepParallel  StepType = "PARALLEL"
)

// ErrorPolicy declares how a step failure affects the rest of the run.
type ErrorPolicy string

const (
	// OnErrorStop fails the run and skips every remaining step.
	OnErrorStop ErrorPolicy = "stop"
	// OnErrorSkip records the failure and continues; the run ends at least
	// partial.
	OnErrorSkip ErrorPolicy = "skip"
	// OnErrorRetry re-executes the step once synchronously; a second failure
	// behaves like stop.
	OnErrorRetry ErrorPolicy = "retry"
)

// HTTPCallConfig configures an HTTP_CALL step. When Body is nil the step
// sends the current input.
type HTTPCallConfig struct {
	EndpointCode string            `json:"endpoint_code"`
	Body         map[string]any    `json:"body,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	QueryParams  map[string]string `json:"query_params,omitempty"`
}

// TransformConfig configures a TRANSFORM step. The mapping spec is opaque to
// the runtime and interpreted by the mapping engine.
type TransformConfig struct {
	Mapping map[string]any `json:"mapping"`
}

// ConditionConfig configures a CONDITION step evaluated against the current
// input.
type ConditionConfig struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// DelayConfig configures a DELAY step.
type DelayConfig struct {
	Duration time.Duration `json:"duration"`
}

// ParallelConfig configures a PARALLEL step. Sub-steps may not nest another
// PARALLEL.
type ParallelConfig struct {
	Steps []Step `json:"steps"`
}

// Step is one unit of a flow definition. Exactly one config field matching
// Type is expected to be set.
type Step struct {
	Name      string           `json:"name"`
	Type      StepType         `json:"type"`
	OnError   ErrorPolicy      `json:"on_error,omitempty"`
	HTTP      *HTTPCallConfig  `json:"http,omitempty"`
	Transform *TransformConfig `json:"transform,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Delay     *DelayConfig     `json:"delay,omitempty"`
	Parallel  *ParallelConfig  `json:"parallel,omitempty"`
}

// Flow is a validated, immutable flow definition. The runtime never mutates
// it.
type Flow struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Steps []Step `json:"steps"`
}

// RunStatus is the overall outcome of a flow run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
)

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records one step's outcome. Duration is recorded regardless of
// outcome.
type StepResult struct {
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunResult is the immutable result of one flow execution.
type RunResult struct {
	RunID     string        `json:"run_id"`
	FlowCode  string        `json:"flow_code"`
	TenantID  string        `json:"tenant_id"`
	CreatedBy string        `json:"created_by,omitempty"`
	Status    RunStatus     `json:"status"`
	Steps     []StepResult  `json:"steps"`
	Duration  time.Duration `json:"duration"`
	StartedAt time.Time     `json:"started_at"`
}

// MappingEngine applies a mapping spec to an input value. The mapping
// language itself is a collaborator concern, not part of this runtime.
type MappingEngine interface {
	Apply(ctx context.Context, mapping map[string]any, input any) (any, error)
}

// RunLog receives step transitions for durable audit logging.
type RunLog interface {
	StartStep(ctx context.Context, runID string, index int, name string)
	CompleteStep(ctx context.Context, runID string, index int, output any, duration time.Duration)
	FailStep(ctx context.Context, runID string, index int, reason string, duration time.Duration)
}

// NopRunLog discards all step transitions.
type NopRunLog struct{}

func (NopRunLog) StartStep(context.Context, string, int, string)                  {}
func (NopRunLog) CompleteStep(context.Context, string, int, any, time.Duration)   {}
func (NopRunLog) FailStep(context.Context, string, int, string, time.Duration)    {}
