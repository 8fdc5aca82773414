package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/httpexec"
	"github.com/nchandravel-atlas/athyper-private-sub009/internal/hub"
)

type scriptedExecutor struct {
	mu       sync.Mutex
	calls    []string
	statuses map[string][]int // endpoint code -> status per call
	bodies   map[string]any   // endpoint code -> last request body
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{statuses: make(map[string][]int), bodies: make(map[string]any)}
}

func (e *scriptedExecutor) script(code string, statuses ...int) {
	e.statuses[code] = statuses
}

func (e *scriptedExecutor) Execute(_ context.Context, endpoint *hub.IntegrationEndpoint, req httpexec.Request, _ string) (*httpexec.Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, endpoint.Code)
	e.bodies[endpoint.Code] = req.Body

	status := 200
	if queue := e.statuses[endpoint.Code]; len(queue) > 0 {
		status = queue[0]
		e.statuses[endpoint.Code] = queue[1:]
	}
	if status < 0 {
		return nil, errors.New("network unreachable")
	}
	return &httpexec.Response{Status: status, Body: fmt.Sprintf(`{"from":%q}`, endpoint.Code), DurationMs: 1}, nil
}

type staticEndpoints map[string]*hub.IntegrationEndpoint

func (s staticEndpoints) GetByCode(_ context.Context, tenantID, code string) (*hub.IntegrationEndpoint, error) {
	ep, ok := s[code]
	if !ok || ep.TenantID != tenantID {
		return nil, hub.ErrEndpointNotFound
	}
	return ep, nil
}

type upperMapper struct{}

func (upperMapper) Apply(_ context.Context, mapping map[string]any, input any) (any, error) {
	if mapping["fail"] == true {
		return nil, errors.New("bad mapping spec")
	}
	return map[string]any{"mapped": input, "spec": mapping}, nil
}

type recordingRunLog struct {
	mu        sync.Mutex
	started   []string
	completed []string
	failed    []string
}

func (l *recordingRunLog) StartStep(_ context.Context, _ string, _ int, name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, name)
}
func (l *recordingRunLog) CompleteStep(_ context.Context, _ string, index int, _ any, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, fmt.Sprint(index))
}
func (l *recordingRunLog) FailStep(_ context.Context, _ string, index int, _ string, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failed = append(l.failed, fmt.Sprint(index))
}

func endpoint(code string) *hub.IntegrationEndpoint {
	return &hub.IntegrationEndpoint{ID: "id-" + code, TenantID: "t1", Code: code, URL: "https://api.example.com/" + code}
}

func threeStepFlow(policy ErrorPolicy) *Flow {
	return &Flow{
		Code: "enrich-order",
		Steps: []Step{
			{Name: "fetch", Type: StepHTTPCall, HTTP: &HTTPCallConfig{EndpointCode: "a"}},
			{Name: "push", Type: StepHTTPCall, OnError: policy, HTTP: &HTTPCallConfig{EndpointCode: "b"}},
			{Name: "notify", Type: StepHTTPCall, HTTP: &HTTPCallConfig{EndpointCode: "c"}},
		},
	}
}

func TestStopPolicy(t *testing.T) {
	exec := newScriptedExecutor()
	exec.script("b", 500)
	eps := staticEndpoints{"a": endpoint("a"), "b": endpoint("b"), "c": endpoint("c")}
	runner := NewRunner(eps, exec, upperMapper{}, nil)

	result, err := runner.ExecuteFlow(context.Background(), threeStepFlow(OnErrorStop), map[string]any{"in": 1}, "t1", "tester")
	require.NoError(t, err)

	assert.Equal(t, RunFailed, result.Status)
	require.Len(t, result.Steps, 3)
	assert.Equal(t, StepCompleted, result.Steps[0].Status)
	assert.Equal(t, StepFailed, result.Steps[1].Status)
	assert.Equal(t, StepSkipped, result.Steps[2].Status)
	assert.NotContains(t, exec.calls, "c", "skipped step never executes")
}

func TestSkipPolicyContinuesWithPriorOutput(t *testing.T) {
	exec := newScriptedExecutor()
	exec.script("b", 500)
	eps := staticEndpoints{"a": endpoint("a"), "b": endpoint("b"), "c": endpoint("c")}
	runner := NewRunner(eps, exec, upperMapper{}, nil)

	result, err := runner.ExecuteFlow(context.Background(), threeStepFlow(OnErrorSkip), map[string]any{"in": 1}, "t1", "tester")
	require.NoError(t, err)

	assert.Equal(t, RunPartial, result.Status)
	assert.Equal(t, StepCompleted, result.Steps[0].Status)
	assert.Equal(t, StepFailed, result.Steps[1].Status)
	assert.Equal(t, StepCompleted, result.Steps[2].Status)

	// Step 3 ran against step 1's output since step 2 produced none.
	sent, ok := exec.bodies["c"].(*httpexec.Response)
	require.True(t, ok, "step c received an earlier step's response, got %T", exec.bodies["c"])
	assert.Contains(t, sent.Body, `"a"`)
}

func TestRetryPolicySucceedsOnSecondAttempt(t *testing.T) {
	exec := newScriptedExecutor()
	exec.script("b", 500, 200)
	eps := staticEndpoints{"a": endpoint("a"), "b": endpoint("b"), "c": endpoint("c")}
	runner := NewRunner(eps, exec, upperMapper{}, nil)

	result, err := runner.ExecuteFlow(context.Background(), threeStepFlow(OnErrorRetry), nil, "t1", "tester")
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, result.Status)
	assert.Equal(t, []string{"a", "b", "b", "c"}, exec.calls)
}

func TestRetryPolicySecondFailureStops(t *testing.T) {
	exec := newScriptedExecutor()
	exec.script("b", 500, 500)
	eps := staticEndpoints{"a": endpoint("a"), "b": endpoint("b"), "c": endpoint("c")}
	runner := NewRunner(eps, exec, upperMapper{}, nil)

	result, err := runner.ExecuteFlow(context.Background(), threeStepFlow(OnErrorRetry), nil, "t1", "tester")
	require.NoError(t, err)

	assert.Equal(t, RunFailed, result.Status)
	assert.Equal(t, StepFailed, result.Steps[1].Status)
	assert.Equal(t, StepSkipped, result.Steps[2].Status)
	assert.Equal(t, []string{"a", "b", "b"}, exec.calls)
}

func TestParallelSiblingIsolation(t *testing.T) {
	exec := newScriptedExecutor()
	exec.script("bad", -1) // network error
	eps := staticEndpoints{"left": endpoint("left"), "bad": endpoint("bad"), "right": endpoint("right")}
	runner := NewRunner(eps, exec, upperMapper{}, nil)

	f := &Flow{
		Code: "fan-out",
		Steps: []Step{
			{Name: "spread", Type: StepParallel, OnError: OnErrorSkip, Parallel: &ParallelConfig{Steps: []Step{
				{Name: "l", Type: StepHTTPCall, HTTP: &HTTPCallConfig{EndpointCode: "left"}},
				{Name: "x", Type: StepHTTPCall, HTTP: &HTTPCallConfig{EndpointCode: "bad"}},
				{Name: "r", Type: StepHTTPCall, HTTP: &HTTPCallConfig{EndpointCode: "right"}},
			}}},
		},
	}

	result, err := runner.ExecuteFlow(context.Background(), f, nil, "t1", "tester")
	require.NoError(t, err)

	assert.Equal(t, RunPartial, result.Status)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, StepFailed, result.Steps[0].Status)

	combined, ok := result.Steps[0].Output.(map[string]any)
	require.True(t, ok)
	assert.IsType(t, &httpexec.Response{}, combined["0"], "left sibling output survives")
	assert.IsType(t, &httpexec.Response{}, combined["2"], "right sibling output survives")
	failure, ok := combined["1"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, failure["error"], "network unreachable")
}

func TestNestedParallelRejected(t *testing.T) {
	runner := NewRunner(staticEndpoints{}, newScriptedExecutor(), upperMapper{}, nil)

	f := &Flow{Code: "too-deep", Steps: []Step{
		{Name: "outer", Type: StepParallel, Parallel: &ParallelConfig{Steps: []Step{
			{Name: "inner", Type: StepParallel, Parallel: &ParallelConfig{Steps: []Step{
				{Name: "leaf", Type: StepDelay, Delay: &DelayConfig{Duration: time.Millisecond}},
			}}},
		}}},
	}}

	result, err := runner.ExecuteFlow(context.Background(), f, nil, "t1", "tester")
	require.NoError(t, err)
	assert.Equal(t, RunFailed, result.Status)
	assert.Contains(t, result.Steps[0].Error, "may not nest")
}

func TestTransformAndDelaySteps(t *testing.T) {
	runner := NewRunner(staticEndpoints{}, newScriptedExecutor(), upperMapper{}, nil)

	f := &Flow{Code: "shape", Steps: []Step{
		{Name: "map", Type: StepTransform, Transform: &TransformConfig{Mapping: map[string]any{"pick": "total"}}},
		{Name: "pause", Type: StepDelay, Delay: &DelayConfig{Duration: 10 * time.Millisecond}},
	}}

	start := time.Now()
	result, err := runner.ExecuteFlow(context.Background(), f, map[string]any{"total": 5}, "t1", "tester")
	require.NoError(t, err)

	assert.Equal(t, RunCompleted, result.Status)
	mapped, ok := result.Steps[0].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"total": 5}, mapped["mapped"])

	ack, ok := result.Steps[1].Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(10), ack["delayed_ms"])
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestUnknownStepTypeFailsStep(t *testing.T) {
	runner := NewRunner(staticEndpoints{}, newScriptedExecutor(), upperMapper{}, nil)

	f := &Flow{Code: "oops", Steps: []Step{
		{Name: "mystery", Type: "WEBHOOK_CALL"},
	}}

	result, err := runner.ExecuteFlow(context.Background(), f, nil, "t1", "tester")
	require.NoError(t, err)
	assert.Equal(t, RunFailed, result.Status)
	assert.Contains(t, result.Steps[0].Error, "unknown step type")
}

func TestRunLogReceivesEveryTransition(t *testing.T) {
	exec := newScriptedExecutor()
	exec.script("b", 500)
	eps := staticEndpoints{"a": endpoint("a"), "b": endpoint("b"), "c": endpoint("c")}
	runLog := &recordingRunLog{}
	runner := NewRunner(eps, exec, upperMapper{}, runLog)

	_, err := runner.ExecuteFlow(context.Background(), threeStepFlow(OnErrorSkip), nil, "t1", "tester")
	require.NoError(t, err)

	assert.Equal(t, []string{"fetch", "push", "notify"}, runLog.started)
	assert.Equal(t, []string{"0", "2"}, runLog.completed)
	assert.Equal(t, []string{"1"}, runLog.failed)
}

func TestStepDurationsAlwaysRecorded(t *testing.T) {
	exec := newScriptedExecutor()
	exec.script("b", 500)
	eps := staticEndpoints{"a": endpoint("a"), "b": endpoint("b"), "c": endpoint("c")}
	runner := NewRunner(eps, exec, upperMapper{}, nil)

	result, err := runner.ExecuteFlow(context.Background(), threeStepFlow(OnErrorSkip), nil, "t1", "tester")
	require.NoError(t, err)
	for _, sr := range result.Steps {
		assert.GreaterOrEqual(t, sr.Duration, time.Duration(0))
	}
	assert.GreaterOrEqual(t, result.Duration, time.Duration(0))
	assert.NotEmpty(t, result.RunID)
}
