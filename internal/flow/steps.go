package flow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nchandravel-atlas/athyper-private-sub009/internal/httpexec"
)

// runContext is the mutable state threaded through one flow run. PARALLEL
// sub-steps receive it by value so they share an immutable snapshot.
type runContext struct {
	tenantID string
	runID    string
	current  any
	outputs  map[string]any
}

// executable is one runnable step kind. Implementations hold their parsed
// config and the collaborators they need.
type executable interface {
	run(ctx context.Context, rc runContext) (any, error)
}

// buildStep resolves a step definition into its executable kind. An unknown
// type or a missing config block is a configuration error.
func (r *Runner) buildStep(step Step, nested bool) (executable, error) {
	switch step.Type {
	case StepHTTPCall:
		if step.HTTP == nil {
			return nil, fmt.Errorf("step %q: HTTP_CALL requires http config", step.Name)
		}
		return &httpCallStep{cfg: step.HTTP, endpoints: r.endpoints, executor: r.executor}, nil
	case StepTransform:
		if step.Transform == nil {
			return nil, fmt.Errorf("step %q: TRANSFORM requires transform config", step.Name)
		}
		if r.mapper == nil {
			return nil, fmt.Errorf("step %q: no mapping engine configured", step.Name)
		}
		return &transformStep{cfg: step.Transform, mapper: r.mapper}, nil
	case StepCondition:
		if step.Condition == nil {
			return nil, fmt.Errorf("step %q: CONDITION requires condition config", step.Name)
		}
		return &conditionStep{cfg: step.Condition}, nil
	case StepDelay:
		if step.Delay == nil {
			return nil, fmt.Errorf("step %q: DELAY requires delay config", step.Name)
		}
		return &delayStep{cfg: step.Delay}, nil
	case StepParallel:
		if nested {
			return nil, fmt.Errorf("step %q: PARALLEL may not nest another PARALLEL", step.Name)
		}
		if step.Parallel == nil || len(step.Parallel.Steps) == 0 {
			return nil, fmt.Errorf("step %q: PARALLEL requires sub-steps", step.Name)
		}
		return &parallelStep{cfg: step.Parallel, runner: r}, nil
	default:
		return nil, fmt.Errorf("step %q: unknown step type %q", step.Name, step.Type)
	}
}

type httpCallStep struct {
	cfg       *HTTPCallConfig
	endpoints endpointResolver
	executor  httpexec.Executor
}

func (s *httpCallStep) run(ctx context.Context, rc runContext) (any, error) {
	endpoint, err := s.endpoints.GetByCode(ctx, rc.tenantID, s.cfg.EndpointCode)
	if err != nil {
		return nil, fmt.Errorf("endpoint %q: %w", s.cfg.EndpointCode, err)
	}

	var body any = s.cfg.Body
	if s.cfg.Body == nil {
		body = rc.current
	}

	resp, err := s.executor.Execute(ctx, endpoint, httpexec.Request{
		Body:        body,
		Headers:     s.cfg.Headers,
		QueryParams: s.cfg.QueryParams,
	}, rc.runID)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return resp, fmt.Errorf("endpoint %q returned HTTP %d", s.cfg.EndpointCode, resp.Status)
	}
	return resp, nil
}

type transformStep struct {
	cfg    *TransformConfig
	mapper MappingEngine
}

func (s *transformStep) run(ctx context.Context, rc runContext) (any, error) {
	out, err := s.mapper.Apply(ctx, s.cfg.Mapping, rc.current)
	if err != nil {
		return nil, fmt.Errorf("transform failed: %w", err)
	}
	return out, nil
}

type conditionStep struct {
	cfg *ConditionConfig
}

func (s *conditionStep) run(_ context.Context, rc runContext) (any, error) {
	matched, err := evalCondition(s.cfg, rc.current)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"field":    s.cfg.Field,
		"operator": s.cfg.Operator,
		"matched":  matched,
	}, nil
}

type delayStep struct {
	cfg *DelayConfig
}

func (s *delayStep) run(ctx context.Context, _ runContext) (any, error) {
	timer := time.NewTimer(s.cfg.Duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return map[string]any{"delayed_ms": s.cfg.Duration.Milliseconds()}, nil
}

type parallelStep struct {
	cfg    *ParallelConfig
	runner *Runner
}

// run fans sub-steps out concurrently. Each sub-step writes only its own
// slot; the shared run context is an immutable snapshot. A sub-step failure
// is captured in its slot and does not abort siblings.
func (s *parallelStep) run(ctx context.Context, rc runContext) (any, error) {
	outputs := make([]any, len(s.cfg.Steps))
	failures := make([]error, len(s.cfg.Steps))

	var g errgroup.Group
	for i, sub := range s.cfg.Steps {
		g.Go(func() error {
			exec, err := s.runner.buildStep(sub, true)
			if err != nil {
				failures[i] = err
				return err
			}
			out, err := exec.run(ctx, rc)
			outputs[i] = out
			if err != nil {
				failures[i] = err
			}
			return err
		})
	}
	firstErr := g.Wait()

	combined := make(map[string]any, len(s.cfg.Steps))
	for i := range s.cfg.Steps {
		key := strconv.Itoa(i)
		if failures[i] != nil {
			combined[key] = map[string]any{"error": failures[i].Error()}
			continue
		}
		combined[key] = outputs[i]
	}

	if firstErr != nil {
		return combined, fmt.Errorf("parallel group had failures: %w", firstErr)
	}
	return combined, nil
}
