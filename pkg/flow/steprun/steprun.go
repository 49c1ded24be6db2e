// Package steprun executes a workflow's steps one at a time against the
// engine, so partial progress and partial failure stay visible and
// recoverable. Steps run strictly in index order; each step's input is the
// evolving payload built from the initial payload plus all prior outputs.
package steprun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/apiweave/apiweave/pkg/engine"
	"github.com/apiweave/apiweave/pkg/expression"
	"github.com/apiweave/apiweave/pkg/flow/tracker"
	"github.com/apiweave/apiweave/pkg/idwrap"
	"github.com/apiweave/apiweave/pkg/model/mworkflow"
	"github.com/apiweave/apiweave/pkg/varsystem"
)

// StepExecutor is the slice of the engine client the runner needs.
// engine.StepClient satisfies it.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step mworkflow.ExecutionStep, payload map[string]any, credentials map[string]string, selfHealing bool) (engine.StepOutcome, error)
	ExecuteTransform(ctx context.Context, req engine.TransformRequest) (engine.TransformOutcome, error)
}

var (
	ErrStepNotReady      = errors.New("previous step has not completed")
	ErrTransformNotReady = errors.New("not all steps have completed")
	ErrStepOutOfRange    = errors.New("step index out of range")
)

type Runner struct {
	exec    StepExecutor
	tracker *tracker.ExecutionTracker
	logger  *slog.Logger
	stopped atomic.Bool
}

func New(exec StepExecutor, tr *tracker.ExecutionTracker, logger *slog.Logger) *Runner {
	if tr == nil {
		tr = tracker.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{exec: exec, tracker: tr, logger: logger}
}

func (r *Runner) Tracker() *tracker.ExecutionTracker {
	return r.tracker
}

// Stop requests a cooperative halt: the step currently running finishes, then
// the remainder of the sequence is skipped and left pending.
func (r *Runner) Stop() {
	r.stopped.Store(true)
}

func (r *Runner) Stopped() bool {
	return r.stopped.Load()
}

// StepOutput pairs a step's result with any self-healed definition the engine
// returned for it. The healed config is surfaced, never applied in place.
type StepOutput struct {
	Result mworkflow.StepExecutionResult
	Healed *mworkflow.ExecutionStep
}

// ExecuteStep runs exactly one step. Gating violations return ErrStepNotReady;
// execution failures, remote or transport, are recorded on the result rather
// than returned as errors.
func (r *Runner) ExecuteStep(ctx context.Context, wf *mworkflow.Workflow, idx int, payload map[string]any, credentials map[string]string, selfHealing bool) (StepOutput, error) {
	if idx < 0 || idx >= len(wf.Steps) {
		return StepOutput{}, ErrStepOutOfRange
	}
	if !r.tracker.CanExecuteStep(idx, wf.Steps) {
		return StepOutput{}, fmt.Errorf("step %d: %w", idx, ErrStepNotReady)
	}

	step := wf.Steps[idx]
	evolving := r.tracker.EvolvingPayload(payload, wf.Steps, idx)
	started := time.Now()

	var out StepOutput
	switch step.ExecutionMode {
	case mworkflow.ExecutionModeLoop:
		out = r.executeLoop(ctx, step, evolving, credentials, selfHealing)
	default:
		out = r.executeDirect(ctx, step, evolving, credentials, selfHealing)
	}
	out.Result.StepID = step.ID
	out.Result.StartedAt = started
	out.Result.CompletedAt = time.Now()

	if out.Result.Success {
		r.tracker.MarkCompleted(step.ID, out.Result.Data)
	} else {
		r.tracker.MarkFailed(step.ID, out.Result.Error)
	}
	return out, nil
}

func (r *Runner) executeDirect(ctx context.Context, step mworkflow.ExecutionStep, payload map[string]any, credentials map[string]string, selfHealing bool) StepOutput {
	outcome, err := r.exec.ExecuteStep(ctx, step, payload, credentials, selfHealing)
	if err != nil {
		return StepOutput{Result: mworkflow.StepExecutionResult{Error: err.Error()}}
	}
	return StepOutput{
		Result: mworkflow.StepExecutionResult{
			Success: outcome.Success,
			Data:    outcome.Data,
			Error:   outcome.Error,
		},
		Healed: outcome.Config,
	}
}

// executeLoop resolves the loop selector against the evolving payload and
// drives one engine call per item, never past the iteration ceiling.
func (r *Runner) executeLoop(ctx context.Context, step mworkflow.ExecutionStep, payload map[string]any, credentials map[string]string, selfHealing bool) StepOutput {
	if step.LoopSelector == "" {
		return StepOutput{Result: mworkflow.StepExecutionResult{Error: "loop step has no selector"}}
	}
	selector, err := expression.NormalizeExpression(ctx, step.LoopSelector, varsystem.NewVarMap(credentials))
	if err != nil {
		return StepOutput{Result: mworkflow.StepExecutionResult{Error: err.Error()}}
	}
	env := expression.NewEnv(payload)
	items, err := expression.EvaluateAsArray(ctx, env, selector)
	if err != nil {
		return StepOutput{Result: mworkflow.StepExecutionResult{Error: err.Error()}}
	}

	maxIters := step.EffectiveLoopMaxIters()
	if len(items) > maxIters {
		r.logger.Warn("loop selector yielded more items than the ceiling, truncating",
			"stepId", step.ID, "items", len(items), "maxIters", maxIters)
		items = items[:maxIters]
	}

	var healed *mworkflow.ExecutionStep
	collected := make([]any, 0, len(items))
	for i, item := range items {
		itemPayload := make(map[string]any, len(payload)+2)
		for k, v := range payload {
			itemPayload[k] = v
		}
		itemPayload["currentItem"] = item
		itemPayload["currentIndex"] = i

		outcome, err := r.exec.ExecuteStep(ctx, step, itemPayload, credentials, selfHealing)
		if err != nil {
			return StepOutput{Result: mworkflow.StepExecutionResult{
				Error: fmt.Sprintf("iteration %d: %s", i, err.Error()),
			}, Healed: healed}
		}
		if !outcome.Success {
			return StepOutput{Result: mworkflow.StepExecutionResult{
				Error: fmt.Sprintf("iteration %d: %s", i, outcome.Error),
			}, Healed: healed}
		}
		if outcome.Config != nil {
			healed = outcome.Config
		}
		collected = append(collected, outcome.Data)
	}
	return StepOutput{
		Result: mworkflow.StepExecutionResult{Success: true, Data: collected},
		Healed: healed,
	}
}

// RunOptions configures a full workflow run.
type RunOptions struct {
	SelfHealing bool
	// OnStep is invoked after each step's result is recorded, in order.
	OnStep func(mworkflow.StepExecutionResult)
}

// RunOutput is the aggregate of a full run plus any self-healed definitions,
// kept apart from the authored workflow until an explicit save.
type RunOutput struct {
	Result          mworkflow.WorkflowResult
	HealedSteps     []mworkflow.ExecutionStep
	HealedTransform string
	CompletedIDs    []string
	FailedIDs       []string
}

// ExecuteWorkflow runs all steps in order, short-circuiting on the first
// failure of a FAIL-behavior step; remaining steps are left pending. A failed
// CONTINUE step records its failure and the run proceeds. After the last step
// it runs the final transform, tracked under the reserved synthetic id.
func (r *Runner) ExecuteWorkflow(ctx context.Context, wf *mworkflow.Workflow, payload map[string]any, credentials map[string]string, opts RunOptions) (RunOutput, error) {
	if err := wf.Validate(); err != nil {
		return RunOutput{}, err
	}
	r.stopped.Store(false)

	run := RunOutput{}
	result := mworkflow.WorkflowResult{
		ID:        idwrap.NewNow().String(),
		StartedAt: time.Now(),
	}

	healedSteps := mworkflow.CloneSteps(wf.Steps)
	anyHealed := false
	halted := false

	for idx := range wf.Steps {
		if r.stopped.Load() || ctx.Err() != nil {
			halted = true
			break
		}
		out, err := r.ExecuteStep(ctx, wf, idx, payload, credentials, opts.SelfHealing)
		if err != nil {
			return RunOutput{}, err
		}
		if out.Healed != nil {
			healedSteps[idx] = *out.Healed
			if healedSteps[idx].ID == "" {
				healedSteps[idx].ID = wf.Steps[idx].ID
			}
			anyHealed = true
		}
		result.StepResults = append(result.StepResults, out.Result)
		if opts.OnStep != nil {
			opts.OnStep(out.Result)
		}
		if !out.Result.Success {
			if wf.Steps[idx].FailureBehavior == mworkflow.FailureBehaviorContinue {
				r.logger.Warn("step failed, continuing per failure behavior",
					"stepId", wf.Steps[idx].ID, "error", out.Result.Error)
				continue
			}
			result.Error = out.Result.Error
			halted = true
			break
		}
	}

	if !halted {
		stepData := r.stepData(wf.Steps)
		outcome, err := r.exec.ExecuteTransform(ctx, engine.TransformRequest{
			Transform:      wf.FinalTransform,
			ResponseSchema: wf.ResponseSchema,
			InputSchema:    wf.InputSchema,
			Payload:        payload,
			StepData:       stepData,
			SelfHealing:    opts.SelfHealing,
		})
		transformResult := mworkflow.StepExecutionResult{
			StepID:      mworkflow.FinalTransformID,
			StartedAt:   time.Now(),
			CompletedAt: time.Now(),
		}
		switch {
		case err != nil:
			transformResult.Error = err.Error()
		case !outcome.Success:
			transformResult.Error = outcome.Error
		default:
			transformResult.Success = true
			transformResult.Data = outcome.Data
			result.Success = true
			result.Data = outcome.Data
			if outcome.Transform != "" && outcome.Transform != wf.FinalTransform {
				run.HealedTransform = outcome.Transform
			}
		}
		if transformResult.Success {
			r.tracker.MarkCompleted(mworkflow.FinalTransformID, transformResult.Data)
		} else {
			r.tracker.MarkFailed(mworkflow.FinalTransformID, transformResult.Error)
			result.Error = transformResult.Error
		}
		result.StepResults = append(result.StepResults, transformResult)
		if opts.OnStep != nil {
			opts.OnStep(transformResult)
		}
	}

	result.CompletedAt = time.Now()

	snapshot := wf.Clone()
	if anyHealed {
		snapshot.Steps = healedSteps
		run.HealedSteps = healedSteps
	}
	if run.HealedTransform != "" {
		snapshot.FinalTransform = run.HealedTransform
	}
	result.Config = &snapshot

	run.Result = result
	run.CompletedIDs = r.tracker.CompletedIDs(wf.Steps)
	run.FailedIDs = r.tracker.FailedIDs(wf.Steps)
	return run, nil
}

// ExecuteTransform tests the final transform in isolation; every step must
// already be completed.
func (r *Runner) ExecuteTransform(ctx context.Context, wf *mworkflow.Workflow, payload map[string]any, selfHealing bool) (mworkflow.StepExecutionResult, error) {
	if !r.tracker.CanExecuteTransform(wf.Steps) {
		return mworkflow.StepExecutionResult{}, ErrTransformNotReady
	}
	started := time.Now()
	outcome, err := r.exec.ExecuteTransform(ctx, engine.TransformRequest{
		Transform:      wf.FinalTransform,
		ResponseSchema: wf.ResponseSchema,
		InputSchema:    wf.InputSchema,
		Payload:        payload,
		StepData:       r.stepData(wf.Steps),
		SelfHealing:    selfHealing,
	})
	result := mworkflow.StepExecutionResult{
		StepID:      mworkflow.FinalTransformID,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	switch {
	case err != nil:
		result.Error = err.Error()
	case !outcome.Success:
		result.Error = outcome.Error
	default:
		result.Success = true
		result.Data = outcome.Data
	}
	if result.Success {
		r.tracker.MarkCompleted(mworkflow.FinalTransformID, result.Data)
	} else {
		r.tracker.MarkFailed(mworkflow.FinalTransformID, result.Error)
	}
	return result, nil
}

func (r *Runner) stepData(steps []mworkflow.ExecutionStep) map[string]any {
	out := make(map[string]any, len(steps))
	for _, s := range steps {
		if v, ok := r.tracker.Result(s.ID); ok && r.tracker.IsCompleted(s.ID) {
			out[s.ID] = v
		}
	}
	return out
}
