// Package tracker keeps the per-session execution bookkeeping: which steps
// completed, which failed, and what each produced. The workflow config is
// what gets saved; this state never leaves the session.
package tracker

import (
	"sync"

	"github.com/apiweave/apiweave/pkg/model/mworkflow"
)

type ExecutionTracker struct {
	mu        sync.RWMutex
	completed map[string]struct{}
	failed    map[string]struct{}
	results   map[string]any
}

func New() *ExecutionTracker {
	return &ExecutionTracker{
		completed: make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		results:   make(map[string]any),
	}
}

// MarkCompleted records a successful execution. Any earlier failure mark for
// the same id is cleared.
func (t *ExecutionTracker) MarkCompleted(stepID string, data any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed[stepID] = struct{}{}
	delete(t.failed, stepID)
	t.results[stepID] = data
}

// MarkFailed records a failure; the error message becomes the step's display
// result so panels can show why it failed.
func (t *ExecutionTracker) MarkFailed(stepID string, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed[stepID] = struct{}{}
	delete(t.completed, stepID)
	t.results[stepID] = errMsg
}

func (t *ExecutionTracker) IsCompleted(stepID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.completed[stepID]
	return ok
}

func (t *ExecutionTracker) IsFailed(stepID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.failed[stepID]
	return ok
}

// Result returns the cached display result for a step id.
func (t *ExecutionTracker) Result(stepID string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.results[stepID]
	return v, ok
}

// CompletedIDs returns the ids currently marked completed, in step order.
func (t *ExecutionTracker) CompletedIDs(steps []mworkflow.ExecutionStep) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.completed))
	for _, s := range steps {
		if _, ok := t.completed[s.ID]; ok {
			out = append(out, s.ID)
		}
	}
	if _, ok := t.completed[mworkflow.FinalTransformID]; ok {
		out = append(out, mworkflow.FinalTransformID)
	}
	return out
}

func (t *ExecutionTracker) FailedIDs(steps []mworkflow.ExecutionStep) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.failed))
	for _, s := range steps {
		if _, ok := t.failed[s.ID]; ok {
			out = append(out, s.ID)
		}
	}
	if _, ok := t.failed[mworkflow.FinalTransformID]; ok {
		out = append(out, mworkflow.FinalTransformID)
	}
	return out
}

// CanExecuteStep reports whether step i may run: the first step always may,
// any later step only once its predecessor settled. A completed predecessor
// always unblocks; a failed one unblocks only when it carries CONTINUE
// failure behavior. An untested predecessor blocks.
func (t *ExecutionTracker) CanExecuteStep(i int, steps []mworkflow.ExecutionStep) bool {
	if i < 0 || i >= len(steps) {
		return false
	}
	if i == 0 {
		return true
	}
	prev := steps[i-1]
	if t.IsCompleted(prev.ID) {
		return true
	}
	return prev.FailureBehavior == mworkflow.FailureBehaviorContinue && t.IsFailed(prev.ID)
}

// CanExecuteTransform requires every step to have settled first; running the
// transform against undefined upstream state is never allowed. A failed
// CONTINUE step counts as settled, its output simply stays absent.
func (t *ExecutionTracker) CanExecuteTransform(steps []mworkflow.ExecutionStep) bool {
	for _, s := range steps {
		if t.IsCompleted(s.ID) {
			continue
		}
		if s.FailureBehavior == mworkflow.FailureBehaviorContinue && t.IsFailed(s.ID) {
			continue
		}
		return false
	}
	return true
}

// InvalidateFrom clears completion, failure, and cached results for steps
// [from..n] and the final transform. Downstream results are not trustworthy
// once an upstream step changes.
func (t *ExecutionTracker) InvalidateFrom(from int, steps []mworkflow.ExecutionStep) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := from; i < len(steps); i++ {
		id := steps[i].ID
		delete(t.completed, id)
		delete(t.failed, id)
		delete(t.results, id)
	}
	delete(t.completed, mworkflow.FinalTransformID)
	delete(t.failed, mworkflow.FinalTransformID)
	delete(t.results, mworkflow.FinalTransformID)
}

func (t *ExecutionTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = make(map[string]struct{})
	t.failed = make(map[string]struct{})
	t.results = make(map[string]any)
}

// EvolvingPayload builds step i's effective input: the initial payload merged
// with the outputs of all strictly preceding completed steps, keyed by step
// id. The initial payload additionally stays reachable under "payload".
func (t *ExecutionTracker) EvolvingPayload(initial map[string]any, steps []mworkflow.ExecutionStep, i int) map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]any, len(initial)+i+1)
	for k, v := range initial {
		out[k] = v
	}
	out["payload"] = initial
	for j := 0; j < i && j < len(steps); j++ {
		id := steps[j].ID
		if _, ok := t.completed[id]; !ok {
			continue
		}
		if v, ok := t.results[id]; ok {
			out[id] = v
		}
	}
	return out
}
