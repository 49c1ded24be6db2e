// Package heal keeps "what the user authored" and "what the engine adjusted
// to make it work" as two distinct layers. The healed layer is merged into
// the persisted definition only at save time, and any user edit after a run
// drops it: downstream healed values were computed against a configuration
// that no longer exists.
package heal

import (
	"errors"
	"sync"

	"github.com/apiweave/apiweave/pkg/flow/tracker"
	"github.com/apiweave/apiweave/pkg/model/mworkflow"
	"github.com/apiweave/apiweave/pkg/varsystem"
)

var ErrStepOutOfRange = errors.New("step index out of range")

// Snapshot is the engine's repaired view after a self-healing run.
type Snapshot struct {
	Steps          []mworkflow.ExecutionStep
	FinalTransform string
}

func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Steps) == 0 && s.FinalTransform == "")
}

type Session struct {
	mu       sync.Mutex
	original mworkflow.Workflow
	healed   *Snapshot
	tracker  *tracker.ExecutionTracker
}

func NewSession(wf mworkflow.Workflow, tr *tracker.ExecutionTracker) *Session {
	if tr == nil {
		tr = tracker.New()
	}
	return &Session{original: wf.Clone(), tracker: tr}
}

func (s *Session) Tracker() *tracker.ExecutionTracker {
	return s.tracker
}

// Workflow returns the user-authored definition; healed state never leaks
// into it.
func (s *Session) Workflow() mworkflow.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.original.Clone()
}

func (s *Session) Healed() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.healed.Empty() {
		return nil
	}
	cp := Snapshot{
		Steps:          mworkflow.CloneSteps(s.healed.Steps),
		FinalTransform: s.healed.FinalTransform,
	}
	return &cp
}

// RecordHealed stores the repaired definitions from a run. An empty snapshot
// clears any previous one.
func (s *Session) RecordHealed(steps []mworkflow.ExecutionStep, finalTransform string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &Snapshot{Steps: mworkflow.CloneSteps(steps), FinalTransform: finalTransform}
	if snap.Empty() {
		s.healed = nil
		return
	}
	s.healed = snap
}

// WorkflowForSave is what persistence gets: the healed step set when a
// non-empty snapshot exists (it is known to work), the original otherwise.
func (s *Session) WorkflowForSave() mworkflow.Workflow {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf := s.original.Clone()
	if s.healed.Empty() {
		return wf
	}
	if len(s.healed.Steps) > 0 {
		wf.Steps = mworkflow.CloneSteps(s.healed.Steps)
	}
	if s.healed.FinalTransform != "" {
		wf.FinalTransform = s.healed.FinalTransform
	}
	return wf
}

// EditStep replaces a step's api config with a user edit. The config id falls
// back to the step id so the two never silently diverge. Completion and
// failure state for this and every subsequent step is invalidated, and the
// healed snapshot is dropped as stale.
func (s *Session) EditStep(idx int, cfg mworkflow.ApiConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.original.Steps) {
		return ErrStepOutOfRange
	}
	step := &s.original.Steps[idx]
	step.ApiConfig = cfg
	step.ApiConfig.ID = step.ConfigID()

	s.tracker.InvalidateFrom(idx, s.original.Steps)
	s.healed = nil
	return nil
}

// EditStepMode updates execution mode and loop settings with the same
// invalidation semantics as EditStep.
func (s *Session) EditStepMode(idx int, mode mworkflow.ExecutionMode, loopSelector string, loopMaxIters int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.original.Steps) {
		return ErrStepOutOfRange
	}
	step := &s.original.Steps[idx]
	step.ExecutionMode = mode
	step.LoopSelector = loopSelector
	step.LoopMaxIters = loopMaxIters

	s.tracker.InvalidateFrom(idx, s.original.Steps)
	s.healed = nil
	return nil
}

// ResolvedStep returns a step's api config with credential placeholders
// substituted, for request preview panels. The stored definition keeps its
// placeholders; resolved values never flow back.
func (s *Session) ResolvedStep(idx int, vars varsystem.VarMap) (mworkflow.ApiConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.original.Steps) {
		return mworkflow.ApiConfig{}, ErrStepOutOfRange
	}
	return vars.ResolveConfig(s.original.Steps[idx].ApiConfig)
}

// EditTransform updates the final transform; only transform bookkeeping is
// invalidated, step results stay valid.
func (s *Session) EditTransform(expr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.original.FinalTransform = expr
	s.tracker.InvalidateFrom(len(s.original.Steps), s.original.Steps)
	if s.healed != nil {
		s.healed.FinalTransform = ""
		if s.healed.Empty() {
			s.healed = nil
		}
	}
}
