package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiweave/apiweave/pkg/model/mworkflow"
)

func threeSteps() []mworkflow.ExecutionStep {
	return []mworkflow.ExecutionStep{
		{ID: "step-a"},
		{ID: "step-b"},
		{ID: "step-c"},
	}
}

func TestMarkCompletedClearsFailure(t *testing.T) {
	tr := New()
	tr.MarkFailed("step-a", "boom")
	assert.True(t, tr.IsFailed("step-a"))

	tr.MarkCompleted("step-a", map[string]any{"ok": true})
	assert.True(t, tr.IsCompleted("step-a"))
	assert.False(t, tr.IsFailed("step-a"))

	got, ok := tr.Result("step-a")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"ok": true}, got)
}

func TestCanExecuteStep(t *testing.T) {
	tr := New()
	steps := threeSteps()

	t.Run("first step always runnable", func(t *testing.T) {
		assert.True(t, tr.CanExecuteStep(0, steps))
	})

	t.Run("later step blocked until predecessor completes", func(t *testing.T) {
		assert.False(t, tr.CanExecuteStep(1, steps))
		tr.MarkCompleted("step-a", 1)
		assert.True(t, tr.CanExecuteStep(1, steps))
		assert.False(t, tr.CanExecuteStep(2, steps))
	})

	t.Run("failed predecessor still blocks", func(t *testing.T) {
		tr.MarkFailed("step-b", "boom")
		assert.False(t, tr.CanExecuteStep(2, steps))
	})

	t.Run("out of range", func(t *testing.T) {
		assert.False(t, tr.CanExecuteStep(-1, steps))
		assert.False(t, tr.CanExecuteStep(3, steps))
	})
}

func TestCanExecuteStepAfterContinueFailure(t *testing.T) {
	tr := New()
	steps := threeSteps()
	steps[0].FailureBehavior = mworkflow.FailureBehaviorContinue

	assert.False(t, tr.CanExecuteStep(1, steps), "untested predecessor blocks regardless of behavior")

	tr.MarkFailed("step-a", "boom")
	assert.True(t, tr.CanExecuteStep(1, steps))

	tr.MarkFailed("step-b", "boom")
	assert.False(t, tr.CanExecuteStep(2, steps), "failed fail-behavior predecessor still blocks")
}

func TestCanExecuteTransformWithContinueFailures(t *testing.T) {
	tr := New()
	steps := threeSteps()
	steps[1].FailureBehavior = mworkflow.FailureBehaviorContinue

	tr.MarkCompleted("step-a", nil)
	tr.MarkFailed("step-b", "boom")
	tr.MarkCompleted("step-c", nil)
	assert.True(t, tr.CanExecuteTransform(steps))

	tr.MarkFailed("step-c", "boom")
	assert.False(t, tr.CanExecuteTransform(steps), "failed fail-behavior step blocks the transform")
}

func TestCanExecuteTransform(t *testing.T) {
	tr := New()
	steps := threeSteps()

	assert.False(t, tr.CanExecuteTransform(steps))
	tr.MarkCompleted("step-a", nil)
	tr.MarkCompleted("step-b", nil)
	assert.False(t, tr.CanExecuteTransform(steps))
	tr.MarkCompleted("step-c", nil)
	assert.True(t, tr.CanExecuteTransform(steps))

	assert.True(t, tr.CanExecuteTransform(nil), "no steps means nothing to wait for")
}

func TestInvalidateFrom(t *testing.T) {
	tr := New()
	steps := threeSteps()
	tr.MarkCompleted("step-a", "a")
	tr.MarkCompleted("step-b", "b")
	tr.MarkFailed("step-c", "boom")
	tr.MarkCompleted(mworkflow.FinalTransformID, "final")

	tr.InvalidateFrom(1, steps)

	assert.True(t, tr.IsCompleted("step-a"), "steps before the edit keep their state")
	assert.False(t, tr.IsCompleted("step-b"))
	assert.False(t, tr.IsFailed("step-c"))
	assert.False(t, tr.IsCompleted(mworkflow.FinalTransformID), "transform result is downstream of every step")

	_, ok := tr.Result("step-b")
	assert.False(t, ok)
	_, ok = tr.Result("step-a")
	assert.True(t, ok)
}

func TestCompletedAndFailedIDsKeepStepOrder(t *testing.T) {
	tr := New()
	steps := threeSteps()
	tr.MarkCompleted("step-c", nil)
	tr.MarkCompleted("step-a", nil)
	tr.MarkFailed("step-b", "boom")
	tr.MarkCompleted(mworkflow.FinalTransformID, nil)

	assert.Equal(t, []string{"step-a", "step-c", mworkflow.FinalTransformID}, tr.CompletedIDs(steps))
	assert.Equal(t, []string{"step-b"}, tr.FailedIDs(steps))
}

func TestEvolvingPayload(t *testing.T) {
	tr := New()
	steps := threeSteps()
	initial := map[string]any{"userId": "u-1"}

	tr.MarkCompleted("step-a", map[string]any{"orders": 3})
	tr.MarkFailed("step-b", "boom")

	got := tr.EvolvingPayload(initial, steps, 2)

	assert.Equal(t, "u-1", got["userId"])
	assert.Equal(t, initial, got["payload"])
	assert.Equal(t, map[string]any{"orders": 3}, got["step-a"])
	assert.NotContains(t, got, "step-b", "failed steps contribute nothing")
	assert.NotContains(t, got, "step-c", "only strictly preceding steps contribute")
}

func TestEvolvingPayloadExcludesOwnAndLaterOutputs(t *testing.T) {
	tr := New()
	steps := threeSteps()
	tr.MarkCompleted("step-a", "a")
	tr.MarkCompleted("step-b", "b")

	got := tr.EvolvingPayload(map[string]any{}, steps, 1)
	assert.Contains(t, got, "step-a")
	assert.NotContains(t, got, "step-b")
}

func TestReset(t *testing.T) {
	tr := New()
	tr.MarkCompleted("step-a", "a")
	tr.MarkFailed("step-b", "boom")

	tr.Reset()

	assert.False(t, tr.IsCompleted("step-a"))
	assert.False(t, tr.IsFailed("step-b"))
	_, ok := tr.Result("step-a")
	assert.False(t, ok)
}
