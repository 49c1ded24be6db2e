package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apiweave/apiweave/pkg/errmap"
	"github.com/apiweave/apiweave/pkg/model/mworkflow"
)

func TestListRunsAppliesDefaultsAndFilters(t *testing.T) {
	fe := &fakeEngine{data: map[string]any{"listRuns": map[string]any{
		"items": []map[string]any{
			{"id": "run-1", "workflowId": "wf-1", "status": "success"},
			{"id": "run-2", "workflowId": "wf-1", "status": "failed", "error": "boom"},
		},
		"total": 2,
	}}}
	c := newTestClient(t, fe)

	page, err := c.ListRuns(context.Background(), ListRunsRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, mworkflow.RunStatusSuccess, page.Items[0].Status)
	assert.Equal(t, "boom", page.Items[1].Error)

	req := fe.lastRequest(t)
	assert.Equal(t, float64(1), req.variables["page"])
	assert.Equal(t, float64(DefaultRunsPageLimit), req.variables["limit"])
	assert.NotContains(t, req.variables, "workflowId", "empty filters stay off the wire")
	assert.NotContains(t, req.variables, "status")

	_, err = c.ListRuns(context.Background(), ListRunsRequest{
		WorkflowID: "wf-1",
		Status:     mworkflow.RunStatusFailed,
		Page:       3,
		Limit:      10,
	})
	require.NoError(t, err)
	req = fe.lastRequest(t)
	assert.Equal(t, "wf-1", req.variables["workflowId"])
	assert.Equal(t, "failed", req.variables["status"])
	assert.Equal(t, float64(3), req.variables["page"])
	assert.Equal(t, float64(10), req.variables["limit"])
}

func TestGetRun(t *testing.T) {
	fe := &fakeEngine{data: map[string]any{"getRun": map[string]any{
		"id":         "run-1",
		"workflowId": "wf-1",
		"status":     "running",
		"metadata":   map[string]any{"startedAt": "2026-08-30T12:00:00Z"},
	}}}
	c := newTestClient(t, fe)

	run, err := c.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", run.WorkflowID)
	assert.Equal(t, mworkflow.RunStatusRunning, run.Status)
	assert.False(t, run.Metadata.StartedAt.IsZero())

	_, err = c.GetRun(context.Background(), "")
	assert.Equal(t, errmap.CodeValidation, errmap.CodeOf(err))
	require.Len(t, fe.requests, 1, "validation failures never reach the engine")
}

func TestCancelRun(t *testing.T) {
	fe := &fakeEngine{data: map[string]any{"cancelRun": map[string]any{
		"id":         "run-1",
		"workflowId": "wf-1",
		"status":     "aborted",
		"error":      "cancelled by user",
	}}}
	c := newTestClient(t, fe)

	run, err := c.CancelRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, mworkflow.RunStatusAborted, run.Status)
	assert.Contains(t, fe.lastRequest(t).query, "cancelRun")

	_, err = c.CancelRun(context.Background(), "")
	assert.Equal(t, errmap.CodeValidation, errmap.CodeOf(err))
}
