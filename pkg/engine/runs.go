package engine

import (
	"context"

	"github.com/apiweave/apiweave/pkg/errmap"
	"github.com/apiweave/apiweave/pkg/model/mworkflow"
)

const queryListRuns = `
query ListRuns($workflowId: ID, $status: String, $page: Int!, $limit: Int!) {
  listRuns(workflowId: $workflowId, status: $status, page: $page, limit: $limit) {
    items { id workflowId status metadata data error stepResults }
    total
  }
}`

const queryGetRun = `
query GetRun($id: ID!) {
  getRun(id: $id) {
    id workflowId status metadata data error stepResults
  }
}`

const mutationCancelRun = `
mutation CancelRun($id: ID!) {
  cancelRun(id: $id) {
    id workflowId status metadata error
  }
}`

// DefaultRunsPageLimit matches the engine's own default page size.
const DefaultRunsPageLimit = 50

// ListRunsRequest filters the run history. Zero values mean no filter; Page
// counts from 1.
type ListRunsRequest struct {
	WorkflowID string
	Status     mworkflow.RunStatus
	Page       int
	Limit      int
}

// RunPage is one page of run history plus the total match count.
type RunPage struct {
	Items []mworkflow.Run `json:"items"`
	Total int             `json:"total"`
}

func (c *Client) ListRuns(ctx context.Context, req ListRunsRequest) (RunPage, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Limit <= 0 {
		req.Limit = DefaultRunsPageLimit
	}
	variables := map[string]any{
		"page":  req.Page,
		"limit": req.Limit,
	}
	if req.WorkflowID != "" {
		variables["workflowId"] = req.WorkflowID
	}
	if req.Status != "" {
		variables["status"] = string(req.Status)
	}
	var out struct {
		ListRuns RunPage `json:"listRuns"`
	}
	if err := c.do(ctx, "listRuns", queryListRuns, variables, &out); err != nil {
		return RunPage{}, err
	}
	return out.ListRuns, nil
}

func (c *Client) GetRun(ctx context.Context, id string) (mworkflow.Run, error) {
	if id == "" {
		return mworkflow.Run{}, errmap.Validation("id", "run id is required")
	}
	var out struct {
		GetRun mworkflow.Run `json:"getRun"`
	}
	if err := c.do(ctx, "getRun", queryGetRun, map[string]any{"id": id}, &out); err != nil {
		return mworkflow.Run{}, err
	}
	return out.GetRun, nil
}

// CancelRun aborts a running execution and returns the run in its final
// state.
func (c *Client) CancelRun(ctx context.Context, id string) (mworkflow.Run, error) {
	if id == "" {
		return mworkflow.Run{}, errmap.Validation("id", "run id is required")
	}
	var out struct {
		CancelRun mworkflow.Run `json:"cancelRun"`
	}
	if err := c.do(ctx, "cancelRun", mutationCancelRun, map[string]any{"id": id}, &out); err != nil {
		return mworkflow.Run{}, err
	}
	return out.CancelRun, nil
}
