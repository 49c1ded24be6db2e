package cli

import (
	"github.com/spf13/cobra"

	"github.com/apiweave/apiweave/pkg/engine"
	"github.com/apiweave/apiweave/pkg/model/mworkflow"
)

func (r *root) runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and cancel remote run history",
	}
	cmd.AddCommand(r.runsListCmd(), r.runsGetCmd(), r.runsCancelCmd())
	return cmd
}

func (r *root) runsListCmd() *cobra.Command {
	var (
		workflowID string
		status     string
		page       int
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := r.client()
			if err != nil {
				return err
			}
			runs, err := client.ListRuns(cmd.Context(), engine.ListRunsRequest{
				WorkflowID: workflowID,
				Status:     mworkflow.RunStatus(status),
				Page:       page,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			type row struct {
				ID       string `json:"id"`
				Workflow string `json:"workflowId"`
				Status   string `json:"status"`
				Started  string `json:"startedAt,omitempty"`
				Duration int64  `json:"durationMs,omitempty"`
			}
			rows := make([]row, 0, len(runs.Items))
			for _, run := range runs.Items {
				rw := row{
					ID:       run.ID,
					Workflow: run.WorkflowID,
					Status:   string(run.Status),
					Duration: run.Metadata.DurationMS,
				}
				if !run.Metadata.StartedAt.IsZero() {
					rw.Started = run.Metadata.StartedAt.Format("2006-01-02 15:04:05")
				}
				rows = append(rows, rw)
			}
			return printJSON(cmd, rows)
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "only runs of this workflow")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (running, success, failed, aborted)")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", engine.DefaultRunsPageLimit, "page size")
	return cmd
}

func (r *root) runsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Fetch one run with its step results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := r.client()
			if err != nil {
				return err
			}
			run, err := client.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, run)
		},
	}
}

func (r *root) runsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Abort a running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := r.client()
			if err != nil {
				return err
			}
			run, err := client.CancelRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			r.logger.Info("run cancelled", "run", run.ID, "status", run.Status)
			return printJSON(cmd, run)
		},
	}
}
