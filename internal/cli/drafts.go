package cli

import (
	"github.com/spf13/cobra"

	"github.com/apiweave/apiweave/pkg/draftstore"
)

func (r *root) draftsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "Manage locally stored workflow drafts",
	}
	cmd.AddCommand(r.draftsListCmd(), r.draftsShowCmd(), r.draftsDeleteCmd())
	return cmd
}

func (r *root) openDrafts(cmd *cobra.Command) (*draftstore.Store, error) {
	return draftstore.Open(cmd.Context(), r.cfg.DraftDB)
}

func (r *root) draftsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := r.openDrafts(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			drafts, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			type row struct {
				ID        string `json:"id"`
				Workflow  string `json:"workflowId"`
				Steps     int    `json:"steps"`
				UpdatedAt string `json:"updatedAt"`
			}
			rows := make([]row, 0, len(drafts))
			for _, d := range drafts {
				rows = append(rows, row{
					ID:        d.ID,
					Workflow:  d.Workflow.ID,
					Steps:     len(d.Workflow.Steps),
					UpdatedAt: d.UpdatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			return printJSON(cmd, rows)
		},
	}
}

func (r *root) draftsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a draft workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := r.openDrafts(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			draft, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, draft.Workflow)
		},
	}
}

func (r *root) draftsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := r.openDrafts(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			r.logger.Info("draft deleted", "draft", args[0])
			return nil
		},
	}
}
