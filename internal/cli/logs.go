package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apiweave/apiweave/pkg/engine/logstream"
)

func (r *root) logsCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Tail engine logs over the websocket stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			if r.cfg.LogStreamURL == "" {
				return fmt.Errorf("log_stream_url is not configured")
			}
			stream, err := logstream.Subscribe(cmd.Context(), logstream.Config{
				URL:    r.cfg.LogStreamURL,
				APIKey: r.cfg.APIKey,
				Logger: r.logger,
			})
			if err != nil {
				return err
			}
			defer stream.Close()
			for rec := range stream.C() {
				if runID != "" && rec.RunID != runID {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n",
					rec.Timestamp.Format("15:04:05.000"), rec.Level, rec.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only show records for this run id")
	return cmd
}
