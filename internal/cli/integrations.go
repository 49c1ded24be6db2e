package cli

import (
	"github.com/spf13/cobra"

	"github.com/apiweave/apiweave/pkg/engine"
	"github.com/apiweave/apiweave/pkg/model/mintegration"
)

func (r *root) integrationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "integrations",
		Aliases: []string{"integration", "int"},
		Short:   "Manage saved API connections",
	}
	cmd.AddCommand(r.integrationsListCmd(), r.integrationsUpsertCmd(), r.integrationsGetCmd())
	return cmd
}

func (r *root) integrationsListCmd() *cobra.Command {
	var (
		limit  int
		offset int
		search string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := r.client()
			if err != nil {
				return err
			}
			res, err := client.ListIntegrations(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			items := engine.FilterIntegrations(res.Items, search)
			return printJSON(cmd, items)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	cmd.Flags().StringVar(&search, "search", "", "fuzzy filter on id and host")
	return cmd
}

func (r *root) integrationsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch one integration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := r.client()
			if err != nil {
				return err
			}
			integration, err := client.GetIntegration(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, integration)
		},
	}
}

func (r *root) integrationsUpsertCmd() *cobra.Command {
	var (
		host        string
		path        string
		docURL      string
		credentials []string
		update      bool
		wait        bool
	)
	cmd := &cobra.Command{
		Use:   "upsert <id>",
		Short: "Create or update an integration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := r.client()
			if err != nil {
				return err
			}
			creds, err := parseKeyValues(credentials)
			if err != nil {
				return err
			}
			mode := mintegration.UpsertModeCreate
			if update {
				mode = mintegration.UpsertModeUpdate
			}
			integration, err := client.UpsertIntegration(cmd.Context(), args[0], mintegration.Integration{
				URLHost:          host,
				URLPath:          path,
				DocumentationURL: docURL,
				Credentials:      creds,
			}, mode)
			if err != nil {
				return err
			}
			if wait && integration.DocumentationPending {
				r.logger.Info("waiting for documentation ingestion", "id", integration.ID)
				if err := client.PollIntegrations(cmd.Context(), []string{integration.ID}, 0); err != nil {
					return err
				}
				integration, err = client.GetIntegration(cmd.Context(), integration.ID)
				if err != nil {
					return err
				}
			}
			return printJSON(cmd, integration)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "API host, e.g. https://api.stripe.com")
	cmd.Flags().StringVar(&path, "path", "", "base path")
	cmd.Flags().StringVar(&docURL, "doc-url", "", "documentation URL to ingest")
	cmd.Flags().StringArrayVar(&credentials, "credential", nil, "credential as key=value (repeatable)")
	cmd.Flags().BoolVar(&update, "update", false, "update an existing integration")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for documentation ingestion to settle")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}
