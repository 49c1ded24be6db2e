// Package cli wires the cobra command tree for the apiweave binary.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/apiweave/apiweave/internal/config"
	"github.com/apiweave/apiweave/pkg/engine"
)

type root struct {
	cfgFile  string
	logLevel string

	cfg    config.Config
	logger *slog.Logger
}

// New builds the root command with all subcommands attached.
func New() *cobra.Command {
	r := &root{}
	cmd := &cobra.Command{
		Use:           "apiweave",
		Short:         "Author, test, and save API workflows against the apiweave engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(r.cfgFile)
			if err != nil {
				return err
			}
			if r.logLevel != "" {
				cfg.LogLevel = r.logLevel
			}
			r.cfg = cfg
			r.logger = newLogger(cfg.LogLevel)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&r.cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&r.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		r.integrationsCmd(),
		r.workflowCmd(),
		r.draftsCmd(),
		r.logsCmd(),
	)
	return cmd
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func (r *root) client() (*engine.Client, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		Endpoint: r.cfg.Endpoint,
		APIKey:   r.cfg.APIKey,
		Timeout:  r.cfg.Timeout,
		Logger:   r.logger,
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := marshalIndent(v)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
