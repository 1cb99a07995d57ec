package cli

import (
	"github.com/bassista/go_leaf/internal/config"
	"github.com/bassista/go_leaf/internal/logger"
	"github.com/gogpu/gg"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configDir string
	logLevel  string
}

// NewRootCmd builds the leafctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "leafctl",
		Short: "Render, export and inspect page backgrounds",
		Long: `leafctl works on the same document, texture store and export directory
as the leaf server, without running it.

Configuration comes from config.yaml in --config and LEAF_* environment
variables, exactly as for the server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			if err := logger.Configure(opts.logLevel, "text"); err != nil {
				return err
			}
			gg.SetLogger(logger.Slog())
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configDir, "config", envOr("LEAF_CONFIG_DIR", "./config"), "Directory holding config.yaml")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newRenderCmd())
	cmd.AddCommand(newExportCmd(opts))
	cmd.AddCommand(newInspectCmd(opts))

	return cmd
}
