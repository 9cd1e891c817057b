package cli

import (
	"github.com/spf13/cobra"

	"github.com/mrlokans/bulkimport/internal/config"
	"github.com/mrlokans/bulkimport/internal/entrypoint"
)

func newServeCommand(cfg *config.Config, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, task workers and watchdog",
		RunE: func(*cobra.Command, []string) error {
			return entrypoint.Run(cfg, version)
		},
	}
	cmd.Flags().Int32Var(&cfg.HTTP.Port, "port", cfg.HTTP.Port, "HTTP port")
	cmd.Flags().BoolVar(&cfg.Tasks.Enabled, "workers", cfg.Tasks.Enabled, "process queued imports in this process")
	return cmd
}
