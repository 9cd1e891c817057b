// Package cli holds the bulkimport command line: the service itself plus
// one-shot commands for running and inspecting imports.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mrlokans/bulkimport/internal/config"
	"github.com/mrlokans/bulkimport/internal/entrypoint"
)

// NewRootCommand builds the command tree. Configuration comes from the
// environment; --db overrides the job database path for every command.
// Running without a subcommand starts the service.
func NewRootCommand(version string) *cobra.Command {
	cfg := config.NewConfig()

	cmd := &cobra.Command{
		Use:           "bulkimport",
		Short:         "Bulk import of exported entities into application partitions",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(*cobra.Command, []string) error {
			return entrypoint.Run(cfg, version)
		},
	}
	cmd.PersistentFlags().StringVar(&cfg.Database.Path, "db", cfg.Database.Path, "path to the job database")

	cmd.AddCommand(newServeCommand(cfg, version))
	cmd.AddCommand(newImportCommand(cfg))
	cmd.AddCommand(newStatusCommand(cfg))
	cmd.AddCommand(newSeedDirectoryCommand(cfg))
	cmd.AddCommand(newEntitiesCommand(cfg))
	return cmd
}

func Execute(version string) {
	if err := NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err.Error())
		os.Exit(1)
	}
}
