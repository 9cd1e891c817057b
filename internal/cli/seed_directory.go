package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrlokans/bulkimport/internal/config"
	"github.com/mrlokans/bulkimport/internal/database"
	"github.com/mrlokans/bulkimport/internal/database/directory"
)

func newSeedDirectoryCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:     "seed-directory <org>[/<app>]...",
		Short:   "Register organizations and applications so imports can resolve them",
		Example: "  bulkimport seed-directory acme acme/app1 globex/crm",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.NewDatabase(cfg.Database.Path, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			return seedDirectory(cmd.OutOrStdout(), directory.NewRepository(db.DB), args)
		},
	}
}

func seedDirectory(w io.Writer, repo *directory.Repository, names []string) error {
	for _, name := range names {
		orgName, appName, qualified := strings.Cut(name, "/")
		if !qualified {
			org, err := repo.EnsureOrganization(orgName)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "organization %-30s %s\n", org.Name, org.ID)
			continue
		}
		app, err := repo.EnsureApplication(orgName, appName)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "application  %-30s %s\n", app.Name, app.ID)
	}
	return nil
}
