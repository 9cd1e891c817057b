package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrlokans/bulkimport/internal/config"
	"github.com/mrlokans/bulkimport/internal/entrypoint"
	"github.com/mrlokans/bulkimport/internal/importers"
)

type importOptions struct {
	Organization string
	Application  string
	Collection   string
	Wait         bool
	Timeout      time.Duration
	PollInterval time.Duration
	JSON         bool
}

func (o importOptions) validate() error {
	if o.Organization == "" {
		return errors.New("--org is required")
	}
	if o.Collection != "" && o.Application == "" {
		return errors.New("--collection needs --app")
	}
	return nil
}

const importLong = `Schedule an import of an organization, application or collection.

With --wait (the default) this process works the queue until the import
settles and prints its status. With --wait=false the import is only
queued, for a later "serve" to pick up.

The command opens the entity store itself, so it cannot run next to a
live service; use POST /api/imports there instead.`

func newImportCommand(cfg *config.Config) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import --org <name> [--app <name>] [--collection <name>]",
		Short: "Schedule an import and run it in this process",
		Long:  importLong,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := entrypoint.NewLogger(cfg)
			app, err := entrypoint.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer app.Close()

			if opts.Wait {
				workerCtx, cancel := context.WithCancel(context.Background())
				defer cancel()
				go app.Tasks.Start(workerCtx)
				defer func() {
					stopCtx, cancelStop := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancelStop()
					app.Tasks.Stop(stopCtx)
				}()
			}

			importID, err := app.Engine.Schedule(ctx, &importers.ImportConfig{
				OrganizationID: opts.Organization,
				ApplicationID:  opts.Application,
				CollectionName: opts.Collection,
			})
			if err != nil {
				if importID != "" {
					return fmt.Errorf("import %s: %w", importID, err)
				}
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Scheduled import %s\n", importID)
			if !opts.Wait {
				fmt.Fprintln(cmd.OutOrStdout(), importID)
				return nil
			}

			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
				defer cancel()
			}
			st, err := waitForImport(ctx, app.Engine, importID, opts.PollInterval)
			if err != nil {
				return fmt.Errorf("waiting for import %s: %w", importID, err)
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Organization, "org", "", "organization id or name (required)")
	cmd.Flags().StringVar(&opts.Application, "app", "", "application id or qualified name, e.g. acme/app1")
	cmd.Flags().StringVar(&opts.Collection, "collection", "", "collection name, needs --app")
	cmd.Flags().BoolVar(&opts.Wait, "wait", true, "work the queue here and wait for the import to settle")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "give up waiting after this long (0 waits forever)")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll", time.Second, "status poll interval")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the final status as JSON")
	return cmd
}
