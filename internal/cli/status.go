package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/mrlokans/bulkimport/internal/config"
	"github.com/mrlokans/bulkimport/internal/database"
	"github.com/mrlokans/bulkimport/internal/database/imports"
	"github.com/mrlokans/bulkimport/internal/importers"
)

// StatusReader is the part of the engine the status output needs.
type StatusReader interface {
	Status(importID string) (*importers.ImportStatus, error)
}

type statusOptions struct {
	JSON bool
}

func newStatusCommand(cfg *config.Config) *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status <import-id>",
		Short: "Show the state of an import job and its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.NewDatabase(cfg.Database.Path, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			// Status only reads job records.
			engine := importers.NewService(imports.NewRepository(db.DB), nil, nil, nil, nil, importers.Options{})
			st, err := engine.Status(args[0])
			if err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the status as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStatus(w io.Writer, st *importers.ImportStatus) {
	fmt.Fprintf(w, "Import %s\n", st.ID)
	fmt.Fprintf(w, "  State:    %s\n", st.State)
	if st.Outcome != "" {
		fmt.Fprintf(w, "  Outcome:  %s\n", st.Outcome)
	}
	if st.Config != nil {
		scope := st.Config.OrganizationID
		if st.Config.ApplicationID != "" {
			scope += " / " + st.Config.ApplicationID
		}
		if st.Config.CollectionName != "" {
			scope += " / " + st.Config.CollectionName
		}
		fmt.Fprintf(w, "  Scope:    %s\n", scope)
	}
	if st.ErrorMessage != "" {
		fmt.Fprintf(w, "  Error:    %s\n", st.ErrorMessage)
	}
	fmt.Fprintf(w, "  Entities: %d  Events: %d  Errors: %d\n", st.EntitiesWritten, st.EventsWritten, st.ErrorCount)

	if len(st.Files) == 0 {
		return
	}
	fmt.Fprintf(w, "\nFiles (%d):\n", len(st.Files))
	for _, f := range st.Files {
		fmt.Fprintf(w, "  %-40s %-9s entities=%d events=%d errors=%d attempts=%d\n",
			f.FileName, f.State, f.EntitiesWritten, f.EventsWritten, f.ErrorCount, f.Attempts)
		for _, msg := range f.RecentErrors {
			fmt.Fprintf(w, "      ! %s\n", msg)
		}
	}
}

// waitForImport polls until the import reaches a terminal state or ctx ends.
func waitForImport(ctx context.Context, engine StatusReader, importID string, every time.Duration) (*importers.ImportStatus, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		st, err := engine.Status(importID)
		if err != nil {
			return nil, err
		}
		if st.State.IsTerminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}
