package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mrlokans/bulkimport/internal/config"
	"github.com/mrlokans/bulkimport/internal/database"
	"github.com/mrlokans/bulkimport/internal/database/directory"
	"github.com/mrlokans/bulkimport/internal/entities"
	"github.com/mrlokans/bulkimport/internal/entitystore"
)

// EntityInspector is the read side of the entity store.
type EntityInspector interface {
	Collections(appID string) ([]string, error)
	Count(appID string) (int, error)
	Get(ctx context.Context, appID string, ref entities.EntityRef) (*entities.Entity, error)
	Connections(appID, ownerID string) ([]entitystore.Connection, error)
	Dictionary(appID, ownerID, name string) (map[string]any, error)
}

type entitiesOptions struct {
	Entity       string
	Dictionaries []string
	JSON         bool
}

// entityReport is what the entities command prints.
type entityReport struct {
	Application  string                    `json:"application"`
	Collections  []string                  `json:"collections"`
	Entities     int                       `json:"entities"`
	Entity       *entities.Entity          `json:"entity,omitempty"`
	Connections  []entitystore.Connection  `json:"connections,omitempty"`
	Dictionaries map[string]map[string]any `json:"dictionaries,omitempty"`
}

func newEntitiesCommand(cfg *config.Config) *cobra.Command {
	var opts entitiesOptions

	cmd := &cobra.Command{
		Use:   "entities <app>",
		Short: "Show what has been imported into an application",
		Long: `Show the collections and entity count of an application, given by id or
as org/app. With --entity, also show that entity with its connections and
the dictionaries named by --dict. Like import, this opens the entity store
directly and cannot run next to a live service.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.NewDatabase(cfg.Database.Path, nil)
			if err != nil {
				return err
			}
			defer db.Close()

			app, err := directory.NewRepository(db.DB).GetApplication(args[0])
			if err != nil {
				return fmt.Errorf("application %s: %w", args[0], err)
			}

			store, err := entitystore.Open(cfg.EntityStore, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			report, err := inspectEntities(cmd.Context(), store, app, opts)
			if err != nil {
				return err
			}
			if opts.JSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printEntityReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Entity, "entity", "", "uuid of an entity to show")
	cmd.Flags().StringSliceVar(&opts.Dictionaries, "dict", nil, "dictionary of --entity to show, repeatable")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print as JSON")
	return cmd
}

func inspectEntities(ctx context.Context, store EntityInspector, app *entities.Application, opts entitiesOptions) (*entityReport, error) {
	report := &entityReport{Application: app.Name}

	var err error
	if report.Collections, err = store.Collections(app.ID); err != nil {
		return nil, err
	}
	if report.Entities, err = store.Count(app.ID); err != nil {
		return nil, err
	}
	if opts.Entity == "" {
		return report, nil
	}

	if report.Entity, err = store.Get(ctx, app.ID, entities.EntityRef{ID: opts.Entity}); err != nil {
		return nil, err
	}
	if report.Connections, err = store.Connections(app.ID, opts.Entity); err != nil {
		return nil, err
	}
	for _, name := range opts.Dictionaries {
		dict, err := store.Dictionary(app.ID, opts.Entity, name)
		if err != nil {
			return nil, err
		}
		if dict == nil {
			continue
		}
		if report.Dictionaries == nil {
			report.Dictionaries = make(map[string]map[string]any)
		}
		report.Dictionaries[name] = dict
	}
	return report, nil
}

func printEntityReport(w io.Writer, r *entityReport) {
	fmt.Fprintf(w, "Application %s\n", r.Application)
	fmt.Fprintf(w, "  Entities:    %d\n", r.Entities)
	fmt.Fprintf(w, "  Collections: %d\n", len(r.Collections))
	for _, name := range r.Collections {
		fmt.Fprintf(w, "    %s\n", name)
	}
	if r.Entity == nil {
		return
	}

	fmt.Fprintf(w, "Entity %s (%s)\n", r.Entity.ID, r.Entity.Type)
	keys := make([]string, 0, len(r.Entity.Properties))
	for k := range r.Entity.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %v\n", k, r.Entity.Properties[k])
	}
	for _, c := range r.Connections {
		fmt.Fprintf(w, "  -%s-> %s\n", c.Relation, c.Target)
	}
	names := make([]string, 0, len(r.Dictionaries))
	for name := range r.Dictionaries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  dictionary %s: %d entries\n", name, len(r.Dictionaries[name]))
	}
}
