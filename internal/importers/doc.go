// Package importers replays exported datasets from blob storage into the
// entity store.
//
// # Architecture
//
// An import runs as a small job hierarchy driven by the scheduler:
//
//	Schedule → ImportJob (CREATED → SCHEDULED)
//	Run      → scope → blob prefix → files → one FileImportJob per file
//	ProcessFile → Producer → Dispatcher → EntityStore, then Aggregate
//
// The Producer walks one file with a token cursor and turns every record into
// an EntityWrite followed by its ConnectionWrites and DictionaryWrites. The
// Dispatcher applies those events with a bounded pool of workers, records
// write failures without stopping, and periodically persists a checkpoint:
// the uuid of the newest record whose events, and every earlier record's, have
// settled. A re-invoked file job resumes strictly after that record.
//
// Aggregate folds sibling file jobs into the parent: any FAILED file fails
// the import, all FINISHED finishes it. Job records carry a version column and
// every change goes through a compare-and-swap, so sibling files completing
// at the same time cannot lose each other's updates.
//
// # Errors
//
// Engine failures are *Error values with a Kind; use errors.Is with
// ErrConfiguration, ErrNotFound, ErrParse, ErrWrite, ErrScheduling or
// ErrRetrieval to classify them.
//
// # Example Usage
//
//	svc := importers.NewService(jobs, dir, blobs, store, scheduler, importers.Options{})
//	id, err := svc.Schedule(ctx, &importers.ImportConfig{OrganizationID: "acme"})
//	// later, from the scheduler:
//	err = svc.Run(ctx, id, nil)
//	err = svc.ProcessFile(ctx, fileJobID)
package importers
