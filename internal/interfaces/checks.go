package interfaces

// Compile-time checks that the concrete collaborators satisfy the
// interfaces the import engine and its callers are written against.
//
// To verify all checks pass: go build ./internal/interfaces/...

import (
	"github.com/mrlokans/bulkimport/internal/cli"
	"github.com/mrlokans/bulkimport/internal/database/directory"
	"github.com/mrlokans/bulkimport/internal/database/imports"
	"github.com/mrlokans/bulkimport/internal/entitystore"
	"github.com/mrlokans/bulkimport/internal/http"
	"github.com/mrlokans/bulkimport/internal/importers"
	"github.com/mrlokans/bulkimport/internal/scheduler"
	"github.com/mrlokans/bulkimport/internal/storage"
	"github.com/mrlokans/bulkimport/internal/storage/providers/local"
	"github.com/mrlokans/bulkimport/internal/storage/providers/s3"
	"github.com/mrlokans/bulkimport/internal/tasks"
)

// =============================================================================
// Job Records
// =============================================================================

var _ importers.JobStore = (*imports.Repository)(nil)
var _ importers.Directory = (*directory.Repository)(nil)
var _ tasks.HeartbeatStore = (*imports.Repository)(nil)
var _ scheduler.StaleFinder = (*imports.Repository)(nil)

// =============================================================================
// Target Store and Blob Storage
// =============================================================================

var _ importers.EntityStore = (*entitystore.Store)(nil)
var _ importers.BlobRetriever = (*storage.Retriever)(nil)
var _ storage.Client = (*local.Client)(nil)
var _ storage.Client = (*s3.Client)(nil)

// =============================================================================
// Task Queue
// =============================================================================

var _ importers.Scheduler = (*tasks.Scheduler)(nil)
var _ scheduler.Enqueuer = (*tasks.Scheduler)(nil)
var _ tasks.Runner = (*importers.Service)(nil)
var _ tasks.WorkDirCleaner = (*importers.Service)(nil)
var _ scheduler.Abandoner = (*importers.Service)(nil)
var _ http.TaskStatusGetter = (*tasks.Client)(nil)

// =============================================================================
// Outer Surfaces
// =============================================================================

var _ http.ImportService = (*importers.Service)(nil)
var _ cli.StatusReader = (*importers.Service)(nil)
var _ cli.EntityInspector = (*entitystore.Store)(nil)
