package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/importers"
	"github.com/mrlokans/bulkimport/internal/logging"
)

// Runner is the part of the import engine driven by the queues.
type Runner interface {
	Run(ctx context.Context, importID string, cfg *importers.ImportConfig) error
	ProcessFile(ctx context.Context, fileJobID string) error
}

// ImportTask starts an import job: it resolves the scope, retrieves files and
// fans out one FileImportTask per file.
type ImportTask struct {
	ImportID string                  `json:"import_id"`
	Scope    *importers.ImportConfig `json:"scope,omitempty"`
}

// Config returns the queue configuration for import tasks.
func (t ImportTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        importers.JobImport,
		MaxAttempts: 3,
		Backoff:     30 * time.Second,
		Timeout:     30 * time.Minute, // Covers downloading every file of the scope
		Retention: &backlite.Retention{
			Duration:   72 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// ImportProcessor creates a processor function for ImportTask. Engine errors
// are already recorded on the job, so only infrastructure failures are
// handed back to backlite for a retry.
func ImportProcessor(runner Runner, log *logrus.Entry) backlite.QueueProcessor[ImportTask] {
	log = logging.OrNop(log)
	return func(ctx context.Context, task ImportTask) error {
		if runner == nil {
			return fmt.Errorf("import runner not configured")
		}
		entry := log.WithField("import_id", task.ImportID)

		err := runner.Run(ctx, task.ImportID, task.Scope)
		return settle(entry, "import", err)
	}
}

// NewImportQueue creates a backlite queue for import tasks.
func NewImportQueue(runner Runner, log *logrus.Entry) backlite.Queue {
	return backlite.NewQueue(ImportProcessor(runner, log))
}

// settle decides whether backlite should retry a failed run.
func settle(log *logrus.Entry, what string, err error) error {
	if err == nil {
		return nil
	}
	if kind := importers.KindOf(err); kind != "" {
		log.WithError(err).WithField("kind", kind).Warnf("%s settled with an error", what)
		return nil
	}
	log.WithError(err).Warnf("%s interrupted, will retry", what)
	return fmt.Errorf("%s: %w", what, err)
}
