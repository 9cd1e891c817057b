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

// FileImportTask replays one export file. Retried runs resume after the
// last checkpoint of the file job.
type FileImportTask struct {
	ImportID  string `json:"import_id"`
	FileJobID string `json:"file_job_id"`
}

// Config returns the queue configuration for file import tasks.
func (t FileImportTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        importers.JobFileImport,
		MaxAttempts: 5,
		Backoff:     time.Minute,
		Timeout:     6 * time.Hour, // Large exports hold millions of entities
		Retention: &backlite.Retention{
			Duration:   72 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// FileImportProcessor creates a processor function for FileImportTask.
func FileImportProcessor(runner Runner, log *logrus.Entry) backlite.QueueProcessor[FileImportTask] {
	log = logging.OrNop(log)
	return func(ctx context.Context, task FileImportTask) error {
		if runner == nil {
			return fmt.Errorf("import runner not configured")
		}
		entry := log.WithFields(logrus.Fields{"import_id": task.ImportID, "file_job_id": task.FileJobID})

		err := runner.ProcessFile(ctx, task.FileJobID)
		return settle(entry, "file import", err)
	}
}

// NewFileImportQueue creates a backlite queue for file import tasks.
func NewFileImportQueue(runner Runner, log *logrus.Entry) backlite.Queue {
	return backlite.NewQueue(FileImportProcessor(runner, log))
}
