package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/logging"
)

// WorkDirCleaner removes downloaded export files that are no longer needed.
type WorkDirCleaner interface {
	PurgeLocalCopies(olderThan time.Duration) (int, error)
}

// CleanupWorkDirTask removes local copies of imports settled more than
// RetentionHours ago.
type CleanupWorkDirTask struct {
	RetentionHours int `json:"retention_hours"`
}

// Config returns the queue configuration for cleanup tasks.
func (t CleanupWorkDirTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "cleanup_work_dir",
		MaxAttempts: 1,
		Backoff:     time.Minute,
		Timeout:     10 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// CleanupWorkDirProcessor creates a processor function for CleanupWorkDirTask.
func CleanupWorkDirProcessor(cleaner WorkDirCleaner, log *logrus.Entry) backlite.QueueProcessor[CleanupWorkDirTask] {
	log = logging.OrNop(log)
	return func(ctx context.Context, task CleanupWorkDirTask) error {
		if cleaner == nil {
			return fmt.Errorf("work dir cleaner not configured")
		}

		removed, err := cleaner.PurgeLocalCopies(time.Duration(task.RetentionHours) * time.Hour)
		if err != nil {
			return fmt.Errorf("cleanup work dir: %w", err)
		}

		log.WithField("removed", removed).Info("Cleaned up import work dir")
		return nil
	}
}

// NewCleanupWorkDirQueue creates a backlite queue for work dir cleanup tasks.
func NewCleanupWorkDirQueue(cleaner WorkDirCleaner, log *logrus.Entry) backlite.Queue {
	return backlite.NewQueue(CleanupWorkDirProcessor(cleaner, log))
}
