package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/bulkimport/internal/importers"
)

// HeartbeatStore records file import liveness.
type HeartbeatStore interface {
	TouchHeartbeat(fileJobID string, at time.Time) error
}

// Scheduler enqueues import work on the task queue. It implements
// importers.Scheduler.
type Scheduler struct {
	client *Client
	beats  HeartbeatStore
	now    func() time.Time
}

func NewScheduler(client *Client, beats HeartbeatStore) *Scheduler {
	return &Scheduler{client: client, beats: beats, now: time.Now}
}

// CreateJob enqueues the task for name, held back until notBefore. The
// returned id is the backlite task id.
func (s *Scheduler) CreateJob(ctx context.Context, name string, notBefore time.Time, data importers.JobData) (string, error) {
	task, err := taskFor(name, data)
	if err != nil {
		return "", err
	}
	ids, err := s.client.Add(task).Ctx(ctx).At(notBefore).Save()
	if err != nil {
		return "", fmt.Errorf("enqueue %s task: %w", name, err)
	}
	if len(ids) == 0 {
		return "", errors.New("enqueue returned no task id")
	}
	return ids[0], nil
}

// EnqueueCleanup asks for local copies older than retention to be purged.
func (s *Scheduler) EnqueueCleanup(ctx context.Context, retention time.Duration) error {
	hours := int(retention / time.Hour)
	if hours < 1 {
		hours = 1
	}
	if _, err := s.client.Add(CleanupWorkDirTask{RetentionHours: hours}).Ctx(ctx).Save(); err != nil {
		return fmt.Errorf("enqueue work dir cleanup: %w", err)
	}
	return nil
}

func (s *Scheduler) Heartbeat(_ context.Context, fileJobID string) error {
	return s.beats.TouchHeartbeat(fileJobID, s.now())
}

func taskFor(name string, data importers.JobData) (backlite.Task, error) {
	switch name {
	case importers.JobImport:
		if data.ImportID == "" {
			return nil, errors.New("import task needs an import id")
		}
		return ImportTask{ImportID: data.ImportID, Scope: data.Config}, nil
	case importers.JobFileImport:
		if data.FileJobID == "" {
			return nil, errors.New("file import task needs a file job id")
		}
		return FileImportTask{ImportID: data.ImportID, FileJobID: data.FileJobID}, nil
	default:
		return nil, fmt.Errorf("unknown job name %q", name)
	}
}
