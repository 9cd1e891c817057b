// Package imports provides database operations for import and file import jobs.
//
// Every mutation reloads the row, applies a caller-supplied change and writes
// it back guarded by the row version. A lost race reloads and reapplies the
// change, so callers describe the change rather than the final row.
//
// # Usage
//
//	repo := imports.NewRepository(db)
//	job, err := repo.MutateImportJob(id, func(j *entities.ImportJob) error {
//		j.State = entities.JobStateStarted
//		return nil
//	})
package imports

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/bulkimport/internal/entities"
)

var (
	// ErrNotFound is returned when a job row does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrStaleRecord is returned when the version check keeps failing.
	ErrStaleRecord = errors.New("job record modified concurrently")
	// ErrNoChange can be returned by a mutate function to skip the write.
	ErrNoChange = errors.New("no change")
)

const maxCASAttempts = 16

// Repository handles all import job database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new import job repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateImportJob inserts a new import job at version 0.
func (r *Repository) CreateImportJob(job *entities.ImportJob) error {
	job.Version = 0
	if err := r.db.Create(job).Error; err != nil {
		return fmt.Errorf("create import job: %w", err)
	}
	return nil
}

// GetImportJob loads an import job by id.
func (r *Repository) GetImportJob(id string) (*entities.ImportJob, error) {
	var job entities.ImportJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("import job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get import job %s: %w", id, err)
	}
	return &job, nil
}

// ListImportJobs returns the most recent import jobs first.
func (r *Repository) ListImportJobs(limit int) ([]entities.ImportJob, error) {
	var jobs []entities.ImportJob
	query := r.db.Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list import jobs: %w", err)
	}
	return jobs, nil
}

// MutateImportJob applies fn to the latest copy of the job and persists the
// result with a compare-and-swap on the version column.
func (r *Repository) MutateImportJob(id string, fn func(*entities.ImportJob) error) (*entities.ImportJob, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		job, err := r.GetImportJob(id)
		if err != nil {
			return nil, err
		}
		if err := fn(job); err != nil {
			if errors.Is(err, ErrNoChange) {
				return job, nil
			}
			return nil, err
		}

		now := time.Now()
		result := r.db.Model(&entities.ImportJob{}).
			Where("id = ? AND version = ?", id, job.Version).
			Updates(map[string]any{
				"state":         job.State,
				"outcome":       job.Outcome,
				"error_message": job.ErrorMessage,
				"config":        job.Config,
				"properties":    job.Properties,
				"started_at":    job.StartedAt,
				"finished_at":   job.FinishedAt,
				"version":       job.Version + 1,
				"updated_at":    now,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("update import job %s: %w", id, result.Error)
		}
		if result.RowsAffected == 1 {
			job.Version++
			job.UpdatedAt = now
			return job, nil
		}
	}
	return nil, fmt.Errorf("import job %s: %w", id, ErrStaleRecord)
}

// CreateFileImportJob inserts a file import job linked to its parent.
func (r *Repository) CreateFileImportJob(job *entities.FileImportJob) error {
	if job.ImportJobID == "" {
		return fmt.Errorf("create file import job: missing parent import job")
	}
	job.Version = 0
	if err := r.db.Create(job).Error; err != nil {
		return fmt.Errorf("create file import job: %w", err)
	}
	return nil
}

// GetFileImportJob loads a file import job by id.
func (r *Repository) GetFileImportJob(id string) (*entities.FileImportJob, error) {
	var job entities.FileImportJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("file import job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get file import job %s: %w", id, err)
	}
	return &job, nil
}

// ListFileImportJobs returns the file jobs included in an import job, in
// creation order.
func (r *Repository) ListFileImportJobs(importJobID string) ([]entities.FileImportJob, error) {
	var jobs []entities.FileImportJob
	err := r.db.Where("import_job_id = ?", importJobID).
		Order("created_at ASC, id ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list file import jobs for %s: %w", importJobID, err)
	}
	return jobs, nil
}

// MutateFileImportJob is the file import job counterpart of MutateImportJob.
// The heartbeat column is left alone; see TouchHeartbeat.
func (r *Repository) MutateFileImportJob(id string, fn func(*entities.FileImportJob) error) (*entities.FileImportJob, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		job, err := r.GetFileImportJob(id)
		if err != nil {
			return nil, err
		}
		if err := fn(job); err != nil {
			if errors.Is(err, ErrNoChange) {
				return job, nil
			}
			return nil, err
		}

		now := time.Now()
		result := r.db.Model(&entities.FileImportJob{}).
			Where("id = ? AND version = ?", id, job.Version).
			Updates(map[string]any{
				"local_path":         job.LocalPath,
				"application_name":   job.ApplicationName,
				"completed":          job.Completed,
				"last_checkpoint_id": job.LastCheckpointID,
				"state":              job.State,
				"error_message":      job.ErrorMessage,
				"error_count":        job.ErrorCount,
				"recent_errors":      job.RecentErrors,
				"entities_written":   job.EntitiesWritten,
				"events_written":     job.EventsWritten,
				"attempts":           job.Attempts,
				"started_at":         job.StartedAt,
				"finished_at":        job.FinishedAt,
				"version":            job.Version + 1,
				"updated_at":         now,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("update file import job %s: %w", id, result.Error)
		}
		if result.RowsAffected == 1 {
			job.Version++
			job.UpdatedAt = now
			return job, nil
		}
	}
	return nil, fmt.Errorf("file import job %s: %w", id, ErrStaleRecord)
}

// TouchHeartbeat records liveness without bumping the version, so heartbeats
// never make a concurrent state change retry.
func (r *Repository) TouchHeartbeat(id string, at time.Time) error {
	result := r.db.Model(&entities.FileImportJob{}).
		Where("id = ?", id).
		UpdateColumn("heartbeat_at", at)
	if result.Error != nil {
		return fmt.Errorf("heartbeat file import job %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("file import job %s: %w", id, ErrNotFound)
	}
	return nil
}

// FindStaleFileImportJobs returns STARTED file jobs whose last heartbeat, or
// start time when none was sent, is older than before.
func (r *Repository) FindStaleFileImportJobs(before time.Time) ([]entities.FileImportJob, error) {
	var jobs []entities.FileImportJob
	err := r.db.Where("state = ?", entities.JobStateStarted).
		Where("(heartbeat_at IS NOT NULL AND heartbeat_at < ?) OR (heartbeat_at IS NULL AND started_at < ?)", before, before).
		Order("created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("find stale file import jobs: %w", err)
	}
	return jobs, nil
}
