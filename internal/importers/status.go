package importers

import (
	"github.com/mrlokans/bulkimport/internal/entities"
)

// FileStatus is the progress of one file import job.
type FileStatus struct {
	entities.FileImportJob
	RecentErrors []string `json:"recent_errors,omitempty"`
}

// ImportStatus is the queryable state of an import job and its files.
type ImportStatus struct {
	*entities.ImportJob
	Config   *ImportConfig            `json:"config,omitempty"`
	Manifest []entities.ManifestEntry `json:"manifest"`
	Files    []FileStatus             `json:"files,omitempty"`

	EntitiesWritten int64 `json:"entities_written"`
	EventsWritten   int64 `json:"events_written"`
	ErrorCount      int64 `json:"error_count"`
}

// Status reports the state, outcome and last error of an import job along
// with per-file progress.
func (s *Service) Status(importID string) (*ImportStatus, error) {
	job, err := s.jobs.GetImportJob(importID)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeConfig(job)
	if err != nil {
		return nil, err
	}
	manifest, err := job.Manifest()
	if err != nil {
		return nil, err
	}
	files, err := s.jobs.ListFileImportJobs(importID)
	if err != nil {
		return nil, err
	}

	status := &ImportStatus{
		ImportJob: job,
		Config:    cfg,
		Manifest:  manifest,
		Files:     make([]FileStatus, 0, len(files)),
	}
	for _, f := range files {
		status.Files = append(status.Files, FileStatus{FileImportJob: f, RecentErrors: f.GetRecentErrors()})
		status.EntitiesWritten += f.EntitiesWritten
		status.EventsWritten += f.EventsWritten
		status.ErrorCount += f.ErrorCount
	}
	return status, nil
}

// List returns the most recent import jobs first.
func (s *Service) List(limit int) ([]entities.ImportJob, error) {
	return s.jobs.ListImportJobs(limit)
}
