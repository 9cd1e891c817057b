package importers

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/mrlokans/bulkimport/internal/database/imports"
	"github.com/mrlokans/bulkimport/internal/entities"
)

// PurgeLocalCopies removes downloaded files of imports that settled before
// the cutoff and clears their local paths. It returns the number of files
// removed. A file job that runs again re-fetches its copy.
func (s *Service) PurgeLocalCopies(olderThan time.Duration) (int, error) {
	cutoff := s.opts.Now().Add(-olderThan)
	jobs, err := s.jobs.ListImportJobs(0)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, job := range jobs {
		if !job.State.IsTerminal() || job.FinishedAt == nil || job.FinishedAt.After(cutoff) {
			continue
		}
		files, err := s.jobs.ListFileImportJobs(job.ID)
		if err != nil {
			return removed, err
		}
		for _, fj := range files {
			if fj.LocalPath == "" {
				continue
			}
			if err := os.Remove(fj.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return removed, fmt.Errorf("remove local copy of %s: %w", fj.FileName, err)
			}
			_, err := s.jobs.MutateFileImportJob(fj.ID, func(f *entities.FileImportJob) error {
				if f.LocalPath == "" {
					return imports.ErrNoChange
				}
				f.LocalPath = ""
				return nil
			})
			if err != nil {
				return removed, err
			}
			removed++
		}
	}
	if removed > 0 {
		s.log.WithField("files", removed).Info("purged local copies of settled imports")
	}
	return removed, nil
}
