package importers

import (
	"context"
	"fmt"

	"github.com/mrlokans/bulkimport/internal/database/imports"
	"github.com/mrlokans/bulkimport/internal/entities"
)

// Aggregate recomputes the parent import state from its file import jobs:
// any FAILED file fails the import, all FINISHED finishes it, anything else
// leaves it untouched. The sibling list is re-read inside every
// compare-and-swap attempt, so concurrent completions converge on the same
// result and repeated calls are harmless.
func (s *Service) Aggregate(ctx context.Context, importID string) error {
	s.m.aggregateRuns.Inc()

	var settled bool
	job, err := s.jobs.MutateImportJob(importID, func(j *entities.ImportJob) error {
		settled = false
		if j.State.IsTerminal() {
			return imports.ErrNoChange
		}
		files, err := s.jobs.ListFileImportJobs(importID)
		if err != nil {
			return err
		}
		state, msg := aggregateState(files)
		if state == "" || !j.State.CanTransition(state) {
			return imports.ErrNoChange
		}

		now := s.opts.Now()
		j.State = state
		j.ErrorMessage = msg
		j.FinishedAt = &now
		if state == entities.JobStateFailed {
			j.Outcome = entities.ImportOutcomeFailed
		} else {
			j.Outcome = entities.ImportOutcomeCompleted
		}
		settled = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("aggregate import %s: %w", importID, err)
	}
	if !settled {
		return nil
	}

	s.m.importsTotal.WithLabelValues(string(job.State), string(job.Outcome)).Inc()
	s.syncMirror(ctx, job)
	s.log.WithField("import_id", importID).
		WithField("state", job.State).
		Info("import settled")
	return nil
}

// aggregateState returns the terminal state implied by files, or "" when
// some file is still pending.
func aggregateState(files []entities.FileImportJob) (entities.JobState, string) {
	if len(files) == 0 {
		return "", ""
	}
	allFinished := true
	for _, f := range files {
		switch f.State {
		case entities.JobStateFailed:
			msg := fmt.Sprintf("file %s failed", f.FileName)
			if f.ErrorMessage != "" {
				msg += ": " + f.ErrorMessage
			}
			return entities.JobStateFailed, msg
		case entities.JobStateFinished:
		default:
			allFinished = false
		}
	}
	if allFinished {
		return entities.JobStateFinished, ""
	}
	return "", ""
}
