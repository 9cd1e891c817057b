package importers

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/database/imports"
	"github.com/mrlokans/bulkimport/internal/entities"
)

// ProcessFile replays one export file into its application partition and
// then re-aggregates the parent import. A completed or settled file job is
// left alone. When ctx ends mid-file the progress so far is persisted, the
// job stays STARTED and a later call resumes after the checkpoint.
func (s *Service) ProcessFile(ctx context.Context, fileJobID string) error {
	log := s.log.WithField("file_job_id", fileJobID)

	fj, err := s.jobs.MutateFileImportJob(fileJobID, func(f *entities.FileImportJob) error {
		if f.Completed || !f.State.CanTransition(entities.JobStateStarted) {
			return imports.ErrNoChange
		}
		now := s.opts.Now()
		f.State = entities.JobStateStarted
		f.Attempts++
		if f.StartedAt == nil {
			f.StartedAt = &now
		}
		return nil
	})
	if err != nil {
		return err
	}
	log = log.WithFields(logrus.Fields{"import_id": fj.ImportJobID, "file": fj.FileName})
	if fj.Completed || fj.State != entities.JobStateStarted {
		log.WithField("state", fj.State).Info("file import already settled, skipping")
		return nil
	}

	s.m.activeFiles.Inc()
	defer s.m.activeFiles.Dec()

	if err := s.sched.Heartbeat(ctx, fj.ID); err != nil {
		log.WithError(err).Warn("heartbeat failed")
	}

	runErr := s.replay(ctx, fj, log)
	if runErr != nil && ctx.Err() != nil && KindOf(runErr) != KindParse {
		log.WithError(runErr).Warn("file import interrupted, progress saved")
		return runErr
	}
	if runErr != nil {
		log.WithError(runErr).Error("file import failed")
	}

	if err := s.Aggregate(ctx, fj.ImportJobID); err != nil {
		return err
	}
	return runErr
}

// replay runs the producer and dispatcher over the local copy of the file and
// persists the final state of the file job.
func (s *Service) replay(ctx context.Context, fj *entities.FileImportJob, log *logrus.Entry) error {
	app, err := s.dir.GetApplication(fj.ApplicationName)
	if err != nil {
		return s.failFile(fj.ID, lookupError("application "+fj.ApplicationName, err))
	}

	path, err := s.localCopy(ctx, fj)
	if err != nil {
		return s.failFile(fj.ID, err)
	}

	if s.opts.ValidateBeforeImport {
		if err := validateFile(path); err != nil {
			return s.failFile(fj.ID, err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return s.failFile(fj.ID, newError(KindRetrieval, "open "+fj.FileName, err))
	}
	defer f.Close()

	if fj.HasCheckpoint() {
		log.WithField("checkpoint", fj.LastCheckpointID).Info("resuming file import")
	}

	sink := &fileProgress{
		svc:          s,
		fileJobID:    fj.ID,
		baseEntities: fj.EntitiesWritten,
		baseEvents:   fj.EventsWritten,
	}
	opts := s.opts.Dispatcher
	opts.Logger = log
	producer := NewProducer(f, fj.LastCheckpointID)
	progress, runErr := NewDispatcher(s.store, app.ID, sink, opts).Run(ctx, producer)
	s.m.recordsParsed.Add(float64(producer.Records()))

	interrupted := runErr != nil && KindOf(runErr) != KindParse
	final, err := s.jobs.MutateFileImportJob(fj.ID, func(f *entities.FileImportJob) error {
		sink.apply(f, progress)
		if interrupted {
			return nil
		}
		if runErr != nil {
			f.RecordErrors(1, runErr.Error())
			if f.State.CanTransition(entities.JobStateFailed) {
				now := s.opts.Now()
				f.State = entities.JobStateFailed
				f.FinishedAt = &now
			}
			return nil
		}
		// An explicit failure recorded elsewhere wins over completion.
		if f.State.CanTransition(entities.JobStateFinished) {
			now := s.opts.Now()
			f.Completed = true
			f.State = entities.JobStateFinished
			f.FinishedAt = &now
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist file import result: %w", err)
	}

	if !interrupted {
		s.m.filesTotal.WithLabelValues(string(final.State)).Inc()
		log.WithFields(logrus.Fields{
			"state":      final.State,
			"entities":   final.EntitiesWritten,
			"events":     final.EventsWritten,
			"errors":     final.ErrorCount,
			"checkpoint": final.LastCheckpointID,
		}).Info("file import settled")
	}
	return runErr
}

// localCopy returns the path of the downloaded file, fetching it again when
// the local copy is gone.
func (s *Service) localCopy(ctx context.Context, fj *entities.FileImportJob) (string, error) {
	if fj.LocalPath != "" {
		_, err := os.Stat(fj.LocalPath)
		if err == nil {
			return fj.LocalPath, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", newError(KindRetrieval, "stat "+fj.FileName, err)
		}
	}

	lf, err := s.blobs.Fetch(ctx, fj.FileName)
	if err != nil {
		return "", newError(KindRetrieval, "fetch "+fj.FileName, err)
	}
	_, err = s.jobs.MutateFileImportJob(fj.ID, func(f *entities.FileImportJob) error {
		f.LocalPath = lf.Path
		return nil
	})
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"file": fj.FileName, "path": lf.Path}).Info("re-downloaded missing local file")
	return lf.Path, nil
}

func validateFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return newError(KindRetrieval, "open "+path, err)
	}
	defer f.Close()
	return ValidateJSON(f)
}

// failFile marks a file job FAILED with cause as its last error.
func (s *Service) failFile(id string, cause error) error {
	changed := false
	_, err := s.jobs.MutateFileImportJob(id, func(f *entities.FileImportJob) error {
		changed = false
		if !f.State.CanTransition(entities.JobStateFailed) {
			return imports.ErrNoChange
		}
		now := s.opts.Now()
		f.State = entities.JobStateFailed
		f.FinishedAt = &now
		f.RecordErrors(1, cause.Error())
		changed = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w (recording failure: %v)", cause, err)
	}
	if changed {
		s.m.filesTotal.WithLabelValues(string(entities.JobStateFailed)).Inc()
	}
	return cause
}

// AbandonFile fails a file job that can no longer make progress, such as one
// whose worker stopped sending heartbeats, and re-aggregates its parent.
func (s *Service) AbandonFile(ctx context.Context, fileJobID, reason string) error {
	fj, err := s.jobs.GetFileImportJob(fileJobID)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"file_job_id": fileJobID, "import_id": fj.ImportJobID, "reason": reason}).Warn("abandoning file import")
	_ = s.failFile(fileJobID, errors.New(reason))
	return s.Aggregate(ctx, fj.ImportJobID)
}

// fileProgress persists dispatcher progress onto a file import job.
type fileProgress struct {
	svc          *Service
	fileJobID    string
	baseEntities int64
	baseEvents   int64
}

func (p *fileProgress) Checkpoint(_ context.Context, progress Progress) error {
	_, err := p.svc.jobs.MutateFileImportJob(p.fileJobID, func(f *entities.FileImportJob) error {
		p.apply(f, progress)
		return nil
	})
	return err
}

func (p *fileProgress) Heartbeat(ctx context.Context) error {
	return p.svc.sched.Heartbeat(ctx, p.fileJobID)
}

// apply folds a progress snapshot into f. Counters are run totals on top of
// what earlier attempts recorded.
func (p *fileProgress) apply(f *entities.FileImportJob, progress Progress) {
	if progress.CheckpointID != entities.NoCheckpoint {
		f.LastCheckpointID = progress.CheckpointID
	}
	f.EntitiesWritten = p.baseEntities + progress.EntitiesWritten
	f.EventsWritten = p.baseEvents + progress.EventsWritten
	f.RecordErrors(progress.NewErrorCount, progress.NewErrors...)
}
