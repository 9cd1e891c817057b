package importers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/database/directory"
	"github.com/mrlokans/bulkimport/internal/database/imports"
	"github.com/mrlokans/bulkimport/internal/entities"
	"github.com/mrlokans/bulkimport/internal/logging"
)

const (
	// ImportsCollection holds one mirror entity per import job in the
	// management application.
	ImportsCollection = "imports"
	importEntityType  = "import"

	msgNoFiles = "no files found in the bucket with the relevant context"
)

type Options struct {
	GracePeriod          time.Duration // delay before a scheduled import may start
	ManagementAppID      string
	ValidateBeforeImport bool
	Dispatcher           DispatcherOptions

	Logger *logrus.Entry
	Now    func() time.Time
}

func (o *Options) setDefaults() {
	if o.GracePeriod <= 0 {
		o.GracePeriod = 250 * time.Millisecond
	}
	if o.ManagementAppID == "" {
		o.ManagementAppID = "management"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Logger = logging.OrNop(o.Logger)
	if o.Dispatcher.Logger == nil {
		o.Dispatcher.Logger = o.Logger
	}
}

// Service drives import jobs and their file import sub-jobs through their
// lifecycle. Its entry points are invoked by the scheduler.
type Service struct {
	jobs  JobStore
	dir   Directory
	blobs BlobRetriever
	store EntityStore
	sched Scheduler
	opts  Options
	log   *logrus.Entry
	m     *metrics
}

func NewService(jobs JobStore, dir Directory, blobs BlobRetriever, store EntityStore, sched Scheduler, opts Options) *Service {
	opts.setDefaults()
	return &Service{
		jobs:  jobs,
		dir:   dir,
		blobs: blobs,
		store: store,
		sched: sched,
		opts:  opts,
		log:   opts.Logger,
		m:     getMetrics(),
	}
}

// Schedule registers a new import job and hands it to the scheduler after
// the grace period. The job id is returned even when scheduling fails, in
// which case the job is FAILED.
func (s *Service) Schedule(ctx context.Context, cfg *ImportConfig) (string, error) {
	if cfg == nil {
		return "", errorf(KindConfiguration, "schedule import", "import configuration is required")
	}
	if err := s.store.EnsureCollection(ctx, s.opts.ManagementAppID, ImportsCollection); err != nil {
		return "", fmt.Errorf("ensure %s collection: %w", ImportsCollection, err)
	}

	encoded, err := recordAPI.MarshalToString(cfg)
	if err != nil {
		return "", fmt.Errorf("encode import configuration: %w", err)
	}
	job := &entities.ImportJob{
		ID:     uuid.NewString(),
		State:  entities.JobStateCreated,
		Config: encoded,
	}
	if err := s.jobs.CreateImportJob(job); err != nil {
		return "", err
	}
	log := s.log.WithField("import_id", job.ID)

	mirror := map[string]any{
		"state":          string(job.State),
		"organizationId": cfg.OrganizationID,
	}
	if cfg.ApplicationID != "" {
		mirror["applicationId"] = cfg.ApplicationID
	}
	if cfg.CollectionName != "" {
		mirror["collectionName"] = cfg.CollectionName
	}
	if err := s.store.Create(ctx, s.opts.ManagementAppID, s.mirrorRef(job.ID), mirror); err != nil {
		log.WithError(err).Warn("failed to create import mirror entity")
	}

	notBefore := s.opts.Now().Add(s.opts.GracePeriod)
	if _, err := s.sched.CreateJob(ctx, JobImport, notBefore, JobData{ImportID: job.ID, Config: cfg}); err != nil {
		schedErr := newError(KindScheduling, "schedule import", err)
		if _, ferr := s.finish(ctx, job.ID, entities.JobStateFailed, entities.ImportOutcomeFailed, schedErr.Error()); ferr != nil {
			log.WithError(ferr).Error("failed to record scheduling failure")
		}
		return job.ID, schedErr
	}

	updated, err := s.transition(job.ID, entities.JobStateScheduled, nil)
	if err != nil {
		return job.ID, err
	}
	s.syncMirror(ctx, updated)

	log.WithField("not_before", notBefore).Info("import scheduled")
	return job.ID, nil
}

// Run resolves the scope of an import, finds its files and schedules one
// file import job per file. A nil cfg is read back from the job record.
// Running a job again creates sub-jobs only for new files and schedules
// any sub-job an earlier run left unscheduled.
func (s *Service) Run(ctx context.Context, importID string, cfg *ImportConfig) error {
	log := s.log.WithField("import_id", importID)

	job, err := s.jobs.MutateImportJob(importID, func(j *entities.ImportJob) error {
		if !j.State.CanTransition(entities.JobStateStarted) {
			return imports.ErrNoChange
		}
		now := s.opts.Now()
		j.State = entities.JobStateStarted
		j.ErrorMessage = ""
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
		return nil
	})
	if err != nil {
		return err
	}
	if job.State != entities.JobStateStarted {
		log.WithField("state", job.State).Info("import already settled, nothing to run")
		return nil
	}
	s.syncMirror(ctx, job)

	if cfg == nil {
		cfg, err = decodeConfig(job)
		if err != nil {
			return s.fail(ctx, importID, newError(KindConfiguration, "run import", err))
		}
	}
	if cfg == nil || cfg.OrganizationID == "" {
		return s.fail(ctx, importID, errorf(KindConfiguration, "run import", "organizationId is required"))
	}

	scope := ResolveScope(*cfg)
	name, err := s.resolveScope(scope, cfg)
	if err != nil {
		if KindOf(err) == KindNotFound {
			if _, ferr := s.finish(ctx, importID, entities.JobStateFinished, entities.ImportOutcomeScopeNotFound, err.Error()); ferr != nil {
				return ferr
			}
			log.WithError(err).Warn("import scope not found")
		}
		return err
	}

	prefix := InputPrefix(scope, name, cfg.CollectionName)
	log = log.WithFields(logrus.Fields{"scope": scope, "prefix": prefix})

	files, err := s.blobs.Retrieve(ctx, prefix)
	if err != nil {
		return s.fail(ctx, importID, newError(KindRetrieval, "retrieve "+prefix, err))
	}

	existing, err := s.jobs.ListFileImportJobs(importID)
	if err != nil {
		return err
	}
	if len(files) == 0 && len(existing) == 0 {
		if _, err := s.finish(ctx, importID, entities.JobStateFinished, entities.ImportOutcomeNoData, msgNoFiles); err != nil {
			return err
		}
		log.Info(msgNoFiles)
		return nil
	}

	manifested, err := job.Manifest()
	if err != nil {
		return fmt.Errorf("read manifest of %s: %w", importID, err)
	}
	inManifest := make(map[string]bool, len(manifested))
	for _, e := range manifested {
		inManifest[e.JobID] = true
	}

	// Sub-jobs left behind by an interrupted run are picked up again: any
	// still CREATED was never scheduled, and any missing from the manifest
	// was never announced to its siblings.
	known := make(map[string]bool, len(existing))
	var pending []*entities.FileImportJob
	var manifest []entities.ManifestEntry
	for i := range existing {
		fj := &existing[i]
		known[fj.FileName] = true
		if !inManifest[fj.ID] {
			manifest = append(manifest, entities.ManifestEntry{FileName: fj.FileName, JobID: fj.ID})
		}
		if fj.State == entities.JobStateCreated {
			pending = append(pending, fj)
		}
	}

	// Every sub-job is recorded before any is scheduled, so an early
	// finisher can never aggregate over a partial set of siblings.
	for _, f := range files {
		if known[f.Key] {
			continue
		}
		known[f.Key] = true
		fj := &entities.FileImportJob{
			ID:              uuid.NewString(),
			ImportJobID:     importID,
			FileName:        f.Key,
			LocalPath:       f.Path,
			ApplicationName: ApplicationName(f.Key),
			State:           entities.JobStateCreated,
		}
		if err := s.jobs.CreateFileImportJob(fj); err != nil {
			return err
		}
		pending = append(pending, fj)
		manifest = append(manifest, entities.ManifestEntry{FileName: fj.FileName, JobID: fj.ID})
	}

	if len(manifest) > 0 {
		_, err := s.jobs.MutateImportJob(importID, func(j *entities.ImportJob) error {
			return j.AppendManifest(manifest...)
		})
		if err != nil {
			return err
		}
	}

	var schedErr error
	for _, fj := range pending {
		if err := s.scheduleFile(ctx, fj); err != nil {
			log.WithError(err).WithField("file", fj.FileName).Error("failed to schedule file import")
			if schedErr == nil {
				schedErr = err
			}
		}
	}

	log.WithFields(logrus.Fields{
		"files":   len(files),
		"pending": len(pending),
	}).Info("file imports scheduled")

	if schedErr != nil || len(pending) == 0 {
		if err := s.Aggregate(ctx, importID); err != nil {
			return err
		}
	}
	return schedErr
}

func (s *Service) resolveScope(scope ScopeType, cfg *ImportConfig) (string, error) {
	org, err := s.dir.GetOrganization(cfg.OrganizationID)
	if err != nil {
		return "", lookupError("organization "+cfg.OrganizationID, err)
	}
	if scope == ScopeOrganization {
		return org.Name, nil
	}

	app, err := s.dir.GetApplication(cfg.ApplicationID)
	if err != nil {
		return "", lookupError("application "+cfg.ApplicationID, err)
	}
	if app.OrganizationID != org.ID {
		return "", errorf(KindNotFound, "resolve application "+cfg.ApplicationID, "not part of organization %s", org.Name)
	}
	return app.Name, nil
}

func lookupError(what string, err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return newError(KindNotFound, "resolve "+what, err)
	}
	return fmt.Errorf("resolve %s: %w", what, err)
}

func (s *Service) scheduleFile(ctx context.Context, fj *entities.FileImportJob) error {
	data := JobData{ImportID: fj.ImportJobID, FileJobID: fj.ID}
	if _, err := s.sched.CreateJob(ctx, JobFileImport, s.opts.Now(), data); err != nil {
		schedErr := newError(KindScheduling, "schedule "+fj.FileName, err)
		_, ferr := s.jobs.MutateFileImportJob(fj.ID, func(f *entities.FileImportJob) error {
			if !f.State.CanTransition(entities.JobStateFailed) {
				return imports.ErrNoChange
			}
			now := s.opts.Now()
			f.State = entities.JobStateFailed
			f.FinishedAt = &now
			f.RecordErrors(1, schedErr.Error())
			return nil
		})
		if ferr != nil {
			return ferr
		}
		s.m.filesTotal.WithLabelValues(string(entities.JobStateFailed)).Inc()
		return schedErr
	}

	_, err := s.jobs.MutateFileImportJob(fj.ID, func(f *entities.FileImportJob) error {
		if !f.State.CanTransition(entities.JobStateScheduled) {
			return imports.ErrNoChange
		}
		f.State = entities.JobStateScheduled
		return nil
	})
	return err
}

// transition moves an import job forward. A move the state machine forbids
// is skipped and the current record returned.
func (s *Service) transition(id string, next entities.JobState, fn func(*entities.ImportJob)) (*entities.ImportJob, error) {
	return s.jobs.MutateImportJob(id, func(j *entities.ImportJob) error {
		if !j.State.CanTransition(next) {
			return imports.ErrNoChange
		}
		j.State = next
		if fn != nil {
			fn(j)
		}
		return nil
	})
}

// finish moves an import job to a terminal state with an outcome.
func (s *Service) finish(ctx context.Context, id string, state entities.JobState, outcome entities.ImportOutcome, msg string) (*entities.ImportJob, error) {
	var changed bool
	job, err := s.jobs.MutateImportJob(id, func(j *entities.ImportJob) error {
		changed = false
		if !j.State.CanTransition(state) {
			return imports.ErrNoChange
		}
		now := s.opts.Now()
		j.State = state
		j.Outcome = outcome
		j.ErrorMessage = msg
		j.FinishedAt = &now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.m.importsTotal.WithLabelValues(string(state), string(outcome)).Inc()
		s.syncMirror(ctx, job)
	}
	return job, nil
}

// fail records cause on a FAILED import job and returns it.
func (s *Service) fail(ctx context.Context, id string, cause error) error {
	if _, err := s.finish(ctx, id, entities.JobStateFailed, entities.ImportOutcomeFailed, cause.Error()); err != nil {
		return fmt.Errorf("%w (recording failure: %v)", cause, err)
	}
	s.log.WithField("import_id", id).WithError(cause).Error("import failed")
	return cause
}

func (s *Service) mirrorRef(importID string) entities.EntityRef {
	return entities.EntityRef{ID: importID, Type: importEntityType}
}

// syncMirror copies the job state onto its entity in the management
// application. The mirror only moves forward, so a late write from a slow
// sibling cannot roll it back.
func (s *Service) syncMirror(ctx context.Context, job *entities.ImportJob) {
	log := s.log.WithField("import_id", job.ID)
	e, err := s.store.Get(ctx, s.opts.ManagementAppID, s.mirrorRef(job.ID))
	if err != nil {
		log.WithError(err).Debug("import mirror entity unavailable")
		return
	}

	props := make(map[string]any, len(e.Properties)+3)
	for k, v := range e.Properties {
		props[k] = v
	}
	if current, ok := props["state"].(string); ok {
		cur := entities.JobState(current)
		if cur != job.State && !cur.CanTransition(job.State) {
			return
		}
	}
	props["state"] = string(job.State)
	if job.Outcome != entities.ImportOutcomeNone {
		props["outcome"] = string(job.Outcome)
	}
	if job.ErrorMessage != "" {
		props["errorMessage"] = job.ErrorMessage
	} else {
		delete(props, "errorMessage")
	}
	e.Properties = props
	e.Modified = s.opts.Now()

	if err := s.store.Update(ctx, s.opts.ManagementAppID, e); err != nil {
		log.WithError(err).Warn("failed to update import mirror entity")
	}
}

func decodeConfig(job *entities.ImportJob) (*ImportConfig, error) {
	if job.Config == "" {
		return nil, nil
	}
	var cfg ImportConfig
	if err := recordAPI.UnmarshalFromString(job.Config, &cfg); err != nil {
		return nil, fmt.Errorf("decode import configuration: %w", err)
	}
	return &cfg, nil
}
