// Package scheduler runs periodic maintenance of import jobs on a cron
// schedule: reclaiming file imports whose worker went silent and purging the
// local work directory.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/config"
	"github.com/mrlokans/bulkimport/internal/entities"
	"github.com/mrlokans/bulkimport/internal/importers"
	"github.com/mrlokans/bulkimport/internal/logging"
)

// StaleFinder lists STARTED file imports whose last sign of life is older
// than before.
type StaleFinder interface {
	FindStaleFileImportJobs(before time.Time) ([]entities.FileImportJob, error)
}

// Abandoner fails a file import and re-aggregates its parent.
type Abandoner interface {
	AbandonFile(ctx context.Context, fileJobID, reason string) error
}

// Enqueuer puts work back on the task queue.
type Enqueuer interface {
	importers.Scheduler
	EnqueueCleanup(ctx context.Context, retention time.Duration) error
}

// SweepResult summarises one watchdog pass.
type SweepResult struct {
	Reclaimed int
	Abandoned int
}

// Watchdog periodically re-queues file imports that stopped heartbeating and
// fails those that ran out of attempts.
type Watchdog struct {
	jobs          StaleFinder
	engine        Abandoner
	queue         Enqueuer
	cfg           config.Watchdog
	workRetention time.Duration
	log           *logrus.Entry
	now           func() time.Time

	cron       *cron.Cron
	mu         sync.RWMutex
	isRunning  bool
	sweepMu    sync.Mutex
	cancelFunc context.CancelFunc
}

func NewWatchdog(jobs StaleFinder, engine Abandoner, queue Enqueuer, cfg config.Watchdog, workRetention time.Duration, log *logrus.Entry) *Watchdog {
	log = logging.OrNop(log).WithField("component", "watchdog")
	return &Watchdog{
		jobs:          jobs,
		engine:        engine,
		queue:         queue,
		cfg:           cfg,
		workRetention: workRetention,
		log:           log,
		now:           time.Now,
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
			cron.WithLogger(logging.Printf{Entry: log, Level: logrus.DebugLevel}),
		),
	}
}

// ValidateCronSchedule validates a five-field cron schedule string.
func ValidateCronSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	return err
}

// Start registers the sweep and cleanup entries and starts the cron runner.
// It stops when ctx is cancelled.
func (w *Watchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return nil
	}
	if !w.cfg.Enabled {
		w.log.Info("Watchdog disabled")
		return nil
	}

	if err := ValidateCronSchedule(w.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid watchdog schedule '%s': %w", w.cfg.Schedule, err)
	}
	if _, err := w.cron.AddFunc(w.cfg.Schedule, func() { w.runSweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule watchdog sweep: %w", err)
	}

	if w.cfg.CleanupSchedule != "" && w.workRetention > 0 {
		if err := ValidateCronSchedule(w.cfg.CleanupSchedule); err != nil {
			return fmt.Errorf("invalid cleanup schedule '%s': %w", w.cfg.CleanupSchedule, err)
		}
		_, err := w.cron.AddFunc(w.cfg.CleanupSchedule, func() {
			if err := w.queue.EnqueueCleanup(ctx, w.workRetention); err != nil {
				w.log.WithError(err).Error("Failed to enqueue work dir cleanup")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule work dir cleanup: %w", err)
		}
	}

	var cancelCtx context.Context
	cancelCtx, w.cancelFunc = context.WithCancel(ctx)

	w.cron.Start()
	w.isRunning = true
	w.log.WithFields(logrus.Fields{
		"schedule":          w.cfg.Schedule,
		"heartbeat_timeout": w.cfg.HeartbeatTimeout,
		"max_reclaims":      w.cfg.MaxReclaims,
	}).Info("Watchdog started")

	go func() {
		<-cancelCtx.Done()
		w.Stop()
	}()
	return nil
}

// Stop waits for a running sweep and stops the cron runner.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isRunning {
		return
	}

	ctx := w.cron.Stop()
	<-ctx.Done()
	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	w.isRunning = false
	w.cancelFunc = nil
	w.log.Info("Watchdog stopped")
}

func (w *Watchdog) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isRunning
}

func (w *Watchdog) runSweep(ctx context.Context) {
	res, err := w.Sweep(ctx)
	if err != nil {
		w.log.WithError(err).Error("Watchdog sweep failed")
		return
	}
	if res.Reclaimed > 0 || res.Abandoned > 0 {
		w.log.WithFields(logrus.Fields{"reclaimed": res.Reclaimed, "abandoned": res.Abandoned}).Info("Watchdog sweep done")
	}
}

// Sweep handles every stale file import once. A job with attempts left is
// re-queued with a fresh heartbeat, so the next sweep leaves it alone until
// it goes quiet again. The rest are failed.
func (w *Watchdog) Sweep(ctx context.Context) (SweepResult, error) {
	w.sweepMu.Lock()
	defer w.sweepMu.Unlock()

	var res SweepResult
	stale, err := w.jobs.FindStaleFileImportJobs(w.now().Add(-w.cfg.HeartbeatTimeout))
	if err != nil {
		return res, err
	}

	for _, fj := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log := w.log.WithFields(logrus.Fields{"import_id": fj.ImportJobID, "file_job_id": fj.ID, "attempts": fj.Attempts})

		if fj.Attempts >= w.cfg.MaxReclaims {
			reason := fmt.Sprintf("heartbeat lost after %d attempts", fj.Attempts)
			if err := w.engine.AbandonFile(ctx, fj.ID, reason); err != nil {
				log.WithError(err).Error("Failed to abandon file import")
				continue
			}
			res.Abandoned++
			continue
		}

		if err := w.queue.Heartbeat(ctx, fj.ID); err != nil {
			log.WithError(err).Error("Failed to refresh heartbeat")
			continue
		}
		data := importers.JobData{ImportID: fj.ImportJobID, FileJobID: fj.ID}
		if _, err := w.queue.CreateJob(ctx, importers.JobFileImport, w.now(), data); err != nil {
			log.WithError(err).Error("Failed to re-queue file import")
			continue
		}
		log.Warn("Re-queued silent file import")
		res.Reclaimed++
	}
	return res, nil
}
