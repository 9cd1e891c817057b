package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/config"
	"github.com/mrlokans/bulkimport/internal/database"
	"github.com/mrlokans/bulkimport/internal/database/directory"
	"github.com/mrlokans/bulkimport/internal/database/imports"
	"github.com/mrlokans/bulkimport/internal/entitystore"
	http_controllers "github.com/mrlokans/bulkimport/internal/http"
	"github.com/mrlokans/bulkimport/internal/importers"
	"github.com/mrlokans/bulkimport/internal/logging"
	"github.com/mrlokans/bulkimport/internal/scheduler"
	"github.com/mrlokans/bulkimport/internal/storage"
	"github.com/mrlokans/bulkimport/internal/storage/providers/local"
	"github.com/mrlokans/bulkimport/internal/storage/providers/s3"
	"github.com/mrlokans/bulkimport/internal/tasks"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

// App is the wired import engine with everything it depends on.
type App struct {
	Config *config.Config
	Log    *logrus.Entry

	DB        *database.Database
	Jobs      *imports.Repository
	Directory *directory.Repository
	Store     *entitystore.Store
	Blobs     storage.Client
	Tasks     *tasks.Client
	Scheduler *tasks.Scheduler
	Engine    *importers.Service
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config) *logrus.Entry {
	return logrus.NewEntry(logging.New(cfg.Logging))
}

// NewBlobClient returns the storage provider selected by cfg.
func NewBlobClient(ctx context.Context, cfg config.Blob) (storage.Client, error) {
	switch cfg.Provider {
	case config.BlobProviderLocal, "":
		if cfg.LocalRoot == "" {
			return nil, errors.New("blob local root is required")
		}
		return local.NewClient(cfg.LocalRoot), nil
	case config.BlobProviderS3:
		return s3.NewClient(ctx, s3.Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown blob provider %q", cfg.Provider)
	}
}

// Build opens the job database, entity store, blob provider and task queue
// and wires the import engine on top of them. Task queues are registered
// but not started.
func Build(ctx context.Context, cfg *config.Config, log *logrus.Entry) (*App, error) {
	log = logging.OrNop(log)
	app := &App{Config: cfg, Log: log}

	db, err := database.NewDatabase(cfg.Database.Path, log)
	if err != nil {
		return nil, err
	}
	app.DB = db
	app.Jobs = imports.NewRepository(db.DB)
	app.Directory = directory.NewRepository(db.DB)

	app.Store, err = entitystore.Open(cfg.EntityStore, log)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Blobs, err = NewBlobClient(ctx, cfg.Blob)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	retriever := storage.NewRetriever(app.Blobs, cfg.Blob.WorkDir, log)

	app.Tasks, err = tasks.NewClient(cfg.Database.Path, tasks.ConfigFrom(cfg.Tasks), log)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize task queue: %w", err)
	}
	app.Scheduler = tasks.NewScheduler(app.Tasks, app.Jobs)

	app.Engine = importers.NewService(app.Jobs, app.Directory, retriever, app.Store, app.Scheduler, importers.Options{
		GracePeriod:          cfg.Import.GracePeriod,
		ManagementAppID:      cfg.Import.ManagementAppID,
		ValidateBeforeImport: cfg.Import.ValidateBeforeImport,
		Dispatcher: importers.DispatcherOptions{
			Workers:            cfg.Import.DispatcherWorkers,
			CheckpointInterval: cfg.Import.CheckpointInterval,
			HeartbeatInterval:  cfg.Import.HeartbeatInterval,
			WritesPerSecond:    cfg.Import.WritesPerSecond,
		},
		Logger: log.WithField("component", "importer"),
	})

	app.Tasks.Register(
		tasks.NewImportQueue(app.Engine, log),
		tasks.NewFileImportQueue(app.Engine, log),
		tasks.NewCleanupWorkDirQueue(app.Engine, log),
	)
	return app, nil
}

// Close releases everything Build opened. The task queue must be stopped
// first.
func (a *App) Close() error {
	var errs []error
	if a.Tasks != nil {
		errs = append(errs, a.Tasks.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

// Serve runs the HTTP server until SIGINT or SIGTERM, then shuts it down
// within the configured timeout.
func Serve(router *gin.Engine, cfg *config.Config, log *logrus.Entry, onShutdown ShutdownFunc) error {
	log = logging.OrNop(log)
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	listenErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-listenErr:
		if onShutdown != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			onShutdown(ctx)
			cancel()
		}
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}
	log.WithField("timeout", timeout).Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop the task queue first so no import starts on a closing server.
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	log.Info("Server exiting")
	return nil
}

// Run starts the import service: task workers, the watchdog and the HTTP
// API. It blocks until the process is signalled.
func Run(cfg *config.Config, version string) error {
	log := NewLogger(cfg)
	log.WithField("version", version).Info("Starting bulk import service")

	app, err := Build(context.Background(), cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.WithError(err).Error("Error closing resources")
		}
	}()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	watchdog := scheduler.NewWatchdog(app.Jobs, app.Engine, app.Scheduler, cfg.Watchdog, cfg.Blob.WorkRetention, log)
	if cfg.Tasks.Enabled {
		go app.Tasks.Start(workerCtx)
		if err := watchdog.Start(workerCtx); err != nil {
			app.Tasks.Stop(context.Background())
			return err
		}
	} else {
		log.Info("Task workers disabled, imports are queued for another process")
	}

	limiter := http_controllers.NewRateLimiter(http_controllers.RateLimitConfig{
		PerMinute: cfg.HTTP.ImportsPerMinute,
		Burst:     cfg.HTTP.ImportBurst,
	})

	router := http_controllers.NewRouter(http_controllers.RouterConfig{
		Imports:         app.Engine,
		Database:        app.DB,
		Tasks:           app.Tasks,
		ImportRateLimit: limiter,
		HealthChecks: map[string]http_controllers.HealthCheck{
			"entity_store": app.Store.Ping,
		},
		Version: version,
		Logger:  log,
	})

	onShutdown := func(ctx context.Context) {
		limiter.Stop()
		watchdog.Stop()
		app.Tasks.Stop(ctx)
		cancelWorkers()
	}

	return Serve(router, cfg, log, onShutdown)
}
