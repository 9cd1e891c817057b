package config

import (
	"time"

	"github.com/spf13/viper"
)

type BlobProvider string

const (
	BlobProviderLocal BlobProvider = "local" // Files under a local root directory (default)
	BlobProviderS3    BlobProvider = "s3"    // S3 or an S3-compatible endpoint
)

type (
	Config struct {
		HTTP
		Global
		Database
		EntityStore
		Blob
		Tasks
		Import
		Watchdog
		Logging
	}

	HTTP struct {
		Port             int32
		Host             string
		ImportsPerMinute int // Per-client limit on scheduling imports; 0 disables
		ImportBurst      int
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Database struct {
		Path string
	}
	EntityStore struct {
		Dir      string
		InMemory bool // Keep entities in memory only; useful for dry runs
	}
	Blob struct {
		Provider  BlobProvider
		LocalRoot string
		WorkDir   string // Where retrieved files are stored before import

		S3Bucket       string
		S3Region       string
		S3Endpoint     string // Custom endpoint for S3-compatible stores
		S3UsePathStyle bool
		WorkRetention  time.Duration // Local copies of settled imports are purged after this
	}
	Tasks struct {
		Enabled         bool
		Workers         int
		ReleaseAfter    time.Duration // Running tasks are handed to another worker after this
		CleanupInterval time.Duration
	}
	Import struct {
		GracePeriod          time.Duration // Delay between scheduling and the first run
		DispatcherWorkers    int
		CheckpointInterval   int     // Entities between checkpoint writes
		HeartbeatInterval    int     // Events between heartbeats
		WritesPerSecond      float64 // 0 disables throttling
		ValidateBeforeImport bool
		ManagementAppID      string // Partition holding the imports collection
	}
	Watchdog struct {
		Enabled          bool
		Schedule         string // Cron format: "*/1 * * * *" = every minute
		HeartbeatTimeout time.Duration
		MaxReclaims      int
		CleanupSchedule  string // Cron schedule for purging the work dir
	}
	Logging struct {
		Level  string
		Format string // "text" or "json"
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8190)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("http_imports_per_minute", 30)
	v.SetDefault("http_import_burst", 5)
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("database_path", DefaultDatabasePath)

	v.SetDefault("entity_store_dir", DefaultEntityStoreDir)
	v.SetDefault("entity_store_in_memory", false)

	v.SetDefault("blob_provider", string(BlobProviderLocal))
	v.SetDefault("blob_local_root", "./exports")
	v.SetDefault("blob_work_dir", DefaultWorkDir)
	v.SetDefault("blob_s3_bucket", "")
	v.SetDefault("blob_s3_region", "us-east-1")
	v.SetDefault("blob_s3_endpoint", "")
	v.SetDefault("blob_s3_use_path_style", false)
	v.SetDefault("blob_work_retention", "24h")

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 4)
	v.SetDefault("task_release_after", "6h")
	v.SetDefault("task_cleanup_interval", "1h")

	// Import engine defaults
	v.SetDefault("import_grace_period", "250ms")
	v.SetDefault("import_dispatcher_workers", 4)
	v.SetDefault("import_checkpoint_interval", 2000)
	v.SetDefault("import_heartbeat_interval", 100)
	v.SetDefault("import_writes_per_second", 0)
	v.SetDefault("import_validate_before_import", true)
	v.SetDefault("import_management_app_id", "management")

	v.SetDefault("watchdog_enabled", true)
	v.SetDefault("watchdog_schedule", "*/1 * * * *")
	v.SetDefault("watchdog_heartbeat_timeout", "10m")
	v.SetDefault("watchdog_max_reclaims", 3)
	v.SetDefault("watchdog_cleanup_schedule", "0 3 * * *")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	return &Config{
		HTTP: HTTP{
			Port:             v.GetInt32("PORT"),
			Host:             v.GetString("HOST"),
			ImportsPerMinute: v.GetInt("HTTP_IMPORTS_PER_MINUTE"),
			ImportBurst:      v.GetInt("HTTP_IMPORT_BURST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		EntityStore: EntityStore{
			Dir:      v.GetString("ENTITY_STORE_DIR"),
			InMemory: v.GetBool("ENTITY_STORE_IN_MEMORY"),
		},
		Blob: Blob{
			Provider:       BlobProvider(v.GetString("BLOB_PROVIDER")),
			LocalRoot:      v.GetString("BLOB_LOCAL_ROOT"),
			WorkDir:        v.GetString("BLOB_WORK_DIR"),
			S3Bucket:       v.GetString("BLOB_S3_BUCKET"),
			S3Region:       v.GetString("BLOB_S3_REGION"),
			S3Endpoint:     v.GetString("BLOB_S3_ENDPOINT"),
			S3UsePathStyle: v.GetBool("BLOB_S3_USE_PATH_STYLE"),
			WorkRetention:  v.GetDuration("BLOB_WORK_RETENTION"),
		},
		Tasks: Tasks{
			Enabled:         v.GetBool("TASKS_ENABLED"),
			Workers:         v.GetInt("TASK_WORKERS"),
			ReleaseAfter:    v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval: v.GetDuration("TASK_CLEANUP_INTERVAL"),
		},
		Import: Import{
			GracePeriod:          v.GetDuration("IMPORT_GRACE_PERIOD"),
			DispatcherWorkers:    v.GetInt("IMPORT_DISPATCHER_WORKERS"),
			CheckpointInterval:   v.GetInt("IMPORT_CHECKPOINT_INTERVAL"),
			HeartbeatInterval:    v.GetInt("IMPORT_HEARTBEAT_INTERVAL"),
			WritesPerSecond:      v.GetFloat64("IMPORT_WRITES_PER_SECOND"),
			ValidateBeforeImport: v.GetBool("IMPORT_VALIDATE_BEFORE_IMPORT"),
			ManagementAppID:      v.GetString("IMPORT_MANAGEMENT_APP_ID"),
		},
		Watchdog: Watchdog{
			Enabled:          v.GetBool("WATCHDOG_ENABLED"),
			Schedule:         v.GetString("WATCHDOG_SCHEDULE"),
			HeartbeatTimeout: v.GetDuration("WATCHDOG_HEARTBEAT_TIMEOUT"),
			MaxReclaims:      v.GetInt("WATCHDOG_MAX_RECLAIMS"),
			CleanupSchedule:  v.GetString("WATCHDOG_CLEANUP_SCHEDULE"),
		},
		Logging: Logging{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}
}
