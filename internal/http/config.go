package http

import (
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/database"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
type RouterConfig struct {
	// Core dependencies
	Imports  ImportService
	Database *database.Database

	// Optional: task status lookups, nil when the queue is disabled
	Tasks TaskStatusGetter

	// Optional: throttles POST /api/imports per client, nil disables
	ImportRateLimit *RateLimiter

	// Extra named health checks, e.g. the entity store
	HealthChecks map[string]HealthCheck

	// Application info
	Version string

	Logger *logrus.Entry
}
