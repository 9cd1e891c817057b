package tasks

import (
	"time"

	"github.com/mrlokans/bulkimport/internal/config"
)

// Config holds configuration for the task queue system.
type Config struct {
	// Workers is the number of concurrent task workers. Default: 4
	Workers int

	// ReleaseAfter is when stuck tasks are released back to queue. It must
	// outlast the longest file import. Default: 6h
	ReleaseAfter time.Duration

	// CleanupInterval is how often to clean up completed tasks. Default: 1h
	CleanupInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         4,
		ReleaseAfter:    6 * time.Hour,
		CleanupInterval: 1 * time.Hour,
	}
}

// ConfigFrom fills a Config from application settings, keeping defaults
// for zero values.
func ConfigFrom(s config.Tasks) Config {
	cfg := DefaultConfig()
	if s.Workers > 0 {
		cfg.Workers = s.Workers
	}
	if s.ReleaseAfter > 0 {
		cfg.ReleaseAfter = s.ReleaseAfter
	}
	if s.CleanupInterval > 0 {
		cfg.CleanupInterval = s.CleanupInterval
	}
	return cfg
}
