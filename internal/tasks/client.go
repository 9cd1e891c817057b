package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikestefanello/backlite"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/logging"
)

// Client is the import task queue: backlite over its own SQLite file.
type Client struct {
	queue   *backlite.Client
	db      *sql.DB
	workers int
	log     *logrus.Entry
	running atomic.Bool
}

// TasksDBPath puts the queue next to the job database: jobs.db gives
// jobs-tasks.db.
func TasksDBPath(jobsDBPath string) string {
	ext := filepath.Ext(jobsDBPath)
	return strings.TrimSuffix(jobsDBPath, ext) + "-tasks" + ext
}

func NewClient(jobsDBPath string, cfg Config, log *logrus.Entry) (*Client, error) {
	log = logging.OrNop(log).WithField("component", "tasks")

	dsn := TasksDBPath(jobsDBPath) + "?_journal=WAL&_timeout=5000&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open task queue database: %w", err)
	}
	// File import workers hold a connection each while they heartbeat.
	db.SetMaxOpenConns(cfg.Workers + 5)
	db.SetMaxIdleConns(cfg.Workers + 2)
	db.SetConnMaxLifetime(time.Hour)

	queue, err := backlite.NewClient(backlite.ClientConfig{
		DB:              db,
		NumWorkers:      cfg.Workers,
		ReleaseAfter:    cfg.ReleaseAfter,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          logging.KV{Entry: log},
	})
	if err == nil {
		err = queue.Install()
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("set up task queue: %w", err)
	}
	return &Client{queue: queue, db: db, workers: cfg.Workers, log: log}, nil
}

// Register adds the import queues. Call it before Start.
func (c *Client) Register(queues ...backlite.Queue) {
	for _, q := range queues {
		c.queue.Register(q)
	}
}

// Start runs the workers until ctx ends or Stop is called. A second call
// is a no-op.
func (c *Client) Start(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	c.log.WithField("workers", c.workers).Info("Task queue started")
	c.queue.Start(ctx)
}

// Stop waits for running imports until ctx ends and reports whether they
// all returned in time. Imports cut off here resume from their checkpoint.
func (c *Client) Stop(ctx context.Context) bool {
	if !c.running.Load() {
		return true
	}
	ok := c.queue.Stop(ctx)
	if ok {
		c.log.Info("Task queue stopped")
	} else {
		c.log.Warn("Task queue stop timed out, interrupted imports resume on restart")
	}
	return ok
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Add(tasks ...backlite.Task) *backlite.TaskAddOp {
	return c.queue.Add(tasks...)
}

func (c *Client) Status(ctx context.Context, taskID string) (backlite.TaskStatus, error) {
	return c.queue.Status(ctx, taskID)
}

// StatusString names a task status for logs and API responses.
func StatusString(status backlite.TaskStatus) string {
	switch status {
	case backlite.TaskStatusPending:
		return "pending"
	case backlite.TaskStatusRunning:
		return "running"
	case backlite.TaskStatusSuccess:
		return "success"
	case backlite.TaskStatusFailure:
		return "failure"
	case backlite.TaskStatusNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}
