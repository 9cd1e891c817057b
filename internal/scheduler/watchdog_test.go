package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/bulkimport/internal/config"
	"github.com/mrlokans/bulkimport/internal/entities"
	"github.com/mrlokans/bulkimport/internal/importers"
)

var sweepNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFinder struct {
	jobs   []entities.FileImportJob
	before time.Time
}

func (f *fakeFinder) FindStaleFileImportJobs(before time.Time) ([]entities.FileImportJob, error) {
	f.before = before
	return f.jobs, nil
}

type fakeEngine struct {
	abandoned map[string]string
}

func (e *fakeEngine) AbandonFile(_ context.Context, fileJobID, reason string) error {
	e.abandoned[fileJobID] = reason
	return nil
}

type fakeQueue struct {
	heartbeats []string
	jobs       []importers.JobData
	cleanups   []time.Duration
	failCreate error
}

func (q *fakeQueue) CreateJob(_ context.Context, name string, _ time.Time, data importers.JobData) (string, error) {
	if q.failCreate != nil {
		return "", q.failCreate
	}
	if name != importers.JobFileImport {
		return "", errors.New("unexpected job " + name)
	}
	q.jobs = append(q.jobs, data)
	return "task-" + data.FileJobID, nil
}

func (q *fakeQueue) Heartbeat(_ context.Context, fileJobID string) error {
	q.heartbeats = append(q.heartbeats, fileJobID)
	return nil
}

func (q *fakeQueue) EnqueueCleanup(_ context.Context, retention time.Duration) error {
	q.cleanups = append(q.cleanups, retention)
	return nil
}

func newTestWatchdog(finder *fakeFinder, queue *fakeQueue, cfg config.Watchdog) (*Watchdog, *fakeEngine) {
	engine := &fakeEngine{abandoned: map[string]string{}}
	w := NewWatchdog(finder, engine, queue, cfg, 24*time.Hour, nil)
	w.now = func() time.Time { return sweepNow }
	return w, engine
}

func TestWatchdog_Sweep(t *testing.T) {
	finder := &fakeFinder{jobs: []entities.FileImportJob{
		{ID: "fj-1", ImportJobID: "imp-1", Attempts: 1},
		{ID: "fj-2", ImportJobID: "imp-1", Attempts: 3},
		{ID: "fj-3", ImportJobID: "imp-2", Attempts: 2},
	}}
	queue := &fakeQueue{}
	w, engine := newTestWatchdog(finder, queue, config.Watchdog{HeartbeatTimeout: 10 * time.Minute, MaxReclaims: 3})

	res, err := w.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Reclaimed: 2, Abandoned: 1}, res)
	assert.Equal(t, sweepNow.Add(-10*time.Minute), finder.before)
	assert.Equal(t, []string{"fj-1", "fj-3"}, queue.heartbeats)
	assert.Equal(t, []importers.JobData{
		{ImportID: "imp-1", FileJobID: "fj-1"},
		{ImportID: "imp-2", FileJobID: "fj-3"},
	}, queue.jobs)
	assert.Equal(t, map[string]string{"fj-2": "heartbeat lost after 3 attempts"}, engine.abandoned)
}

func TestWatchdog_SweepKeepsGoingAfterQueueFailure(t *testing.T) {
	finder := &fakeFinder{jobs: []entities.FileImportJob{
		{ID: "fj-1", ImportJobID: "imp-1", Attempts: 1},
		{ID: "fj-2", ImportJobID: "imp-1", Attempts: 5},
	}}
	queue := &fakeQueue{failCreate: errors.New("queue unavailable")}
	w, engine := newTestWatchdog(finder, queue, config.Watchdog{HeartbeatTimeout: time.Minute, MaxReclaims: 3})

	res, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Abandoned: 1}, res)
	assert.Contains(t, engine.abandoned, "fj-2")
}

func TestWatchdog_StartStop(t *testing.T) {
	queue := &fakeQueue{}

	w, _ := newTestWatchdog(&fakeFinder{}, queue, config.Watchdog{Enabled: false})
	require.NoError(t, w.Start(context.Background()))
	assert.False(t, w.IsRunning())

	w, _ = newTestWatchdog(&fakeFinder{}, queue, config.Watchdog{Enabled: true, Schedule: "every minute"})
	assert.Error(t, w.Start(context.Background()))
	assert.False(t, w.IsRunning())

	w, _ = newTestWatchdog(&fakeFinder{}, queue, config.Watchdog{Enabled: true, Schedule: "*/1 * * * *", CleanupSchedule: "0 3 * * *"})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())
	assert.Len(t, w.cron.Entries(), 2)

	cancel()
	assert.Eventually(t, func() bool { return !w.IsRunning() }, time.Second, 10*time.Millisecond)
}

func TestValidateCronSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		valid    bool
	}{
		{"*/1 * * * *", true},
		{"0 3 * * *", true},
		{"invalid", false},
		{"* * * *", false},
		{"60 * * * *", false},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := ValidateCronSchedule(tt.schedule)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
