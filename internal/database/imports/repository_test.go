package imports

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/bulkimport/internal/entities"
)

func setupTestDB(t *testing.T) (*Repository, func()) {
	dbPath := filepath.Join(t.TempDir(), "imports.db")

	db, err := gorm.Open(sqlite.Open(dbPath+"?_journal_mode=WAL&_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(&entities.ImportJob{}, &entities.FileImportJob{})
	require.NoError(t, err)

	repo := NewRepository(db)

	cleanup := func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	}

	return repo, cleanup
}

func TestRepository_CreateAndGetImportJob(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, repo.CreateImportJob(&entities.ImportJob{ID: "imp-1", State: entities.JobStateCreated}))

	job, err := repo.GetImportJob("imp-1")
	require.NoError(t, err)
	assert.Equal(t, entities.JobStateCreated, job.State)
	assert.Equal(t, int64(0), job.Version)

	_, err = repo.GetImportJob("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_MutateImportJob_BumpsVersion(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, repo.CreateImportJob(&entities.ImportJob{ID: "imp-1", State: entities.JobStateCreated}))

	job, err := repo.MutateImportJob("imp-1", func(j *entities.ImportJob) error {
		j.State = entities.JobStateScheduled
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), job.Version)

	reloaded, err := repo.GetImportJob("imp-1")
	require.NoError(t, err)
	assert.Equal(t, entities.JobStateScheduled, reloaded.State)
	assert.Equal(t, int64(1), reloaded.Version)
}

func TestRepository_MutateImportJob_NoChangeAndError(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, repo.CreateImportJob(&entities.ImportJob{ID: "imp-1", State: entities.JobStateCreated}))

	job, err := repo.MutateImportJob("imp-1", func(*entities.ImportJob) error { return ErrNoChange })
	require.NoError(t, err)
	assert.Equal(t, int64(0), job.Version)

	boom := errors.New("boom")
	_, err = repo.MutateImportJob("imp-1", func(*entities.ImportJob) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRepository_MutateImportJob_ConcurrentManifestAppends(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, repo.CreateImportJob(&entities.ImportJob{ID: "imp-1", State: entities.JobStateStarted}))

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.MutateImportJob("imp-1", func(j *entities.ImportJob) error {
				return j.AppendManifest(entities.ManifestEntry{FileName: "f", JobID: string(rune('a' + i))})
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	job, err := repo.GetImportJob("imp-1")
	require.NoError(t, err)
	manifest, err := job.Manifest()
	require.NoError(t, err)
	assert.Len(t, manifest, writers)
	assert.Equal(t, int64(writers), job.Version)
}

func TestRepository_FileImportJobs(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, repo.CreateImportJob(&entities.ImportJob{ID: "imp-1", State: entities.JobStateStarted}))
	require.Error(t, repo.CreateFileImportJob(&entities.FileImportJob{ID: "orphan"}))

	for _, id := range []string{"f-1", "f-2"} {
		require.NoError(t, repo.CreateFileImportJob(&entities.FileImportJob{
			ID: id, ImportJobID: "imp-1", FileName: id + ".json", State: entities.JobStateCreated,
		}))
	}

	jobs, err := repo.ListFileImportJobs("imp-1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "f-1", jobs[0].ID)

	updated, err := repo.MutateFileImportJob("f-1", func(f *entities.FileImportJob) error {
		f.LastCheckpointID = "0b4c1c4e-0000-4000-8000-000000000001"
		f.RecordErrors(1, "write failed")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.Version)

	reloaded, err := repo.GetFileImportJob("f-1")
	require.NoError(t, err)
	assert.True(t, reloaded.HasCheckpoint())
	assert.Equal(t, "write failed", reloaded.ErrorMessage)
	assert.Equal(t, []string{"write failed"}, reloaded.GetRecentErrors())
}

func TestRepository_HeartbeatAndStaleJobs(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, repo.CreateImportJob(&entities.ImportJob{ID: "imp-1", State: entities.JobStateStarted}))
	old := time.Now().Add(-time.Hour)
	for _, f := range []entities.FileImportJob{
		{ID: "fresh", State: entities.JobStateStarted, StartedAt: &old},
		{ID: "stale", State: entities.JobStateStarted, StartedAt: &old},
		{ID: "never", State: entities.JobStateStarted, StartedAt: &old},
		{ID: "done", State: entities.JobStateFinished, StartedAt: &old},
	} {
		f.ImportJobID = "imp-1"
		require.NoError(t, repo.CreateFileImportJob(&f))
	}

	require.NoError(t, repo.TouchHeartbeat("fresh", time.Now()))
	require.NoError(t, repo.TouchHeartbeat("stale", old))
	assert.ErrorIs(t, repo.TouchHeartbeat("missing", time.Now()), ErrNotFound)

	stale, err := repo.FindStaleFileImportJobs(time.Now().Add(-10 * time.Minute))
	require.NoError(t, err)
	var ids []string
	for _, f := range stale {
		ids = append(ids, f.ID)
	}
	assert.ElementsMatch(t, []string{"stale", "never"}, ids)

	// Heartbeats never bump the version.
	f, err := repo.GetFileImportJob("fresh")
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.Version)
}
