package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/bulkimport/internal/entities"
)

func TestNewDatabase_MigratesJobTables(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "jobs.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []any{
		&entities.Organization{},
		&entities.Application{},
		&entities.ImportJob{},
		&entities.FileImportJob{},
	} {
		assert.True(t, db.DB.Migrator().HasTable(table))
	}
	assert.True(t, db.DB.Migrator().HasColumn(&entities.FileImportJob{}, "last_checkpoint_id"))
	assert.True(t, db.DB.Migrator().HasColumn(&entities.ImportJob{}, "version"))
}

func TestNewDatabase_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")

	db, err := NewDatabase(path, nil)
	require.NoError(t, err)
	require.NoError(t, db.DB.Create(&entities.ImportJob{ID: "job-1", State: entities.JobStateCreated}).Error)
	require.NoError(t, db.Close())

	db, err = NewDatabase(path, nil)
	require.NoError(t, err)
	defer db.Close()

	var job entities.ImportJob
	require.NoError(t, db.DB.First(&job, "id = ?", "job-1").Error)
	assert.Equal(t, entities.JobStateCreated, job.State)
}
