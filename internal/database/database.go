package database

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrlokans/bulkimport/internal/entities"
	"github.com/mrlokans/bulkimport/internal/logging"
)

type Database struct {
	DB *gorm.DB
}

// NewDatabase opens the job record database and migrates its tables.
func NewDatabase(dbPath string, log *logrus.Entry) (*Database, error) {
	log = logging.OrNop(log)

	// WAL plus a busy timeout lets sibling file jobs update records concurrently.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	err = db.AutoMigrate(
		&entities.Organization{},
		&entities.Application{},
		&entities.ImportJob{},
		&entities.FileImportJob{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.WithField("path", dbPath).Info("database initialized")

	return &Database{DB: db}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
