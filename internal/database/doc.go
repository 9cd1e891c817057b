// Package database provides the data access layer for job bookkeeping.
//
// # Architecture
//
//	database/
//	├── database.go      # Connection setup and migrations
//	├── imports/         # Import and file import job records
//	└── directory/       # Organizations and applications
//
// Each sub-package provides a Repository over a shared *gorm.DB:
//
//	db, err := database.NewDatabase("./bulkimport.db", log)
//	jobs := imports.NewRepository(db.DB)
//	dir := directory.NewRepository(db.DB)
//
// # Concurrency
//
// Job rows carry a version column. Every state-changing update goes through a
// compare-and-swap on that column, so sibling file jobs finishing at the same
// time cannot overwrite each other's view of the parent job.
package database
