package config

// Default paths for on-disk state
const (
	// DefaultDatabasePath holds import and file import job records
	DefaultDatabasePath = "./bulkimport.db"

	// DefaultEntityStoreDir is the badger directory for imported entities
	DefaultEntityStoreDir = "./entitystore"

	// DefaultWorkDir receives files downloaded from blob storage
	DefaultWorkDir = "./import-work"
)
