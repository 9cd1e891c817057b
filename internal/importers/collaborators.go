package importers

import (
	"context"
	"time"

	"github.com/mrlokans/bulkimport/internal/entities"
)

// ImportConfig declares the scope of an import.
type ImportConfig struct {
	OrganizationID string `json:"organizationId"`
	ApplicationID  string `json:"applicationId,omitempty"`
	CollectionName string `json:"collectionName,omitempty"`
}

// Scheduler job names.
const (
	JobImport     = "import"
	JobFileImport = "file_import"
)

// JobData is the payload persisted with a scheduled job.
type JobData struct {
	ImportID  string        `json:"importId"`
	FileJobID string        `json:"fileJobId,omitempty"`
	Config    *ImportConfig `json:"config,omitempty"`
}

// Scheduler times and invokes import work outside the engine. Heartbeat is
// keyed by file import job id and tells the scheduler the job is alive.
type Scheduler interface {
	CreateJob(ctx context.Context, name string, notBefore time.Time, data JobData) (string, error)
	Heartbeat(ctx context.Context, jobID string) error
}

// EntityStore is the target store. Every call is scoped to an application
// partition; writes are append-only and safe to replay.
type EntityStore interface {
	EnsureCollection(ctx context.Context, appID, name string) error
	Create(ctx context.Context, appID string, ref entities.EntityRef, props map[string]any) error
	CreateConnection(ctx context.Context, appID string, owner entities.EntityRef, relationType string, target entities.EntityRef) error
	AddToDictionary(ctx context.Context, appID string, owner entities.EntityRef, name string, entries map[string]any) error
	Get(ctx context.Context, appID string, ref entities.EntityRef) (*entities.Entity, error)
	Update(ctx context.Context, appID string, entity *entities.Entity) error
}

// LocalFile is a blob copied to local disk for parsing.
type LocalFile struct {
	Key  string // blob key, e.g. "acme/app1.users.1.json"
	Path string // local path
	Size int64
}

// BlobRetriever copies export files from blob storage to local disk.
type BlobRetriever interface {
	Retrieve(ctx context.Context, prefix string) ([]LocalFile, error)
	Fetch(ctx context.Context, key string) (LocalFile, error)
}

// Directory resolves organizations and applications.
type Directory interface {
	GetOrganization(idOrName string) (*entities.Organization, error)
	GetApplication(idOrName string) (*entities.Application, error)
}

// JobStore persists import and file import job records.
type JobStore interface {
	CreateImportJob(job *entities.ImportJob) error
	GetImportJob(id string) (*entities.ImportJob, error)
	ListImportJobs(limit int) ([]entities.ImportJob, error)
	MutateImportJob(id string, fn func(*entities.ImportJob) error) (*entities.ImportJob, error)
	CreateFileImportJob(job *entities.FileImportJob) error
	GetFileImportJob(id string) (*entities.FileImportJob, error)
	ListFileImportJobs(importJobID string) ([]entities.FileImportJob, error)
	MutateFileImportJob(id string, fn func(*entities.FileImportJob) error) (*entities.FileImportJob, error)
}
