// Package interfaces documents the seams of the import engine and holds
// compile-time checks that the concrete types fit them.
//
// # Engine Collaborators
//
// The engine in internal/importers depends only on interfaces declared in
// internal/importers/collaborators.go:
//
//   - JobStore: import and file import job records (internal/database/imports)
//   - Directory: organization and application lookup (internal/database/directory)
//   - EntityStore: the partitioned target store (internal/entitystore)
//   - BlobRetriever: copies export files to local disk (internal/storage)
//   - Scheduler: delayed job creation and heartbeats (internal/tasks)
//
// # Adding a Blob Provider
//
// To read exports from another object store:
//
//  1. Implement storage.Client in internal/storage/providers/<name>/
//
//     type Client struct { ... }
//
//     func (c *Client) List(ctx context.Context, dir string) ([]storage.FileInfo, error)
//     func (c *Client) Download(ctx context.Context, key string) (io.ReadCloser, error)
//     func (c *Client) Upload(ctx context.Context, key string, content io.Reader) error
//     func (c *Client) GetMetadata(ctx context.Context, key string) (*storage.FileInfo, error)
//
//  2. Add a provider name in internal/config and select it in
//     entrypoint.NewBlobClient
//
//  3. Add a compile-time check to checks.go
//
// # Adding a Background Task
//
//  1. Define the task type and its backlite.QueueConfig in internal/tasks/
//
//  2. Register the queue in entrypoint.Build
//
// # Compile-Time Interface Checks
//
// All implementations should include compile-time checks:
//
//	var _ SomeInterface = (*MyImplementation)(nil)
//
// See checks.go.
package interfaces
