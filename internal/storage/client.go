package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ErrNotExist is returned by providers when an object or directory is missing.
var ErrNotExist = errors.New("object does not exist")

// FileInfo contains metadata about an object or directory in blob storage
type FileInfo struct {
	Name        string
	Path        string // slash-separated key relative to the provider root
	IsDir       bool
	Size        int64
	ModifiedAt  time.Time
	ContentHash string // Provider-specific content hash (if available)
}

// Client defines the interface for blob storage operations
type Client interface {
	// List returns entries directly under the specified directory path
	List(ctx context.Context, path string) ([]FileInfo, error)

	// Download retrieves the contents of an object
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Upload writes content to an object path
	Upload(ctx context.Context, path string, content io.Reader) error

	// GetMetadata retrieves object info without downloading content
	GetMetadata(ctx context.Context, path string) (*FileInfo, error)
}

// DownloadToFile downloads an object to localPath and returns its size. The
// file appears at localPath only once it is complete.
func DownloadToFile(ctx context.Context, client Client, remotePath, localPath string) (int64, error) {
	reader, err := client.Download(ctx, remotePath)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", localPath, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, reader)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to download %s: %w", remotePath, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return 0, fmt.Errorf("failed to move download into place: %w", err)
	}
	return n, nil
}

// ListRecursive lists all files recursively from a path
func ListRecursive(ctx context.Context, client Client, path string) ([]FileInfo, error) {
	var allFiles []FileInfo

	entries, err := client.List(ctx, path)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir {
			subFiles, err := ListRecursive(ctx, client, entry.Path)
			if err != nil {
				return nil, err
			}
			allFiles = append(allFiles, subFiles...)
		} else {
			allFiles = append(allFiles, entry)
		}
	}

	return allFiles, nil
}

// FilterFiles filters file list by a predicate function
func FilterFiles(files []FileInfo, predicate func(FileInfo) bool) []FileInfo {
	var filtered []FileInfo
	for _, f := range files {
		if predicate(f) {
			filtered = append(filtered, f)
		}
	}
	return filtered
}
