package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mrlokans/bulkimport/internal/storage"
)

// Client implements storage.Client over a directory on local disk. Object
// keys map to files below the root.
type Client struct {
	root string
}

func NewClient(root string) *Client {
	return &Client{root: root}
}

// resolve cleans key as an absolute path first, so ".." can never climb
// above the root.
func (c *Client) resolve(key string) string {
	return filepath.Join(c.root, filepath.FromSlash(cleanKey(key)))
}

func cleanKey(key string) string {
	return strings.Trim(path.Clean("/"+key), "/")
}

func (c *Client) List(ctx context.Context, dir string) ([]storage.FileInfo, error) {
	full := c.resolve(dir)
	entries, err := os.ReadDir(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	base := cleanKey(dir)
	files := make([]storage.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, storage.FileInfo{
			Name:       entry.Name(),
			Path:       path.Join(base, entry.Name()),
			IsDir:      entry.IsDir(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	return files, nil
}

func (c *Client) Download(_ context.Context, key string) (io.ReadCloser, error) {
	full := c.resolve(key)
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return f, nil
}

func (c *Client) Upload(_ context.Context, key string, content io.Reader) error {
	full := c.resolve(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}
	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", key, err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return f.Close()
}

func (c *Client) GetMetadata(_ context.Context, key string) (*storage.FileInfo, error) {
	full := c.resolve(key)
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return &storage.FileInfo{
		Name:       info.Name(),
		Path:       cleanKey(key),
		IsDir:      info.IsDir(),
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
	}, nil
}

var _ storage.Client = (*Client)(nil)
