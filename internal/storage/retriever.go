package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/importers"
	"github.com/mrlokans/bulkimport/internal/logging"
)

const exportSuffix = ".json"

// Retriever copies export files from a storage Client into a local work
// directory, mirroring their keys.
type Retriever struct {
	client  Client
	workDir string
	log     *logrus.Entry
}

func NewRetriever(client Client, workDir string, log *logrus.Entry) *Retriever {
	return &Retriever{
		client:  client,
		workDir: workDir,
		log:     logging.OrNop(log),
	}
}

// Retrieve downloads every .json object whose key starts with prefix, in key
// order. Keys sit below the directory part of the prefix, so only that
// directory is listed.
func (r *Retriever) Retrieve(ctx context.Context, prefix string) ([]importers.LocalFile, error) {
	dir := path.Dir(prefix)
	if strings.HasSuffix(prefix, "/") {
		dir = strings.TrimSuffix(prefix, "/")
	}
	if dir == "." {
		dir = ""
	}

	files, err := ListRecursive(ctx, r.client, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %q: %w", dir, err)
	}
	matched := FilterFiles(files, func(f FileInfo) bool {
		return strings.HasPrefix(f.Path, prefix) && strings.HasSuffix(f.Path, exportSuffix)
	})
	sort.Slice(matched, func(i, j int) bool { return matched[i].Path < matched[j].Path })

	out := make([]importers.LocalFile, 0, len(matched))
	for _, f := range matched {
		lf, err := r.Fetch(ctx, f.Path)
		if err != nil {
			return nil, err
		}
		out = append(out, lf)
	}

	r.log.WithFields(logrus.Fields{
		"prefix": prefix,
		"listed": len(files),
		"files":  len(out),
	}).Info("retrieved export files")
	return out, nil
}

// Fetch downloads a single object by key.
func (r *Retriever) Fetch(ctx context.Context, key string) (importers.LocalFile, error) {
	local, err := r.localPath(key)
	if err != nil {
		return importers.LocalFile{}, err
	}
	size, err := DownloadToFile(ctx, r.client, key, local)
	if err != nil {
		return importers.LocalFile{}, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	r.log.WithFields(logrus.Fields{"file": key, "bytes": size}).Debug("downloaded export file")
	return importers.LocalFile{Key: key, Path: local, Size: size}, nil
}

func (r *Retriever) localPath(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+key {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(r.workDir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}
