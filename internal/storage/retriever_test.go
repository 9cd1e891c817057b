package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/bulkimport/internal/importers"
	"github.com/mrlokans/bulkimport/internal/storage"
	"github.com/mrlokans/bulkimport/internal/storage/providers/local"
)

func seedBucket(t *testing.T, keys ...string) *local.Client {
	t.Helper()
	c := local.NewClient(t.TempDir())
	for _, k := range keys {
		require.NoError(t, c.Upload(context.Background(), k, strings.NewReader(`["`+k+`"]`)))
	}
	return c
}

func keysOf(files []importers.LocalFile) []string {
	var keys []string
	for _, f := range files {
		keys = append(keys, f.Key)
	}
	return keys
}

func TestRetriever_Retrieve(t *testing.T) {
	bucket := seedBucket(t,
		"acme/app1.users.2.json",
		"acme/app1.users.1.json",
		"acme/app1.pets.1.json",
		"acme/app1.users.notes.txt",
		"acme/app10.users.1.json",
		"globex/crm.users.1.json",
	)
	workDir := t.TempDir()
	r := storage.NewRetriever(bucket, workDir, nil)

	tests := []struct {
		prefix string
		want   []string
	}{
		{"acme/", []string{"acme/app1.pets.1.json", "acme/app1.users.1.json", "acme/app1.users.2.json", "acme/app10.users.1.json"}},
		{"acme/app1.", []string{"acme/app1.pets.1.json", "acme/app1.users.1.json", "acme/app1.users.2.json"}},
		{"acme/app1.users.", []string{"acme/app1.users.1.json", "acme/app1.users.2.json"}},
		{"initech/", nil},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			files, err := r.Retrieve(context.Background(), tt.prefix)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keysOf(files))
			for _, f := range files {
				data, err := os.ReadFile(f.Path)
				require.NoError(t, err)
				assert.Equal(t, `["`+f.Key+`"]`, string(data))
				assert.Equal(t, int64(len(data)), f.Size)
				assert.True(t, strings.HasPrefix(f.Path, workDir))
			}
		})
	}
}

func TestRetriever_Fetch(t *testing.T) {
	bucket := seedBucket(t, "acme/app1.users.1.json")
	workDir := t.TempDir()
	r := storage.NewRetriever(bucket, workDir, nil)

	lf, err := r.Fetch(context.Background(), "acme/app1.users.1.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(workDir, "acme", "app1.users.1.json"), lf.Path)

	_, err = r.Fetch(context.Background(), "acme/missing.json")
	assert.ErrorIs(t, err, storage.ErrNotExist)

	_, err = r.Fetch(context.Background(), "../outside.json")
	assert.Error(t, err)
}
