package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/bulkimport/internal/storage"
)

func TestClient_RoundTrip(t *testing.T) {
	root := t.TempDir()
	c := NewClient(root)
	ctx := context.Background()

	require.NoError(t, c.Upload(ctx, "acme/app1.users.1.json", strings.NewReader(`[]`)))
	require.NoError(t, c.Upload(ctx, "acme/nested/app2.pets.1.json", strings.NewReader(`[{}]`)))

	files, err := c.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, files, 2)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	assert.Equal(t, "acme/app1.users.1.json", files[0].Path)
	assert.False(t, files[0].IsDir)
	assert.Equal(t, "acme/nested", files[1].Path)
	assert.True(t, files[1].IsDir)

	all, err := storage.ListRecursive(ctx, c, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	rc, err := c.Download(ctx, "acme/nested/app2.pets.1.json")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, `[{}]`, string(data))

	info, err := c.GetMetadata(ctx, "acme/app1.users.1.json")
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size)
}

func TestClient_MissingPaths(t *testing.T) {
	c := NewClient(t.TempDir())
	ctx := context.Background()

	files, err := c.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = c.Download(ctx, "nobody/x.json")
	assert.ErrorIs(t, err, storage.ErrNotExist)

	_, err = c.GetMetadata(ctx, "nobody/x.json")
	assert.ErrorIs(t, err, storage.ErrNotExist)
}

func TestClient_StaysInsideRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))
	c := NewClient(root)

	require.NoError(t, c.Upload(context.Background(), "../escape.json", strings.NewReader(`[]`)))

	_, err := os.Stat(filepath.Join(parent, "escape.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "escape.json"))
	assert.NoError(t, err)
}
