package entitystore

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/bulkimport/internal/config"
	"github.com/mrlokans/bulkimport/internal/entities"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.EntityStore{InMemory: true}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(config.EntityStore{}, nil)
	assert.Error(t, err)
}

func TestOpen_OnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(config.EntityStore{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, "app1", entities.EntityRef{ID: "u1", Type: "user"}, map[string]any{"name": "ada"}))
	require.NoError(t, s.Close())

	s, err = Open(config.EntityStore{Dir: dir}, nil)
	require.NoError(t, err)
	defer s.Close()
	e, err := s.Get(ctx, "app1", entities.EntityRef{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "ada", e.Properties["name"])
}

func TestStore_Ping(t *testing.T) {
	s, err := Open(config.EntityStore{InMemory: true}, nil)
	require.NoError(t, err)
	assert.NoError(t, s.Ping())
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping())
}

func TestStore_CreateIsUpsert(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	first := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }

	ref := entities.EntityRef{ID: "u1", Type: "user"}
	require.NoError(t, s.Create(ctx, "app1", ref, map[string]any{"name": "ada", "age": 36}))

	s.now = func() time.Time { return first.Add(time.Hour) }
	require.NoError(t, s.Create(ctx, "app1", entities.EntityRef{ID: "u1"}, map[string]any{"name": "ada lovelace"}))

	e, err := s.Get(ctx, "app1", entities.EntityRef{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "user", e.Type)
	assert.Equal(t, map[string]any{"name": "ada lovelace"}, e.Properties)
	assert.True(t, e.Created.Equal(first))
	assert.True(t, e.Modified.Equal(first.Add(time.Hour)))

	n, err := s.Count("app1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_NumbersKeepPrecision(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "app1", entities.EntityRef{ID: "u1"}, map[string]any{"big": json.Number("9007199254740993")}))
	e, err := s.Get(ctx, "app1", entities.EntityRef{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), e.Properties["big"])
}

func TestStore_PartitionsAreIsolated(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "app1", entities.EntityRef{ID: "u1"}, nil))

	_, err := s.Get(ctx, "app2", entities.EntityRef{ID: "u1"})
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.Count("app2")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_Update(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	err := s.Update(ctx, "app1", &entities.Entity{EntityRef: entities.EntityRef{ID: "missing"}})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Create(ctx, "app1", entities.EntityRef{ID: "imp", Type: "import"}, map[string]any{"state": "CREATED"}))
	e, err := s.Get(ctx, "app1", entities.EntityRef{ID: "imp"})
	require.NoError(t, err)
	e.Properties["state"] = "STARTED"
	require.NoError(t, s.Update(ctx, "app1", e))

	got, err := s.Get(ctx, "app1", entities.EntityRef{ID: "imp"})
	require.NoError(t, err)
	assert.Equal(t, "STARTED", got.Properties["state"])
	assert.Equal(t, "import", got.Type)
}

func TestStore_CollectionsAndConnections(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureCollection(ctx, "app1", "users"))
	require.NoError(t, s.EnsureCollection(ctx, "app1", "users"))
	require.NoError(t, s.EnsureCollection(ctx, "app1", "pets"))
	require.NoError(t, s.EnsureCollection(ctx, "app2", "orders"))
	assert.Error(t, s.EnsureCollection(ctx, "app1", ""))

	names, err := s.Collections("app1")
	require.NoError(t, err)
	assert.Equal(t, []string{"pets", "users"}, names)

	owner := entities.EntityRef{ID: "u1", Type: "user"}
	require.NoError(t, s.CreateConnection(ctx, "app1", owner, "likes", entities.EntityRef{ID: "p1"}))
	require.NoError(t, s.CreateConnection(ctx, "app1", owner, "likes", entities.EntityRef{ID: "p1"}))
	require.NoError(t, s.CreateConnection(ctx, "app1", owner, "owns", entities.EntityRef{ID: "p2"}))
	require.NoError(t, s.CreateConnection(ctx, "app1", entities.EntityRef{ID: "u10"}, "likes", entities.EntityRef{ID: "p3"}))
	assert.Error(t, s.CreateConnection(ctx, "app1", owner, "", entities.EntityRef{ID: "p1"}))

	conns, err := s.Connections("app1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []Connection{{"likes", "p1"}, {"owns", "p2"}}, conns)
}

func TestStore_KeysWithSeparators(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	require.NoError(t, s.CreateConnection(ctx, "app1", entities.EntityRef{ID: "u1"}, "likes", entities.EntityRef{ID: "p1"}))
	require.NoError(t, s.CreateConnection(ctx, "app1", entities.EntityRef{ID: "u1:likes"}, "x", entities.EntityRef{ID: "p2"}))
	require.NoError(t, s.CreateConnection(ctx, "app1", entities.EntityRef{ID: "u2"}, "part:of", entities.EntityRef{ID: "g:1"}))
	require.NoError(t, s.CreateConnection(ctx, "app1", entities.EntityRef{ID: "u3"}, "50%", entities.EntityRef{ID: "a%3Ab"}))

	conns, err := s.Connections("app1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []Connection{{"likes", "p1"}}, conns)

	conns, err = s.Connections("app1", "u1:likes")
	require.NoError(t, err)
	assert.Equal(t, []Connection{{"x", "p2"}}, conns)

	conns, err = s.Connections("app1", "u2")
	require.NoError(t, err)
	assert.Equal(t, []Connection{{"part:of", "g:1"}}, conns)

	conns, err = s.Connections("app1", "u3")
	require.NoError(t, err)
	assert.Equal(t, []Connection{{"50%", "a%3Ab"}}, conns)

	require.NoError(t, s.Create(ctx, "app:1", entities.EntityRef{ID: "e1", Type: "t"}, nil))
	require.NoError(t, s.Create(ctx, "app", entities.EntityRef{ID: "1:e2", Type: "t"}, nil))
	require.NoError(t, s.EnsureCollection(ctx, "app", "a:b"))
	n, err := s.Count("app:1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Count("app")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	names, err := s.Collections("app")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:b"}, names)
}

func TestStore_DictionaryMerges(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	owner := entities.EntityRef{ID: "u1"}

	dict, err := s.Dictionary("app1", "u1", "aliases")
	require.NoError(t, err)
	assert.Nil(t, dict)

	require.NoError(t, s.AddToDictionary(ctx, "app1", owner, "aliases", map[string]any{"a": "x", "b": "y"}))
	require.NoError(t, s.AddToDictionary(ctx, "app1", owner, "aliases", map[string]any{"b": "z", "c": true}))

	dict, err = s.Dictionary("app1", "u1", "aliases")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "x", "b": "z", "c": true}, dict)
}

func TestStore_ConcurrentDictionaryWrites(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	owner := entities.EntityRef{ID: "u1"}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.AddToDictionary(ctx, "app1", owner, "seen", map[string]any{string(rune('a' + i)): i})
		}(i)
	}
	wg.Wait()
	close(errs)

	failures := 0
	for err := range errs {
		if err != nil {
			failures++
		}
	}
	dict, err := s.Dictionary("app1", "u1", "seen")
	require.NoError(t, err)
	assert.Equal(t, 20-failures, len(dict))
}
