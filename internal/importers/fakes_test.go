package importers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mrlokans/bulkimport/internal/entities"
)

type fakeStore struct {
	mu           sync.Mutex
	collections  map[string][]string
	entities     map[string]*entities.Entity
	created      []string
	connections  []string
	dictionaries map[string]map[string]any
	failCreate   map[string]error
	delay        time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		collections:  make(map[string][]string),
		entities:     make(map[string]*entities.Entity),
		dictionaries: make(map[string]map[string]any),
		failCreate:   make(map[string]error),
	}
}

func (s *fakeStore) EnsureCollection(_ context.Context, appID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.collections[appID] {
		if c == name {
			return nil
		}
	}
	s.collections[appID] = append(s.collections[appID], name)
	return nil
}

func (s *fakeStore) Create(_ context.Context, appID string, ref entities.EntityRef, props map[string]any) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failCreate[ref.ID]; err != nil {
		return err
	}
	s.created = append(s.created, ref.ID)
	s.entities[appID+"/"+ref.ID] = &entities.Entity{EntityRef: ref, Properties: props}
	return nil
}

func (s *fakeStore) CreateConnection(_ context.Context, appID string, owner entities.EntityRef, relationType string, target entities.EntityRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = append(s.connections, fmt.Sprintf("%s-%s->%s", owner.ID, relationType, target.ID))
	return nil
}

func (s *fakeStore) AddToDictionary(_ context.Context, appID string, owner entities.EntityRef, name string, entries map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := owner.ID + "/" + name
	if s.dictionaries[key] == nil {
		s.dictionaries[key] = make(map[string]any)
	}
	for k, v := range entries {
		s.dictionaries[key][k] = v
	}
	return nil
}

func (s *fakeStore) Get(_ context.Context, appID string, ref entities.EntityRef) (*entities.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[appID+"/"+ref.ID]
	if !ok {
		return nil, errors.New("entity not found")
	}
	copied := *e
	return &copied, nil
}

func (s *fakeStore) Update(_ context.Context, appID string, entity *entities.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[appID+"/"+entity.ID] = entity
	return nil
}

func (s *fakeStore) createdIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]string(nil), s.created...)
	sort.Strings(ids)
	return ids
}

func (s *fakeStore) connectionList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.connections...)
	sort.Strings(out)
	return out
}

type fakeSink struct {
	mu          sync.Mutex
	checkpoints []Progress
	heartbeats  int
	failNext    error
}

func (s *fakeSink) Checkpoint(_ context.Context, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.checkpoints = append(s.checkpoints, p)
	return nil
}

func (s *fakeSink) Heartbeat(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	return nil
}

type sliceSource struct {
	events []WriteEvent
	err    error
}

func (s *sliceSource) Next() (WriteEvent, error) {
	if len(s.events) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

type fakeScheduler struct {
	mu         sync.Mutex
	jobs       []scheduledJob
	heartbeats map[string]int
	fail       error
}

type scheduledJob struct {
	ID        string
	Name      string
	NotBefore time.Time
	Data      JobData
}

func (s *fakeScheduler) CreateJob(_ context.Context, name string, notBefore time.Time, data JobData) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	id := fmt.Sprintf("task-%d", len(s.jobs)+1)
	s.jobs = append(s.jobs, scheduledJob{ID: id, Name: name, NotBefore: notBefore, Data: data})
	return id, nil
}

func (s *fakeScheduler) Heartbeat(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heartbeats == nil {
		s.heartbeats = make(map[string]int)
	}
	s.heartbeats[jobID]++
	return nil
}

func (s *fakeScheduler) named(name string) []scheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []scheduledJob
	for _, j := range s.jobs {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}

// fakeBlobs serves files from an in-memory key -> content map, writing them
// under dir on retrieval. Like the real retriever it only returns .json keys.
type fakeBlobs struct {
	dir     string
	files   map[string]string
	fail    error
	fetched []string
}

func (b *fakeBlobs) Retrieve(ctx context.Context, prefix string) ([]LocalFile, error) {
	if b.fail != nil {
		return nil, b.fail
	}
	var keys []string
	for k := range b.files {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, ".json") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var out []LocalFile
	for _, k := range keys {
		lf, err := b.Fetch(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, lf)
	}
	return out, nil
}

func (b *fakeBlobs) Fetch(_ context.Context, key string) (LocalFile, error) {
	content, ok := b.files[key]
	if !ok {
		return LocalFile{}, fmt.Errorf("no such key %s", key)
	}
	b.fetched = append(b.fetched, key)
	path := filepath.Join(b.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return LocalFile{}, err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return LocalFile{}, err
	}
	return LocalFile{Key: key, Path: path, Size: int64(len(content))}, nil
}

// flakyJobs fails the nth CreateFileImportJob call once.
type flakyJobs struct {
	JobStore
	failOn int
	calls  int
}

func (f *flakyJobs) CreateFileImportJob(job *entities.FileImportJob) error {
	f.calls++
	if f.calls == f.failOn {
		return errors.New("disk I/O error")
	}
	return f.JobStore.CreateFileImportJob(job)
}
