// Package entitystore is the target entity store: a Badger key-value database
// partitioned by application.
//
// Key layout:
//
//	coll:{app}:{name}                         collection marker
//	ent:{app}:{uuid}                          entity JSON
//	conn:{app}:{owner}:{relation}:{target}    connection marker
//	dict:{app}:{owner}:{name}                 dictionary JSON
//
// Segments are escaped so that ':' only ever separates them.
//
// Every write is an upsert, so replaying an import file is harmless.
package entitystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/mrlokans/bulkimport/internal/config"
	"github.com/mrlokans/bulkimport/internal/entities"
	"github.com/mrlokans/bulkimport/internal/logging"
)

// ErrNotFound is returned by Get and Update for unknown entities.
var ErrNotFound = errors.New("entity not found")

const maxConflictRetries = 5

var codec = jsoniter.Config{UseNumber: true, SortMapKeys: true}.Froze()

// Connection is one outgoing edge of an entity.
type Connection struct {
	Relation string
	Target   string
}

type Store struct {
	db  *badger.DB
	log *logrus.Entry
	now func() time.Time
}

// Open opens the store described by cfg. InMemory ignores Dir.
func Open(cfg config.EntityStore, log *logrus.Entry) (*Store, error) {
	log = logging.OrNop(log).WithField("component", "entitystore")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("entity store directory is required")
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(badgerLogger{log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open entity store: %w", err)
	}
	log.WithFields(logrus.Fields{"dir": cfg.Dir, "in_memory": cfg.InMemory}).Info("Entity store opened")
	return &Store{db: db, log: log, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping fails once the store is closed.
func (s *Store) Ping() error {
	if s.db.IsClosed() {
		return errors.New("entity store is closed")
	}
	return nil
}

var (
	segmentEscaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	segmentUnescaper = strings.NewReplacer("%3A", ":", "%25", "%")
)

// joinKey joins kind and the escaped segments with ':'.
func joinKey(kind string, segments ...string) string {
	var b strings.Builder
	b.WriteString(kind)
	for _, seg := range segments {
		b.WriteByte(':')
		b.WriteString(segmentEscaper.Replace(seg))
	}
	return b.String()
}

// scanPrefix is joinKey with a trailing separator, for scanning below a node.
func scanPrefix(kind string, segments ...string) string {
	return joinKey(kind, segments...) + ":"
}

func collectionKey(appID, name string) []byte {
	return []byte(joinKey("coll", appID, name))
}

func entityKey(appID, id string) []byte {
	return []byte(joinKey("ent", appID, id))
}

func connectionKey(appID, owner, relation, target string) []byte {
	return []byte(joinKey("conn", appID, owner, relation, target))
}

func dictionaryKey(appID, owner, name string) []byte {
	return []byte(joinKey("dict", appID, owner, name))
}

// update runs fn in a read-write transaction, retrying on conflicts with
// concurrent writers.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store) EnsureCollection(ctx context.Context, appID, name string) error {
	if name == "" {
		return errors.New("collection name is required")
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(collectionKey(appID, name), nil)
	})
}

// Create writes an entity, replacing the properties of an existing one with
// the same uuid. The original creation time is kept.
func (s *Store) Create(ctx context.Context, appID string, ref entities.EntityRef, props map[string]any) error {
	if ref.ID == "" {
		return errors.New("entity uuid is required")
	}
	now := s.now().UTC()
	err := s.update(ctx, func(txn *badger.Txn) error {
		entity := entities.Entity{EntityRef: ref, Properties: props, Created: now, Modified: now}
		existing, err := getEntity(txn, appID, ref.ID)
		switch {
		case err == nil:
			entity.Created = existing.Created
			if entity.Type == "" {
				entity.Type = existing.Type
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}
		return putEntity(txn, appID, &entity)
	})
	if err != nil {
		return fmt.Errorf("failed to create entity %s: %w", ref.ID, err)
	}
	return nil
}

func (s *Store) CreateConnection(ctx context.Context, appID string, owner entities.EntityRef, relationType string, target entities.EntityRef) error {
	if owner.ID == "" || target.ID == "" || relationType == "" {
		return errors.New("connection needs an owner, a relation and a target")
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(connectionKey(appID, owner.ID, relationType, target.ID), nil)
	})
}

// AddToDictionary merges entries into the named dictionary of owner.
func (s *Store) AddToDictionary(ctx context.Context, appID string, owner entities.EntityRef, name string, entries map[string]any) error {
	key := dictionaryKey(appID, owner.ID, name)
	return s.update(ctx, func(txn *badger.Txn) error {
		merged := map[string]any{}
		item, err := txn.Get(key)
		switch {
		case err == nil:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := codec.Unmarshal(raw, &merged); err != nil {
				return fmt.Errorf("corrupt dictionary %s: %w", name, err)
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		for k, v := range entries {
			merged[k] = v
		}
		raw, err := codec.Marshal(merged)
		if err != nil {
			return err
		}
		return txn.Set(key, raw)
	})
}

func (s *Store) Get(_ context.Context, appID string, ref entities.EntityRef) (*entities.Entity, error) {
	var entity *entities.Entity
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entity, err = getEntity(txn, appID, ref.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// Update replaces the properties of an existing entity.
func (s *Store) Update(ctx context.Context, appID string, entity *entities.Entity) error {
	now := s.now().UTC()
	return s.update(ctx, func(txn *badger.Txn) error {
		existing, err := getEntity(txn, appID, entity.ID)
		if err != nil {
			return err
		}
		updated := *entity
		updated.Created = existing.Created
		updated.Modified = now
		if updated.Type == "" {
			updated.Type = existing.Type
		}
		return putEntity(txn, appID, &updated)
	})
}

func getEntity(txn *badger.Txn, appID, id string) (*entities.Entity, error) {
	item, err := txn.Get(entityKey(appID, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s/%s: %w", appID, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var entity entities.Entity
	if err := codec.Unmarshal(raw, &entity); err != nil {
		return nil, fmt.Errorf("corrupt entity %s: %w", id, err)
	}
	return &entity, nil
}

func putEntity(txn *badger.Txn, appID string, entity *entities.Entity) error {
	raw, err := codec.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode entity %s: %w", entity.ID, err)
	}
	return txn.Set(entityKey(appID, entity.ID), raw)
}

// scanKeys calls fn with the remainder of every key under p.
func (s *Store) scanKeys(p string, fn func(rest string)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(p)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			fn(strings.TrimPrefix(string(it.Item().Key()), p))
		}
		return nil
	})
}

// Collections lists the collection names of an application in key order.
func (s *Store) Collections(appID string) ([]string, error) {
	var names []string
	err := s.scanKeys(scanPrefix("coll", appID), func(rest string) {
		names = append(names, segmentUnescaper.Replace(rest))
	})
	return names, err
}

// Connections lists the outgoing connections of owner.
func (s *Store) Connections(appID, ownerID string) ([]Connection, error) {
	var conns []Connection
	err := s.scanKeys(scanPrefix("conn", appID, ownerID), func(rest string) {
		relation, target, ok := strings.Cut(rest, ":")
		if ok {
			conns = append(conns, Connection{
				Relation: segmentUnescaper.Replace(relation),
				Target:   segmentUnescaper.Replace(target),
			})
		}
	})
	return conns, err
}

// Dictionary returns the named dictionary of owner, or nil when it is empty.
func (s *Store) Dictionary(appID, ownerID, name string) (map[string]any, error) {
	var dict map[string]any
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dictionaryKey(appID, ownerID, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return codec.Unmarshal(raw, &dict)
	})
	return dict, err
}

// Count returns the number of entities in an application.
func (s *Store) Count(appID string) (int, error) {
	n := 0
	err := s.scanKeys(scanPrefix("ent", appID), func(string) { n++ })
	return n, err
}

// badgerLogger routes Badger's internal logging through logrus. Badger is
// chatty at info level, so that is demoted to debug.
type badgerLogger struct {
	entry *logrus.Entry
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.entry.Errorf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.entry.Warnf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.entry.Debugf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.entry.Tracef(strings.TrimSpace(format), args...)
}
