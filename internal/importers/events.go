package importers

import (
	"context"

	"github.com/mrlokans/bulkimport/internal/entities"
)

// EventKind names a WriteEvent variant; it doubles as a metrics label.
type EventKind string

const (
	EventEntity     EventKind = "entity"
	EventConnection EventKind = "connection"
	EventDictionary EventKind = "dictionary"
)

// WriteEvent is one unit of replay work. The set of implementations is
// closed: EntityWrite, ConnectionWrite and DictionaryWrite. Events are
// immutable once produced and carry their owner, so they can be applied in
// any order by any worker.
type WriteEvent interface {
	Kind() EventKind
	// Record is the ordinal of the source record the event came from.
	Record() int64
	Apply(ctx context.Context, store EntityStore, appID string) error
	sealed()
}

type EntityWrite struct {
	Seq        int64
	Ref        entities.EntityRef
	Properties map[string]any
}

func (EntityWrite) Kind() EventKind { return EventEntity }
func (e EntityWrite) Record() int64 { return e.Seq }
func (EntityWrite) sealed() {}

func (e EntityWrite) Apply(ctx context.Context, store EntityStore, appID string) error {
	return store.Create(ctx, appID, e.Ref, e.Properties)
}

type ConnectionWrite struct {
	Seq          int64
	Owner        entities.EntityRef
	RelationType string
	Target       entities.EntityRef
}

func (ConnectionWrite) Kind() EventKind { return EventConnection }
func (e ConnectionWrite) Record() int64 { return e.Seq }
func (ConnectionWrite) sealed() {}

func (e ConnectionWrite) Apply(ctx context.Context, store EntityStore, appID string) error {
	return store.CreateConnection(ctx, appID, e.Owner, e.RelationType, e.Target)
}

type DictionaryWrite struct {
	Seq     int64
	Owner   entities.EntityRef
	Name    string
	Entries map[string]any
}

func (DictionaryWrite) Kind() EventKind { return EventDictionary }
func (e DictionaryWrite) Record() int64 { return e.Seq }
func (DictionaryWrite) sealed() {}

func (e DictionaryWrite) Apply(ctx context.Context, store EntityStore, appID string) error {
	return store.AddToDictionary(ctx, appID, e.Owner, e.Name, e.Entries)
}
