package importers

import (
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/mrlokans/bulkimport/internal/entities"
)

const (
	keyUUID         = "uuid"
	keyType         = "type"
	keyConnections  = "connections"
	keyDictionaries = "dictionaries"

	producerBufferSize = 64 * 1024
)

// recordAPI keeps numbers as json.Number so large ids survive the round trip.
var recordAPI = jsoniter.Config{UseNumber: true}.Froze()

// Producer turns a JSON array of records into WriteEvents.
//
// Records are read one at a time through a token cursor. Each record yields
// its EntityWrite first, then a ConnectionWrite per connection target in
// source order, then a DictionaryWrite per dictionary. With a checkpoint the
// producer reads but does not emit records up to and including the one whose
// uuid matches it.
type Producer struct {
	iter       *jsoniter.Iterator
	checkpoint string
	resuming   bool

	opened  bool
	done    bool
	err     error
	seq     int64
	skipped int64
	pending []WriteEvent
}

// NewProducer reads records from r. A blank checkpoint starts from the first
// record.
func NewProducer(r io.Reader, checkpoint string) *Producer {
	return &Producer{
		iter:       jsoniter.Parse(recordAPI, r, producerBufferSize),
		checkpoint: checkpoint,
		resuming:   checkpoint != entities.NoCheckpoint,
	}
}

// Next returns the next event, io.EOF after the last one, or a parse error.
// Errors are terminal: every later call returns the same error.
func (p *Producer) Next() (WriteEvent, error) {
	for len(p.pending) == 0 {
		if p.err != nil {
			return nil, p.err
		}
		if p.done {
			return nil, io.EOF
		}
		p.advance()
	}
	ev := p.pending[0]
	p.pending = p.pending[1:]
	return ev, nil
}

// Records is the number of records read so far, skipped ones included.
func (p *Producer) Records() int64 {
	return p.seq
}

// Skipped is the number of records passed over while resuming.
func (p *Producer) Skipped() int64 {
	return p.skipped
}

func (p *Producer) advance() {
	if !p.opened {
		p.opened = true
		if p.iter.WhatIsNext() != jsoniter.ArrayValue {
			p.fail(fmt.Errorf("expected a JSON array of records"))
			return
		}
	}

	if !p.iter.ReadArray() {
		if err := p.iter.Error; err != nil {
			p.fail(err)
			return
		}
		if p.resuming {
			p.fail(fmt.Errorf("checkpoint %s not found", p.checkpoint))
			return
		}
		p.done = true
		return
	}

	rec, err := p.readRecord(p.seq + 1)
	if err != nil {
		p.fail(err)
		return
	}
	p.seq++

	if p.resuming {
		p.skipped++
		if rec.ref.ID == p.checkpoint {
			p.resuming = false
		}
		return
	}
	p.pending = rec.events(p.seq)
}

func (p *Producer) fail(err error) {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	p.err = newError(KindParse, "parse records", err)
}

type connectionBlock struct {
	relationType string
	targets      []string
}

type dictionaryBlock struct {
	name    string
	entries map[string]any
}

type record struct {
	ref          entities.EntityRef
	ownID        bool // ref.ID came from the record itself, not a wrapper
	ownType      bool
	props        map[string]any
	connections  []connectionBlock
	dictionaries []dictionaryBlock
}

func (r *record) events(seq int64) []WriteEvent {
	events := make([]WriteEvent, 0, 1+len(r.connections)+len(r.dictionaries))
	events = append(events, EntityWrite{Seq: seq, Ref: r.ref, Properties: r.props})
	for _, c := range r.connections {
		for _, target := range c.targets {
			events = append(events, ConnectionWrite{
				Seq:          seq,
				Owner:        r.ref,
				RelationType: c.relationType,
				Target:       entities.EntityRef{ID: target},
			})
		}
	}
	for _, d := range r.dictionaries {
		events = append(events, DictionaryWrite{Seq: seq, Owner: r.ref, Name: d.name, Entries: d.entries})
	}
	return events
}

func (p *Producer) readRecord(ordinal int64) (*record, error) {
	it := p.iter
	if it.WhatIsNext() != jsoniter.ObjectValue {
		if it.Error != nil {
			return nil, it.Error
		}
		return nil, fmt.Errorf("record %d: expected an object", ordinal)
	}

	rec := &record{props: make(map[string]any)}
	var fieldErr error
	it.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		switch key {
		case keyConnections:
			fieldErr = readConnections(it, rec)
		case keyDictionaries:
			fieldErr = readDictionaries(it, rec)
		default:
			fieldErr = readField(it, rec, key, true)
		}
		return fieldErr == nil && it.Error == nil
	})
	if fieldErr != nil {
		return nil, fmt.Errorf("record %d: %w", ordinal, fieldErr)
	}
	if it.Error != nil {
		return nil, it.Error
	}
	if rec.ref.ID == "" {
		return nil, fmt.Errorf("record %d: missing %q", ordinal, keyUUID)
	}
	if rec.ref.Type == "" {
		return nil, fmt.Errorf("record %d (%s): missing %q", ordinal, rec.ref.ID, keyType)
	}
	return rec, nil
}

// readField folds one key of a record. Scalars become properties; uuid and
// type become the identity. A plain object at the top level is a wrapper
// whose scalars are folded the same way; deeper non-scalars are skipped.
// Identity declared on the record itself always beats a wrapper's, and the
// first wrapper to declare one wins over later wrappers.
func readField(it *jsoniter.Iterator, rec *record, key string, topLevel bool) error {
	switch it.WhatIsNext() {
	case jsoniter.StringValue, jsoniter.NumberValue, jsoniter.BoolValue:
		value := scalar(it)
		switch key {
		case keyUUID:
			if topLevel || (!rec.ownID && rec.ref.ID == "") {
				rec.ref.ID = fmt.Sprint(value)
				rec.ownID = rec.ownID || topLevel
			}
		case keyType:
			if topLevel || (!rec.ownType && rec.ref.Type == "") {
				rec.ref.Type = fmt.Sprint(value)
				rec.ownType = rec.ownType || topLevel
			}
		case "":
		default:
			rec.props[key] = value
		}
	case jsoniter.NilValue:
		it.ReadNil()
	case jsoniter.ObjectValue:
		if !topLevel {
			it.Skip()
			return nil
		}
		var inner error
		it.ReadObjectCB(func(it *jsoniter.Iterator, k string) bool {
			inner = readField(it, rec, k, false)
			return inner == nil && it.Error == nil
		})
		return inner
	case jsoniter.ArrayValue:
		if !topLevel || key == "" {
			it.Skip()
			return nil
		}
		rec.props[key] = it.Read()
	default:
		it.Skip()
	}
	return nil
}

func scalar(it *jsoniter.Iterator) any {
	switch it.WhatIsNext() {
	case jsoniter.StringValue:
		return it.ReadString()
	case jsoniter.NumberValue:
		return it.ReadNumber()
	default:
		return it.ReadBool()
	}
}

func readConnections(it *jsoniter.Iterator, rec *record) error {
	if it.WhatIsNext() != jsoniter.ObjectValue {
		return fmt.Errorf("%q must be an object", keyConnections)
	}
	var err error
	it.ReadObjectCB(func(it *jsoniter.Iterator, relation string) bool {
		if it.WhatIsNext() != jsoniter.ArrayValue {
			err = fmt.Errorf("connection %q must be an array of ids", relation)
			return false
		}
		block := connectionBlock{relationType: relation}
		for it.ReadArray() {
			if it.WhatIsNext() != jsoniter.StringValue {
				err = fmt.Errorf("connection %q: target ids must be strings", relation)
				return false
			}
			block.targets = append(block.targets, it.ReadString())
		}
		rec.connections = append(rec.connections, block)
		return it.Error == nil
	})
	return err
}

func readDictionaries(it *jsoniter.Iterator, rec *record) error {
	if it.WhatIsNext() != jsoniter.ObjectValue {
		return fmt.Errorf("%q must be an object", keyDictionaries)
	}
	var err error
	it.ReadObjectCB(func(it *jsoniter.Iterator, name string) bool {
		if it.WhatIsNext() != jsoniter.ObjectValue {
			err = fmt.Errorf("dictionary %q must be an object", name)
			return false
		}
		entries, _ := it.Read().(map[string]any)
		rec.dictionaries = append(rec.dictionaries, dictionaryBlock{name: name, entries: entries})
		return it.Error == nil
	})
	return err
}

// ValidateJSON reads r to the end and reports whether it holds one
// well-formed JSON array.
func ValidateJSON(r io.Reader) error {
	it := jsoniter.Parse(recordAPI, r, producerBufferSize)
	if it.WhatIsNext() != jsoniter.ArrayValue {
		if it.Error != nil && !errors.Is(it.Error, io.EOF) {
			return newError(KindParse, "validate", it.Error)
		}
		return errorf(KindParse, "validate", "expected a JSON array of records")
	}
	it.Skip()
	if it.Error != nil {
		err := it.Error
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return newError(KindParse, "validate", err)
	}
	if it.WhatIsNext() != jsoniter.InvalidValue {
		return errorf(KindParse, "validate", "unexpected content after the records array")
	}
	return nil
}
