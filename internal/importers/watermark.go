package importers

// watermark tracks which source records have every event settled.
//
// Events of one record are produced together, so a record is sealed as soon
// as the producer moves past it. The watermark is the id of the newest record
// that, together with every record before it, is sealed and has no events in
// flight. Resuming from it can never skip a record that still had work
// outstanding, whatever order the workers finished in.
//
// Not safe for concurrent use; callers hold their own lock.
type watermark struct {
	records map[int64]*recordState
	next    int64 // lowest record not yet settled
	open    int64 // record currently being produced
	id      string
}

type recordState struct {
	id       string
	inFlight int
	sealed   bool
}

func newWatermark() *watermark {
	return &watermark{records: make(map[int64]*recordState)}
}

// add registers an event for record seq with the given entity id.
func (w *watermark) add(seq int64, entityID string) {
	if w.next == 0 {
		w.next = seq
	}
	if seq != w.open {
		w.seal()
		w.open = seq
	}
	rec, ok := w.records[seq]
	if !ok {
		rec = &recordState{}
		w.records[seq] = rec
	}
	if entityID != "" {
		rec.id = entityID
	}
	rec.inFlight++
}

// done marks one event of record seq as applied or failed.
func (w *watermark) done(seq int64) {
	if rec, ok := w.records[seq]; ok {
		rec.inFlight--
	}
	w.advance()
}

// seal closes the record currently being produced.
func (w *watermark) seal() {
	if rec, ok := w.records[w.open]; ok {
		rec.sealed = true
	}
	w.advance()
}

func (w *watermark) advance() {
	for {
		rec, ok := w.records[w.next]
		if !ok || !rec.sealed || rec.inFlight > 0 {
			return
		}
		if rec.id != "" {
			w.id = rec.id
		}
		delete(w.records, w.next)
		w.next++
	}
}

// value returns the current watermark id, "" when nothing has settled.
func (w *watermark) value() string {
	return w.id
}
