package importers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/time/rate"

	"github.com/mrlokans/bulkimport/internal/entities"
	"github.com/mrlokans/bulkimport/internal/logging"
)

// EventSource yields write events until io.EOF or a terminal error.
type EventSource interface {
	Next() (WriteEvent, error)
}

// Progress is a snapshot of a dispatch run. Counters are totals for the run;
// NewErrors and NewErrorCount only cover failures since the previous snapshot.
type Progress struct {
	CheckpointID    string
	EntitiesWritten int64
	EventsWritten   int64
	EventsFailed    int64
	LastError       string
	NewErrorCount   int64
	NewErrors       []string
}

// ProgressSink persists checkpoints and forwards heartbeats.
type ProgressSink interface {
	Checkpoint(ctx context.Context, p Progress) error
	Heartbeat(ctx context.Context) error
}

type DispatcherOptions struct {
	Workers            int
	CheckpointInterval int     // entities between checkpoints
	HeartbeatInterval  int     // events between heartbeats
	WritesPerSecond    float64 // 0 disables throttling

	Logger *logrus.Entry
}

func (o *DispatcherOptions) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = 2000
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 100
	}
	o.Logger = logging.OrNop(o.Logger)
}

// Dispatcher applies events to one application partition with a bounded
// pool of workers. A failed event is recorded and the run continues.
// A Dispatcher serves a single Run.
type Dispatcher struct {
	store   EntityStore
	appID   string
	sink    ProgressSink
	opts    DispatcherOptions
	limiter *rate.Limiter
	m       *metrics

	mu         sync.Mutex
	mark       *watermark
	processed  int64 // entity events, failed ones included
	entities   int64
	written    int64
	failed     int64
	lastError  string
	newErrors  []string
	newErrorsN int64

	sinkMu sync.Mutex
}

func NewDispatcher(store EntityStore, appID string, sink ProgressSink, opts DispatcherOptions) *Dispatcher {
	opts.setDefaults()
	d := &Dispatcher{
		store: store,
		appID: appID,
		sink:  sink,
		opts:  opts,
		m:     getMetrics(),
		mark:  newWatermark(),
	}
	if opts.WritesPerSecond > 0 {
		burst := int(opts.WritesPerSecond)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.WritesPerSecond), burst)
	}
	return d
}

// Run drains src and waits for every submitted event to settle. The returned
// Progress is always valid; the error is the source's terminal error or the
// context's.
func (d *Dispatcher) Run(ctx context.Context, src EventSource) (Progress, error) {
	p := pool.New().WithMaxGoroutines(d.opts.Workers)

	var runErr error
	exhausted := false
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		ev, err := src.Next()
		if errors.Is(err, io.EOF) {
			exhausted = true
			break
		}
		if err != nil {
			exhausted = true
			runErr = err
			break
		}

		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				runErr = err
				break
			}
		}

		d.track(ev)
		// Go blocks while every worker is busy, which throttles the producer.
		p.Go(func() {
			d.apply(ctx, ev)
		})
	}
	p.Wait()

	// Once the source is done the last record has emitted every event. An
	// interrupted run may have stopped partway through one, so it stays open.
	if exhausted {
		d.mu.Lock()
		d.mark.seal()
		d.mu.Unlock()
	}

	return d.snapshot(), runErr
}

func (d *Dispatcher) track(ev WriteEvent) {
	var id string
	if ew, ok := ev.(EntityWrite); ok {
		id = ew.Ref.ID
	}
	d.mu.Lock()
	d.mark.add(ev.Record(), id)
	d.mu.Unlock()
}

func (d *Dispatcher) apply(ctx context.Context, ev WriteEvent) {
	kind := string(ev.Kind())
	start := time.Now()
	err := ev.Apply(ctx, d.store, d.appID)
	d.m.writeLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		err = newError(KindWrite, describe(ev), err)
		d.m.eventsTotal.WithLabelValues(kind, "error").Inc()
		d.opts.Logger.WithError(err).WithField("kind", kind).Debug("write event failed")
	} else {
		d.m.eventsTotal.WithLabelValues(kind, "ok").Inc()
	}

	d.mu.Lock()
	d.mark.done(ev.Record())
	if err != nil {
		d.failed++
		d.recordError(err.Error())
	} else {
		d.written++
	}
	processed := d.written + d.failed
	checkpoint := false
	if ev.Kind() == EventEntity {
		d.processed++
		if err == nil {
			d.entities++
		}
		checkpoint = d.processed%int64(d.opts.CheckpointInterval) == 0
	}
	heartbeat := processed%int64(d.opts.HeartbeatInterval) == 0
	d.mu.Unlock()

	if checkpoint {
		d.checkpoint(ctx)
	}
	if heartbeat {
		d.heartbeat(ctx)
	}
}

// recordError keeps the most recent message last. Callers hold d.mu.
func (d *Dispatcher) recordError(msg string) {
	d.lastError = msg
	d.newErrorsN++
	for i, existing := range d.newErrors {
		if existing == msg {
			d.newErrors = append(d.newErrors[:i], d.newErrors[i+1:]...)
			break
		}
	}
	d.newErrors = append(d.newErrors, msg)
	if len(d.newErrors) > entities.MaxRecentErrors {
		d.newErrors = d.newErrors[len(d.newErrors)-entities.MaxRecentErrors:]
	}
}

// snapshot returns the current progress and resets the new-error buffer.
func (d *Dispatcher) snapshot() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := Progress{
		CheckpointID:    d.mark.value(),
		EntitiesWritten: d.entities,
		EventsWritten:   d.written,
		EventsFailed:    d.failed,
		LastError:       d.lastError,
		NewErrorCount:   d.newErrorsN,
		NewErrors:       d.newErrors,
	}
	d.newErrors = nil
	d.newErrorsN = 0
	return p
}

// restoreErrors puts back errors from a snapshot that failed to persist.
func (d *Dispatcher) restoreErrors(p Progress) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pending := d.newErrors
	d.newErrors = nil
	d.newErrorsN += p.NewErrorCount
	d.newErrors = append(d.newErrors, p.NewErrors...)
	for _, msg := range pending {
		for i, existing := range d.newErrors {
			if existing == msg {
				d.newErrors = append(d.newErrors[:i], d.newErrors[i+1:]...)
				break
			}
		}
		d.newErrors = append(d.newErrors, msg)
	}
	if len(d.newErrors) > entities.MaxRecentErrors {
		d.newErrors = d.newErrors[len(d.newErrors)-entities.MaxRecentErrors:]
	}
}

func (d *Dispatcher) checkpoint(ctx context.Context) {
	if d.sink == nil {
		return
	}
	d.sinkMu.Lock()
	defer d.sinkMu.Unlock()

	p := d.snapshot()
	if err := d.sink.Checkpoint(ctx, p); err != nil {
		d.restoreErrors(p)
		d.opts.Logger.WithError(err).WithField("checkpoint", p.CheckpointID).Warn("failed to persist checkpoint")
		return
	}
	d.m.checkpoints.Inc()
	d.opts.Logger.WithFields(logrus.Fields{
		"checkpoint": p.CheckpointID,
		"entities":   p.EntitiesWritten,
	}).Debug("checkpoint persisted")
}

func (d *Dispatcher) heartbeat(ctx context.Context) {
	if d.sink == nil {
		return
	}
	d.sinkMu.Lock()
	defer d.sinkMu.Unlock()

	if err := d.sink.Heartbeat(ctx); err != nil {
		d.m.heartbeats.WithLabelValues("error").Inc()
		d.opts.Logger.WithError(err).Warn("heartbeat failed")
		return
	}
	d.m.heartbeats.WithLabelValues("ok").Inc()
}

func describe(ev WriteEvent) string {
	switch e := ev.(type) {
	case EntityWrite:
		return fmt.Sprintf("create %s %s", e.Ref.Type, e.Ref.ID)
	case ConnectionWrite:
		return fmt.Sprintf("connect %s -%s-> %s", e.Owner.ID, e.RelationType, e.Target.ID)
	case DictionaryWrite:
		return fmt.Sprintf("add to dictionary %s of %s", e.Name, e.Owner.ID)
	default:
		return "apply event"
	}
}
