// Package dispatcher implements the single-consumer event-dispatch loop
// that pops events from the queue, persists them, and fans them out to
// filter-matched subscribers, per spec.md §4.4.
//
// Grounded in the teacher's policy.StreamingPolicy for the
// counters-under-mutex discipline and atomic per-trigger counters, adapted
// from buffer-then-batch-flush to pop-then-per-event-dispatch since this
// dispatcher pops individual events from an already-buffering MPSC queue
// rather than accumulating its own buffer. Satisfies spec.md §9's
// "first-class subscriber handle" redesign note: AddSubscriber returns a
// handle with Unsubscribe(), replacing the source's raw-callback-plus-datum
// registration and its hard 16-subscriber cap.
package dispatcher

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chenlehua/vnidsd/log"
	"github.com/chenlehua/vnidsd/queue"
	"github.com/chenlehua/vnidsd/types"
)

// BatchSize and PollInterval are the per-tick constants from spec.md §4.4.
const (
	BatchSize    = 100
	PollInterval = 10 * time.Millisecond
)

// Storage is the persistence boundary the dispatcher requires, per spec.md
// §4.8. The core does not prescribe its implementation.
type Storage interface {
	Insert(event types.SecurityEvent) error
}

// Subscriber receives dispatched events matching its filter.
type Subscriber interface {
	// Notify is called synchronously from the dispatcher loop for each
	// matching event. Implementations must not block indefinitely.
	Notify(event types.SecurityEvent) error
	// Filter returns the kind filter (zero value means "any kind") and the
	// minimum severity grade (numerically inverse: critical=1 is most
	// severe) this subscriber wants to receive.
	Filter() (kind types.EventKind, minSeverity types.Severity)
}

// SubscriberHandle is returned by AddSubscriber; Unsubscribe removes the
// subscriber from the dispatch table. Safe to call more than once.
type SubscriberHandle struct {
	d  *Dispatcher
	id uint64
}

// Unsubscribe removes the subscriber from the dispatcher's table.
func (h *SubscriberHandle) Unsubscribe() {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	delete(h.d.subscribers, h.id)
	for i, id := range h.d.order {
		if id == h.id {
			h.d.order = append(h.d.order[:i], h.d.order[i+1:]...)
			break
		}
	}
}

// Stats is a snapshot of dispatcher activity counters.
type Stats struct {
	Stored   uint64
	Dropped  uint64
	Notified uint64
}

// Dispatcher is the single long-running consumer of the event queue.
type Dispatcher struct {
	queue   *queue.EventQueue
	storage Storage
	logger  *log.Logger

	mu          sync.Mutex
	subscribers map[uint64]Subscriber
	// order records registration order since Go map iteration is randomized
	// and spec.md §4.4 requires subscribers be notified in the order they
	// registered.
	order  []uint64
	nextID uint64

	stored   atomic.Uint64
	dropped  atomic.Uint64
	notified atomic.Uint64

	running atomic.Bool
	stopped chan struct{}
}

// New creates a Dispatcher over q, persisting to storage.
func New(q *queue.EventQueue, storage Storage, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		queue:       q,
		storage:     storage,
		logger:      logger,
		subscribers: make(map[uint64]Subscriber),
		stopped:     make(chan struct{}),
	}
}

// AddSubscriber registers a subscriber and returns a handle that can later
// unsubscribe it. There is no hard cap on the number of subscribers (spec.md
// §9's redesign note: the cap becomes dynamic).
func (d *Dispatcher) AddSubscriber(sub Subscriber) *SubscriberHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.subscribers[id] = sub
	d.order = append(d.order, id)
	return &SubscriberHandle{d: d, id: id}
}

// Start launches the dispatcher's consumer loop in a goroutine.
func (d *Dispatcher) Start() {
	d.running.Store(true)
	go d.loop()
}

// Stop requests the loop to exit, drains any residual queue contents (per
// spec.md §4.4's "draining on shutdown" requirement), and blocks until the
// loop goroutine has returned.
func (d *Dispatcher) Stop() {
	d.running.Store(false)
	<-d.stopped
}

func (d *Dispatcher) loop() {
	defer close(d.stopped)
	for d.running.Load() {
		n := d.tick()
		if n == 0 {
			time.Sleep(PollInterval)
		}
	}
	// Final drain: process any residual queue contents to avoid event loss
	// during graceful shutdown, per spec.md §4.4.
	for {
		if d.tick() == 0 {
			return
		}
	}
}

// tick pops up to BatchSize events and processes each; returns the number
// processed.
func (d *Dispatcher) tick() int {
	n := 0
	for ; n < BatchSize; n++ {
		event, ok := d.queue.Pop()
		if !ok {
			break
		}
		d.process(event)
	}
	return n
}

func (d *Dispatcher) process(event types.SecurityEvent) {
	if d.logger != nil {
		d.logger.Info("dispatching event", map[string]any{
			"id":       event.ID,
			"kind":     string(event.Kind),
			"severity": event.Severity.String(),
		})
	}

	if err := d.storage.Insert(event); err != nil {
		d.dropped.Add(1)
		if d.logger != nil {
			d.logger.Error("storage insert failed", map[string]any{"error": err.Error(), "id": event.ID})
		}
	} else {
		d.stored.Add(1)
	}

	d.mu.Lock()
	subs := make([]Subscriber, 0, len(d.order))
	for _, id := range d.order {
		subs = append(subs, d.subscribers[id])
	}
	d.mu.Unlock()

	for _, sub := range subs {
		kindFilter, minSeverity := sub.Filter()
		if kindFilter != "" && kindFilter != event.Kind {
			continue
		}
		if !event.Severity.AtLeastAsSevereAs(minSeverity) {
			continue
		}
		if err := sub.Notify(event); err != nil && d.logger != nil {
			d.logger.Warn("subscriber notify failed", map[string]any{"error": err.Error()})
		} else {
			d.notified.Add(1)
		}
	}
}

// Stats returns a snapshot of the dispatcher's activity counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Stored:   d.stored.Load(),
		Dropped:  d.dropped.Load(),
		Notified: d.notified.Load(),
	}
}
