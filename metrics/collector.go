// Package metrics provides daemon-lifetime metrics collection.
//
// The Collector accumulates counters for the life of the daemon process
// (not per-run, since the daemon has no notion of discrete runs). It is a
// leaf package with no internal dependencies; each subsystem reports its
// own counters into it at snapshot time rather than this package reaching
// into subsystem internals.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of daemon-lifetime metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Supervisor / watchdog
	RestartCount    int64
	RestartFailures int64

	// Ingestion
	EventsRead    int64
	ParseErrors   int64
	Reconnections int64

	// Dispatcher / storage
	EventsStored   int64
	EventsDropped  int64
	EventsNotified int64

	// Control plane
	ControlRequests     int64
	ControlErrors       int64
	ControlClientsActive int64
}

// Collector accumulates daemon-lifetime metrics.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	restartCount    int64
	restartFailures int64

	eventsRead    int64
	parseErrors   int64
	reconnections int64

	eventsStored   int64
	eventsDropped  int64
	eventsNotified int64

	controlRequests      int64
	controlErrors        int64
	controlClientsActive int64
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// --- Supervisor / watchdog ---

// IncRestart records a detector restart attempt.
func (c *Collector) IncRestart() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.restartCount++
	c.mu.Unlock()
}

// IncRestartFailure records restart-attempt exhaustion.
func (c *Collector) IncRestartFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.restartFailures++
	c.mu.Unlock()
}

// --- Ingestion ---

// IncEventsRead records a line read from the detector event socket.
func (c *Collector) IncEventsRead() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsRead++
	c.mu.Unlock()
}

// IncParseError records a malformed event-stream line.
func (c *Collector) IncParseError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.parseErrors++
	c.mu.Unlock()
}

// IncReconnection records an ingestion client reconnect cycle.
func (c *Collector) IncReconnection() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reconnections++
	c.mu.Unlock()
}

// --- Dispatcher / storage ---

// AddEventsStored adds n to the stored-event counter.
func (c *Collector) AddEventsStored(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsStored += n
	c.mu.Unlock()
}

// AddEventsDropped adds n to the dropped-event counter.
func (c *Collector) AddEventsDropped(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsDropped += n
	c.mu.Unlock()
}

// AddEventsNotified adds n to the subscriber-notified counter.
func (c *Collector) AddEventsNotified(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsNotified += n
	c.mu.Unlock()
}

// --- Control plane ---

// IncControlRequest records a handled control-socket request.
func (c *Collector) IncControlRequest() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.controlRequests++
	c.mu.Unlock()
}

// IncControlError records a control-socket request that produced an error
// response.
func (c *Collector) IncControlError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.controlErrors++
	c.mu.Unlock()
}

// SetControlClientsActive records the current connected-client count.
func (c *Collector) SetControlClientsActive(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.controlClientsActive = n
	c.mu.Unlock()
}

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RestartCount:    c.restartCount,
		RestartFailures: c.restartFailures,

		EventsRead:    c.eventsRead,
		ParseErrors:   c.parseErrors,
		Reconnections: c.reconnections,

		EventsStored:   c.eventsStored,
		EventsDropped:  c.eventsDropped,
		EventsNotified: c.eventsNotified,

		ControlRequests:      c.controlRequests,
		ControlErrors:        c.controlErrors,
		ControlClientsActive: c.controlClientsActive,
	}
}
