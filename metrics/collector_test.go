package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector()

	c.IncRestart()
	c.IncRestart()
	c.IncRestartFailure()
	c.IncEventsRead()
	c.IncParseError()
	c.IncParseError()
	c.IncParseError()
	c.IncReconnection()
	c.AddEventsStored(10)
	c.AddEventsDropped(2)
	c.AddEventsNotified(5)
	c.IncControlRequest()
	c.IncControlError()
	c.SetControlClientsActive(3)

	s := c.Snapshot()

	if s.RestartCount != 2 {
		t.Errorf("RestartCount = %d, want 2", s.RestartCount)
	}
	if s.RestartFailures != 1 {
		t.Errorf("RestartFailures = %d, want 1", s.RestartFailures)
	}
	if s.EventsRead != 1 {
		t.Errorf("EventsRead = %d, want 1", s.EventsRead)
	}
	if s.ParseErrors != 3 {
		t.Errorf("ParseErrors = %d, want 3", s.ParseErrors)
	}
	if s.Reconnections != 1 {
		t.Errorf("Reconnections = %d, want 1", s.Reconnections)
	}
	if s.EventsStored != 10 {
		t.Errorf("EventsStored = %d, want 10", s.EventsStored)
	}
	if s.EventsDropped != 2 {
		t.Errorf("EventsDropped = %d, want 2", s.EventsDropped)
	}
	if s.EventsNotified != 5 {
		t.Errorf("EventsNotified = %d, want 5", s.EventsNotified)
	}
	if s.ControlRequests != 1 {
		t.Errorf("ControlRequests = %d, want 1", s.ControlRequests)
	}
	if s.ControlErrors != 1 {
		t.Errorf("ControlErrors = %d, want 1", s.ControlErrors)
	}
	if s.ControlClientsActive != 3 {
		t.Errorf("ControlClientsActive = %d, want 3", s.ControlClientsActive)
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector()
	c.IncRestart()
	c.AddEventsStored(1)

	s1 := c.Snapshot()

	c.IncRestart()
	c.AddEventsStored(2)

	if s1.RestartCount != 1 {
		t.Errorf("s1.RestartCount = %d, want 1 (snapshot should be frozen)", s1.RestartCount)
	}
	if s1.EventsStored != 1 {
		t.Errorf("s1.EventsStored = %d, want 1 (snapshot should be frozen)", s1.EventsStored)
	}

	s2 := c.Snapshot()
	if s2.RestartCount != 2 {
		t.Errorf("s2.RestartCount = %d, want 2", s2.RestartCount)
	}
	if s2.EventsStored != 3 {
		t.Errorf("s2.EventsStored = %d, want 3", s2.EventsStored)
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	c.IncRestart()
	c.IncRestartFailure()
	c.IncEventsRead()
	c.IncParseError()
	c.IncReconnection()
	c.AddEventsStored(1)
	c.AddEventsDropped(1)
	c.AddEventsNotified(1)
	c.IncControlRequest()
	c.IncControlError()
	c.SetControlClientsActive(1)

	s := c.Snapshot()
	if s.RestartCount != 0 {
		t.Errorf("nil collector snapshot RestartCount = %d, want 0", s.RestartCount)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector()
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncRestart()
				c.AddEventsStored(1)
				c.IncControlRequest()
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)

	if s.RestartCount != want {
		t.Errorf("RestartCount = %d, want %d", s.RestartCount, want)
	}
	if s.EventsStored != want {
		t.Errorf("EventsStored = %d, want %d", s.EventsStored, want)
	}
	if s.ControlRequests != want {
		t.Errorf("ControlRequests = %d, want %d", s.ControlRequests, want)
	}
}

func TestCollector_ZeroValueSnapshot(t *testing.T) {
	c := NewCollector()
	s := c.Snapshot()

	if s.RestartCount != 0 || s.RestartFailures != 0 {
		t.Error("fresh collector should have zero watchdog counters")
	}
	if s.EventsRead != 0 || s.ParseErrors != 0 || s.Reconnections != 0 {
		t.Error("fresh collector should have zero ingestion counters")
	}
	if s.EventsStored != 0 || s.EventsDropped != 0 || s.EventsNotified != 0 {
		t.Error("fresh collector should have zero dispatcher counters")
	}
	if s.ControlRequests != 0 || s.ControlErrors != 0 || s.ControlClientsActive != 0 {
		t.Error("fresh collector should have zero control counters")
	}
}
