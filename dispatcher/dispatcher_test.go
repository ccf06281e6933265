package dispatcher

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chenlehua/vnidsd/queue"
	"github.com/chenlehua/vnidsd/types"
)

type recordingStorage struct {
	mu     sync.Mutex
	events []types.SecurityEvent
	fail   bool
}

func (s *recordingStorage) Insert(e types.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("storage unavailable")
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type recordingSubscriber struct {
	mu          sync.Mutex
	kind        types.EventKind
	minSeverity types.Severity
	received    []types.SecurityEvent
}

func (s *recordingSubscriber) Notify(e types.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, e)
	return nil
}

func (s *recordingSubscriber) Filter() (types.EventKind, types.Severity) {
	return s.kind, s.minSeverity
}

func (s *recordingSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

func TestDispatcherStoresAndNotifiesMatchingSubscriber(t *testing.T) {
	q := queue.New(64)
	storage := &recordingStorage{}
	d := New(q, storage, nil)

	matching := &recordingSubscriber{minSeverity: types.SeverityLow}
	d.AddSubscriber(matching)

	d.Start()
	defer d.Stop()

	q.Push(types.SecurityEvent{ID: "1", Kind: types.EventKindAlert, Severity: types.SeverityHigh})

	waitFor(t, time.Second, func() bool { return storage.count() == 1 })
	waitFor(t, time.Second, func() bool { return matching.count() == 1 })
}

func TestDispatcherFilterExcludesWrongKind(t *testing.T) {
	q := queue.New(64)
	storage := &recordingStorage{}
	d := New(q, storage, nil)

	flowOnly := &recordingSubscriber{kind: types.EventKindFlow, minSeverity: types.SeverityLow}
	d.AddSubscriber(flowOnly)

	d.Start()
	defer d.Stop()

	q.Push(types.SecurityEvent{ID: "1", Kind: types.EventKindAlert, Severity: types.SeverityCritical})

	waitFor(t, time.Second, func() bool { return storage.count() == 1 })
	time.Sleep(20 * time.Millisecond)
	if flowOnly.count() != 0 {
		t.Fatalf("expected 0 notifications for mismatched kind filter, got %d", flowOnly.count())
	}
}

func TestDispatcherFilterExcludesBelowMinSeverity(t *testing.T) {
	q := queue.New(64)
	storage := &recordingStorage{}
	d := New(q, storage, nil)

	criticalOnly := &recordingSubscriber{minSeverity: types.SeverityCritical}
	d.AddSubscriber(criticalOnly)

	d.Start()
	defer d.Stop()

	q.Push(types.SecurityEvent{ID: "1", Kind: types.EventKindAlert, Severity: types.SeverityLow})

	waitFor(t, time.Second, func() bool { return storage.count() == 1 })
	time.Sleep(20 * time.Millisecond)
	if criticalOnly.count() != 0 {
		t.Fatalf("expected 0 notifications below min severity, got %d", criticalOnly.count())
	}
}

func TestDispatcherUnsubscribeStopsNotifications(t *testing.T) {
	q := queue.New(64)
	storage := &recordingStorage{}
	d := New(q, storage, nil)

	sub := &recordingSubscriber{minSeverity: types.SeverityLow}
	handle := d.AddSubscriber(sub)

	d.Start()
	defer d.Stop()

	q.Push(types.SecurityEvent{ID: "1", Kind: types.EventKindAlert, Severity: types.SeverityHigh})
	waitFor(t, time.Second, func() bool { return sub.count() == 1 })

	handle.Unsubscribe()
	q.Push(types.SecurityEvent{ID: "2", Kind: types.EventKindAlert, Severity: types.SeverityHigh})
	waitFor(t, time.Second, func() bool { return storage.count() == 2 })
	time.Sleep(20 * time.Millisecond)
	if sub.count() != 1 {
		t.Fatalf("expected no further notifications after unsubscribe, got %d", sub.count())
	}
}

func TestDispatcherStorageFailureIncrementsDroppedNotStored(t *testing.T) {
	q := queue.New(64)
	storage := &recordingStorage{fail: true}
	d := New(q, storage, nil)

	d.Start()
	q.Push(types.SecurityEvent{ID: "1", Kind: types.EventKindAlert, Severity: types.SeverityHigh})
	waitFor(t, time.Second, func() bool { return d.Stats().Dropped == 1 })
	d.Stop()

	if d.Stats().Stored != 0 {
		t.Fatalf("expected 0 stored on failure, got %d", d.Stats().Stored)
	}
}

type orderRecordingSubscriber struct {
	name string
	log  *[]string
	mu   *sync.Mutex
}

func (s *orderRecordingSubscriber) Notify(e types.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.log = append(*s.log, s.name)
	return nil
}

func (s *orderRecordingSubscriber) Filter() (types.EventKind, types.Severity) {
	return "", types.SeverityLow
}

func TestDispatcherNotifiesSubscribersInRegistrationOrder(t *testing.T) {
	q := queue.New(64)
	storage := &recordingStorage{}
	d := New(q, storage, nil)

	var mu sync.Mutex
	var log []string
	names := []string{"a", "b", "c", "d", "e"}
	for _, name := range names {
		d.AddSubscriber(&orderRecordingSubscriber{name: name, log: &log, mu: &mu})
	}

	d.Start()
	defer d.Stop()

	q.Push(types.SecurityEvent{ID: "1", Kind: types.EventKindAlert, Severity: types.SeverityHigh})

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(log) == len(names)
	})

	mu.Lock()
	defer mu.Unlock()
	for i, name := range names {
		if log[i] != name {
			t.Fatalf("expected notification order %v, got %v", names, log)
		}
	}
}

func TestDispatcherDrainsResidualEventsOnStop(t *testing.T) {
	q := queue.New(256)
	storage := &recordingStorage{}
	d := New(q, storage, nil)

	for i := 0; i < 150; i++ {
		q.Push(types.SecurityEvent{ID: "e", Kind: types.EventKindAlert, Severity: types.SeverityHigh})
	}

	d.Start()
	d.Stop()

	if storage.count() != 150 {
		t.Fatalf("expected all 150 residual events drained and stored, got %d", storage.count())
	}
}
