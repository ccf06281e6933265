// Package adapter defines the out-of-process subscriber boundary: adapters
// that publish a summarized notification for a dispatched security event to
// a downstream system (HTTP webhook, Redis channel, ...).
//
// The dispatcher owns adapter lifecycle; callers wrap an Adapter in
// DispatchSubscriber to register it as a dispatcher.Subscriber.
package adapter

import (
	"context"
	"time"

	"github.com/chenlehua/vnidsd/types"
)

// EventNotification is the payload published when a security event is
// dispatched. Shape mirrors types.SecurityEvent, flattened and
// string-stamped for easy consumption by non-Go subscribers.
type EventNotification struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"` // RFC3339Nano
	EventType string `json:"event_type"`
	Severity  string `json:"severity"`
	SrcAddr   string `json:"src_addr"`
	SrcPort   int    `json:"src_port"`
	DstAddr   string `json:"dst_addr"`
	DstPort   int    `json:"dst_port"`
	Protocol  string `json:"protocol"`
	RuleSID   int64  `json:"rule_sid"`
	RuleGID   int    `json:"rule_gid"`
	Message   string `json:"message"`
}

// NotificationFromEvent builds the wire notification for a dispatched event.
func NotificationFromEvent(event types.SecurityEvent) *EventNotification {
	return &EventNotification{
		ID:        event.ID,
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		EventType: string(event.Kind),
		Severity:  event.Severity.String(),
		SrcAddr:   event.SrcAddr,
		SrcPort:   event.SrcPort,
		DstAddr:   event.DstAddr,
		DstPort:   event.DstPort,
		Protocol:  string(event.Protocol),
		RuleSID:   event.RuleSID,
		RuleGID:   event.RuleGID,
		Message:   event.Message,
	}
}

// Adapter publishes a security-event notification to a downstream system.
// Implementations must be safe for single-use per event; the dispatcher
// invokes Publish synchronously from its single consumer goroutine.
type Adapter interface {
	// Publish sends a notification to the downstream system. Must respect
	// context cancellation and deadlines.
	Publish(ctx context.Context, event *EventNotification) error

	// Close releases adapter resources.
	Close() error
}

// PublishTimeout bounds how long a single dispatcher tick waits on an
// adapter's Publish call, since the dispatcher loop must not block
// indefinitely on a slow downstream system.
const PublishTimeout = 15 * time.Second

// DispatchSubscriber wraps an Adapter as a dispatcher.Subscriber, satisfying
// spec.md §9's "first-class subscriber handle" redesign note: adapters
// become ordinary registered subscribers rather than a separate mechanism.
type DispatchSubscriber struct {
	Adapter     Adapter
	KindFilter  types.EventKind
	MinSeverity types.Severity
}

// Notify publishes the event notification, bounding the call with
// PublishTimeout so a slow webhook/redis endpoint cannot stall the
// dispatcher's single consumer loop indefinitely.
func (s *DispatchSubscriber) Notify(event types.SecurityEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
	defer cancel()
	return s.Adapter.Publish(ctx, NotificationFromEvent(event))
}

// Filter returns the kind/severity filter this subscriber was configured
// with.
func (s *DispatchSubscriber) Filter() (types.EventKind, types.Severity) {
	return s.KindFilter, s.MinSeverity
}

// DefaultBackoffBase and DefaultBackoffCap are the retry-backoff defaults
// shared by every out-of-process adapter (webhook, Redis). The doubling,
// capped shape mirrors supervisor.go's restart backoff so the daemon has
// one retry-backoff idiom instead of each adapter inventing its own; the
// base/cap values are an order of magnitude tighter than the supervisor's,
// since a publish retry runs inside a single dispatcher tick bounded by
// PublishTimeout rather than across detector restarts.
const (
	DefaultBackoffBase = 200 * time.Millisecond
	DefaultBackoffCap  = 2 * time.Second
)

// BackoffSchedule computes doubling, capped retry delays for adapter
// publish loops.
type BackoffSchedule struct {
	Base time.Duration
	Cap  time.Duration
}

// Next returns the delay before retry attempt n (n >= 1).
func (b BackoffSchedule) Next(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoffBase
	}
	ceiling := b.Cap
	if ceiling <= 0 {
		ceiling = DefaultBackoffCap
	}
	if attempt > 62 {
		return ceiling
	}
	d := base << uint(attempt-1)
	if d <= 0 || d > ceiling {
		return ceiling
	}
	return d
}

// FitsBeforeDeadline reports whether sleeping d still leaves ctx's deadline
// (if any) enough room for the retry attempt that follows. A dispatcher
// Notify call is bounded by PublishTimeout, and that bound covers every
// subscriber queued behind this one (spec.md §4.4's synchronous,
// registration-order invariant), so a retry loop must give up rather than
// schedule a sleep that would blow past it.
func FitsBeforeDeadline(ctx context.Context, d time.Duration) bool {
	dl, ok := ctx.Deadline()
	if !ok {
		return true
	}
	return time.Until(dl) > d
}
