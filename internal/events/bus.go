// Package events implements the in-process Event Bus: bounded per-subscriber
// mailboxes, fire-and-forget publish, drop-oldest overflow. Grounded in the
// teacher's bounded-channel broadcast shape (control_plane/ws_hub.go) and its
// Publisher abstraction (control_plane/streaming/interface.go), generalized
// from a single event shape into a tagged sum type per spec.md's Design
// Notes §9 (replacing inheritance-flavored subscriber dispatch).
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Kind tags the variant carried by an Event's Payload.
type Kind string

const (
	KindSubmitted        Kind = "sms.submitted"
	KindSendingStarted    Kind = "sms.sending.started"
	KindSent              Kind = "sms.sent"
	KindFailed            Kind = "sms.failed"
	KindCancelled         Kind = "sms.cancelled"
	KindQueuePromoted     Kind = "queue.promoted"
	KindQueueMaintenance  Kind = "queue.maintenance"
	KindAlert             Kind = "alert"
)

// Header is the shared envelope every Event variant carries, replacing a
// class hierarchy with one required header field set.
type Header struct {
	ID        string
	Kind      Kind
	Timestamp time.Time
	Source    string
}

// Event is the tagged sum: Header plus an opaque, kind-specific payload.
// Subscribers switch on Kind rather than doing a type-hierarchy dispatch.
type Event struct {
	Header
	Payload any
}

// MessageEventPayload is carried by sms.* events.
type MessageEventPayload struct {
	MessageID   string
	State       string
	Priority    string
	AttemptCount int
	Error       string
	ProcessingMS int64
	Retryable   bool
}

// QueuePromotedPayload is carried by queue.promoted.
type QueuePromotedPayload struct {
	ScheduledPromoted int
	RetryPromoted     int
	Expired           int
}

// MaintenancePayload is carried by queue.maintenance.
type MaintenancePayload struct {
	DeletedSent     int
	DeletedFailed   int
	Rescued         int
	Expired         int
	Recommendations []string
}

// AlertPayload is carried by alert.
type AlertPayload struct {
	Metric string
	Level  string // info, warn, critical
	Value  float64
}

const defaultMailboxSize = 256

// Handler is invoked once per matching event, in receive order per subscriber.
type Handler func(Event)

type subscriber struct {
	filter  func(Kind) bool
	mailbox chan Event
	drops   int64
	mu      sync.Mutex
}

// Bus fans out published events to subscribers with bounded mailboxes.
type Bus struct {
	log *slog.Logger

	mu   sync.RWMutex
	subs []*subscriber
}

func NewBus(log *slog.Logger) *Bus {
	return &Bus{log: log}
}

// Subscribe registers handler to be invoked for events matching filter (nil
// filter matches every Kind). Returns an Unsubscribe func.
func (b *Bus) Subscribe(filter func(Kind) bool, handler Handler) (unsubscribe func()) {
	if filter == nil {
		filter = func(Kind) bool { return true }
	}
	sub := &subscriber{filter: filter, mailbox: make(chan Event, defaultMailboxSize)}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-sub.mailbox:
				if !ok {
					return
				}
				b.dispatch(sub, handler, ev)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
	}
}

func (b *Bus) dispatch(sub *subscriber, handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "kind", ev.Kind, "recover", r)
		}
	}()
	handler(ev)
}

// Publish is fire-and-forget. Each matching subscriber's mailbox receives the
// event in publish order; a full mailbox drops its oldest entry.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.filter(ev.Kind) {
			continue
		}
		b.enqueue(sub, ev)
	}
}

// DroppedTotal returns the number of events dropped across all subscribers'
// mailboxes due to overflow, per spec.md §4.7's drop-oldest policy. Callers
// poll this to expose it as a metric; the bus itself has no metrics
// dependency to avoid an import cycle (metrics imports events).
func (b *Bus) DroppedTotal() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var total int64
	for _, sub := range b.subs {
		sub.mu.Lock()
		total += sub.drops
		sub.mu.Unlock()
	}
	return total
}

func (b *Bus) enqueue(sub *subscriber, ev Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	select {
	case sub.mailbox <- ev:
		return
	default:
	}

	// Mailbox full: drop the oldest entry, then enqueue.
	select {
	case <-sub.mailbox:
		sub.drops++
	default:
	}
	select {
	case sub.mailbox <- ev:
	default:
		sub.drops++
	}
}
