package engine

import (
	"context"
	"iter"
	"sync"
	"time"
)

// EventKind identifies the type of progress event.
type EventKind string

const (
	EventRunStarted    EventKind = "run_started"
	EventSent          EventKind = "sent"
	EventSendFailed    EventKind = "send_failed"
	EventStatusChanged EventKind = "status_changed"
	EventRunFinished   EventKind = "run_finished"
)

// ProgressEvent is an immutable notification of run activity. Counts and
// status are those of the run right after the change.
type ProgressEvent struct {
	Kind        EventKind `json:"kind"`
	RunID       string    `json:"run_id"`
	SentCount   int       `json:"sent_count"`
	FailedCount int       `json:"failed_count"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Subscription receives events from an EventBus.
type Subscription struct {
	C  <-chan ProgressEvent
	ch chan ProgressEvent
}

// EventBus fans out events to all active subscribers. It is safe for
// concurrent use.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewEventBus creates an EventBus ready for use.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe creates a new subscription with the given channel buffer size.
// The caller should read from sub.C and eventually call Unsubscribe.
func (b *EventBus) Subscribe(bufSize int) *Subscription {
	ch := make(chan ProgressEvent, bufSize)
	sub := &Subscription{C: ch, ch: ch}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish sends an event to all subscribers. If a subscriber's buffer is full
// the event is dropped for that subscriber so a slow consumer never stalls
// the send loop.
func (b *EventBus) Publish(e ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// Observe returns a lazy sequence of events. Each range subscribes afresh
// and unsubscribes when the consumer stops or ctx is done.
func (b *EventBus) Observe(ctx context.Context, bufSize int) iter.Seq[ProgressEvent] {
	return func(yield func(ProgressEvent) bool) {
		sub := b.Subscribe(bufSize)
		defer b.Unsubscribe(sub)

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-sub.C:
				if !ok || !yield(e) {
					return
				}
			}
		}
	}
}
