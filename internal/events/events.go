// Package events is an in-process typed publish/subscribe bus. Publishing
// never blocks; ordering is preserved per subscriber.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Kind identifies an event type.
type Kind string

// Event kinds published by the pipeline.
const (
	ProcessStarted        Kind = "PROCESS_STARTED"
	IntentParsed          Kind = "INTENT_PARSED"
	PlanBuilt             Kind = "PLAN_BUILT"
	SearchExecuted        Kind = "SEARCH_EXECUTED"
	ArtifactGenerated     Kind = "ARTIFACT_GENERATED"
	OptimizationSuggested Kind = "OPTIMIZATION_SUGGESTED"
	ProcessCompleted      Kind = "PROCESS_COMPLETED"
	ErrorOccurred         Kind = "ERROR_OCCURRED"
	CancellationRequested Kind = "CANCELLATION_REQUESTED"
	ProcessCancelled      Kind = "PROCESS_CANCELLED"
	ProcessCheckpoint     Kind = "PROCESS_CHECKPOINT"
)

// Event is one published occurrence.
type Event struct {
	Kind      Kind           `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	TaskID    string         `json:"task_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Handler consumes events.
type Handler func(Event)

// subscriber is one registered handler with its delivery queue. Each
// subscriber drains its own queue in a single goroutine, which preserves
// per-subscriber ordering while keeping publishers unblocked.
type subscriber struct {
	kinds map[Kind]bool // nil means all kinds
	queue chan Event
	done  chan struct{}
}

// Bus dispatches events to subscribers. Delivery is best-effort: a
// subscriber whose queue is full drops the event with a warning rather
// than stalling the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
}

// queueSize bounds each subscriber's backlog.
const queueSize = 256

// NewBus creates a bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for the given kinds (all kinds when none
// are named). The returned function unsubscribes.
func (b *Bus) Subscribe(handler Handler, kinds ...Kind) func() {
	sub := &subscriber{
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	go func() {
		for ev := range sub.queue {
			handler(ev)
		}
		close(sub.done)
	}()

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() { b.unsubscribe(sub) }
}

func (b *Bus) unsubscribe(target *subscriber) {
	b.mu.Lock()
	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.queue)
			break
		}
	}
	b.mu.Unlock()
	<-target.done
}

// Publish delivers the event to every matching subscriber without
// blocking.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if sub.kinds != nil && !sub.kinds[ev.Kind] {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			slog.Warn("event dropped, subscriber queue full",
				slog.String("kind", string(ev.Kind)))
		}
	}
}

// Emit is shorthand for publishing a kind with a payload.
func (b *Bus) Emit(kind Kind, taskID string, payload map[string]any) {
	b.Publish(Event{Kind: kind, TaskID: taskID, Payload: payload})
}

// Close stops delivery and waits for subscriber queues to drain.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	for _, sub := range subs {
		close(sub.queue)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}
