// Package events provides the in-process per-run event bus. Each run
// gets one buffering queue: publishes are non-blocking, subscribers
// receive every event in publish order even when they attach late.
package events

import (
	"sync"
	"time"

	"github.com/groundloop-ai/groundloop/internal/core"
)

// Bus fans out run events to subscribers. Queues are created lazily on
// first publish or first subscribe and retained until Dispose, so a
// subscriber attaching after some events were published still sees
// them. Ordering is strict FIFO within a run; there is no cross-run
// ordering guarantee.
type Bus struct {
	mu       sync.Mutex
	queues   map[core.RunID]*queue
	capacity int
}

// queue buffers one run's events and tracks live subscribers.
type queue struct {
	mu       sync.Mutex
	buffered []core.Event
	subs     []*subscriber
	closed   bool
}

type subscriber struct {
	ch chan core.Event
}

// DefaultSubscriberBuffer is the per-subscriber channel capacity.
const DefaultSubscriberBuffer = 256

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		queues:   make(map[core.RunID]*queue),
		capacity: DefaultSubscriberBuffer,
	}
}

// Publish appends an event to the run's queue and fans it out to live
// subscribers. It never blocks the publisher: a subscriber that cannot
// keep up is dropped and must re-subscribe (the buffer preserves the
// full history for replay).
func (b *Bus) Publish(runID core.RunID, event core.Event) {
	q := b.queue(runID)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.buffered = append(q.buffered, event)
	kept := q.subs[:0]
	for _, sub := range q.subs {
		select {
		case sub.ch <- event:
			kept = append(kept, sub)
		default:
			close(sub.ch)
		}
	}
	q.subs = kept
}

// Subscribe returns a channel yielding the run's full event history
// followed by live events, in publish order. The caller must
// Unsubscribe when done.
func (b *Bus) Subscribe(runID core.RunID) <-chan core.Event {
	q := b.queue(runID)

	q.mu.Lock()
	defer q.mu.Unlock()

	sub := &subscriber{ch: make(chan core.Event, b.capacity+len(q.buffered))}
	for _, event := range q.buffered {
		sub.ch <- event
	}
	if q.closed {
		close(sub.ch)
		return sub.ch
	}
	q.subs = append(q.subs, sub)
	return sub.ch
}

// Unsubscribe detaches a subscriber channel from the run's queue.
func (b *Bus) Unsubscribe(runID core.RunID, ch <-chan core.Event) {
	b.mu.Lock()
	q, ok := b.queues[runID]
	b.mu.Unlock()
	if !ok {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.subs[:0]
	for _, sub := range q.subs {
		if sub.ch == ch {
			close(sub.ch)
			continue
		}
		kept = append(kept, sub)
	}
	q.subs = kept
}

// Dispose closes the run's queue and releases its buffer. The
// orchestrator calls this after the run reaches a terminal status plus
// a grace period; late subscribers then read the persisted event log
// instead.
func (b *Bus) Dispose(runID core.RunID) {
	b.mu.Lock()
	q, ok := b.queues[runID]
	delete(b.queues, runID)
	b.mu.Unlock()
	if !ok {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, sub := range q.subs {
		close(sub.ch)
	}
	q.subs = nil
	q.buffered = nil
}

// DisposeAfter schedules disposal of the run's queue.
func (b *Bus) DisposeAfter(runID core.RunID, grace time.Duration) {
	time.AfterFunc(grace, func() { b.Dispose(runID) })
}

// Buffered returns the number of events currently buffered for a run.
func (b *Bus) Buffered(runID core.RunID) int {
	b.mu.Lock()
	q, ok := b.queues[runID]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffered)
}

func (b *Bus) queue(runID core.RunID) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[runID]
	if !ok {
		q = &queue{}
		b.queues[runID] = q
	}
	return q
}
