package kiosk

import (
	"sync"

	"github.com/tapin/kioskd/internal/reader"
)

// EventType distinguishes event kinds on the kiosk loop.
type EventType int

const (
	// EventScan carries one trimmed token from the reader.
	EventScan EventType = iota + 1
	// EventReaderStatus carries a reader connection status change.
	EventReaderStatus
	// EventPullTick requests a directory pull (periodic timer).
	EventPullTick
	// EventPushTick requests an attendance push (periodic timer).
	EventPushTick
	// EventRemoteChange is a payload-agnostic remote change notification.
	EventRemoteChange
	// EventOnline signals reachability recovered after an offline spell.
	EventOnline
	// EventResync is a manual force-resync request.
	EventResync
)

// Event is one unit of work on the kiosk loop.
type Event struct {
	Type   EventType
	Token  string
	Status reader.Status
}

// eventQueue is a thread-safe FIFO queue for kiosk events.
//
// All scan tokens, timer ticks, and change notifications for one kiosk
// funnel through here and are drained by a single loop goroutine; that
// single-writer discipline is what keeps cache access race-free without
// per-operation locking.
//
// The queue uses a signal channel for context-aware waiting in the Run
// loop (prevents goroutine hangs on context cancellation).
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Signal availability (non-blocking - buffer of 1 coalesces signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (Event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the backing array doesn't retain the event's
	// error pointer under steady load.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
