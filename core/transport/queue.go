package transport

import "sync"

const DefaultEventQueueSize = 16

// EventQueue is the buffered, close-safe event stream shared by channel
// implementations. Emitting after Close is a no-op.
type EventQueue struct {
	mu     sync.Mutex
	closed bool
	events chan Event
}

func NewEventQueue(size int) *EventQueue {
	if size <= 0 {
		size = DefaultEventQueueSize
	}
	return &EventQueue{events: make(chan Event, size)}
}

func (q *EventQueue) C() <-chan Event { return q.events }

// Emit queues an event without blocking. It reports false when the event was
// dropped because the queue is closed or full. EventFailed is never dropped
// for a full queue: the oldest queued event makes room for it.
func (q *EventQueue) Emit(event Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	select {
	case q.events <- event:
		return true
	default:
	}

	if event.Kind == EventFailed {
		select {
		case evicted := <-q.events:
			logger.Warn("transport event dropped to make room for failure", "kind", evicted.Kind)
		default:
		}
		// Only emitters send and they hold mu, so the slot stays free.
		q.events <- event
		return true
	}

	logger.Warn("transport event dropped, consumer is not keeping up", "kind", event.Kind)
	return false
}

func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.events)
}
