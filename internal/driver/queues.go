package driver

import (
	"sync"

	"github.com/nerrad567/inputemu-core/internal/host"
)

// EventQueues holds injected events per server driver host sink. Events are
// delivered the next time the runtime polls that sink.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type EventQueues struct {
	mu     sync.Mutex
	queues map[host.Ref][]host.Event
}

// NewEventQueues creates empty queues.
func NewEventQueues() *EventQueues {
	return &EventQueues{queues: make(map[host.Ref][]host.Event)}
}

// Push appends ev to the queue of sink.
func (q *EventQueues) Push(sink host.Ref, ev host.Event) {
	q.mu.Lock()
	q.queues[sink] = append(q.queues[sink], ev)
	q.mu.Unlock()
}

// Pop removes the oldest event for sink into ev. It reports false when the
// queue is empty.
func (q *EventQueues) Pop(sink host.Ref, ev *host.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.queues[sink]
	if len(pending) == 0 {
		return false
	}
	*ev = pending[0]
	pending[0] = host.Event{}
	if len(pending) == 1 {
		delete(q.queues, sink)
	} else {
		q.queues[sink] = pending[1:]
	}
	return true
}

// Len returns the number of events waiting for sink.
func (q *EventQueues) Len(sink host.Ref) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[sink])
}

// Clear drops every queued event.
func (q *EventQueues) Clear() {
	q.mu.Lock()
	q.queues = make(map[host.Ref][]host.Event)
	q.mu.Unlock()
}
