package manager

import (
	"sync"

	"github.com/srg/armctl/internal/central"
)

// eventQueue holds lifecycle events until the loop dispatches them. push
// never blocks, so the central may report events from inside a request the
// loop is running.
type eventQueue struct {
	mu     sync.Mutex
	items  []central.Event
	notify chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev central.Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// take removes and returns every queued event in arrival order.
func (q *eventQueue) take() []central.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *eventQueue) ready() <-chan struct{} {
	return q.notify
}
