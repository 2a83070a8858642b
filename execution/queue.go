package execution

import (
	"sync"

	"github.com/iyulab/ironbees/events"
)

// eventQueue is the unbounded, order-preserving buffer between the driver's
// drain loop and the caller iterating an execution's event stream. Pushing
// never blocks, so a slow consumer cannot stall the runtime; popping blocks
// until an event arrives or the queue is closed and drained.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []events.ExecutionEvent
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends an event. Events pushed after close are dropped.
func (q *eventQueue) push(event events.ExecutionEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.items = append(q.items, event)
	q.cond.Signal()
}

// close marks the queue finished. Already-buffered events stay readable.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// pop removes the oldest event, blocking while the queue is open and empty.
// The second return is false once the queue is closed and drained.
func (q *eventQueue) pop() (events.ExecutionEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return events.ExecutionEvent{}, false
	}

	event := q.items[0]
	q.items = q.items[1:]
	return event, true
}

// drainTo pumps the queue into out in push order, closing out once the queue
// is closed and empty.
func (q *eventQueue) drainTo(out chan<- events.ExecutionEvent) {
	for {
		event, ok := q.pop()
		if !ok {
			close(out)
			return
		}
		out <- event
	}
}
