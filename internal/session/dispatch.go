package session

import (
	"sync"

	"github.com/gammazero/deque"
)

// dispatcher runs callbacks one at a time, in the order they were posted,
// on its own goroutine. Hook handlers and history callbacks run here so
// they can call back into the session while the event loop keeps going.
// Posting never blocks.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  deque.Deque[func()]
	closed bool
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// post queues fn. It returns false once the dispatcher is closed.
func (d *dispatcher) post(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.queue.PushBack(fn)
	d.cond.Signal()
	return true
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for d.queue.Len() == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.queue.Len() == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.queue.PopFront()
		d.mu.Unlock()
		fn()
	}
}

// close stops accepting callbacks and waits until the queued ones have run.
// It must not be called from a dispatched callback.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}
