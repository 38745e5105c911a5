package transport

import (
	"sync"

	"github.com/gammazero/deque"
)

// State is the lifecycle state of a Connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// EventType discriminates the variants carried by Event.
type EventType int

const (
	// EventFrame carries a decoded inbound frame.
	EventFrame EventType = iota
	// EventState reports a state transition.
	EventState
	// EventDiagnostic reports a dropped frame or a transient failure.
	EventDiagnostic
)

// Event is published on the connection's single ordered channel.
type Event struct {
	Type  EventType
	Frame Frame
	State State
	Err   error
}

// emitter decouples publishers from the consumer. Publishers append under
// their own locks and never block; one pump goroutine forwards events in
// append order.
type emitter struct {
	mu     sync.Mutex
	queue  deque.Deque[Event]
	signal chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func newEmitter(buffer int) *emitter {
	e := &emitter{
		signal: make(chan struct{}, 1),
		out:    make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *emitter) push(ev Event) {
	e.mu.Lock()
	e.queue.PushBack(ev)
	e.mu.Unlock()

	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *emitter) run() {
	defer close(e.out)
	for {
		e.mu.Lock()
		for e.queue.Len() == 0 {
			e.mu.Unlock()
			select {
			case <-e.signal:
			case <-e.done:
				return
			}
			e.mu.Lock()
		}
		ev := e.queue.PopFront()
		e.mu.Unlock()

		select {
		case e.out <- ev:
		case <-e.done:
			return
		}
	}
}

func (e *emitter) close() {
	e.once.Do(func() { close(e.done) })
}
