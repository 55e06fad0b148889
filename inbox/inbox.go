// Package inbox queues network events until the tick loop drains them, so that every event is processed on the same
// goroutine as entity mutation and broadcast.
package inbox

import (
	"sync"

	"pkg.world.dev/world-engine/replicate/transport"
	"pkg.world.dev/world-engine/replicate/types"
)

type EventKind int

const (
	Connected EventKind = iota
	Disconnected
	Received
	ConnectionLost
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Received:
		return "received"
	case ConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind    EventKind
	Peer    types.PeerID
	Payload []byte
}

type Queue struct {
	events []Event
	mux    *sync.Mutex
}

var _ transport.Sink = (*Queue)(nil)

func New() *Queue {
	return &Queue{
		mux: &sync.Mutex{},
	}
}

func (q *Queue) push(e Event) {
	q.mux.Lock()
	defer q.mux.Unlock()
	q.events = append(q.events, e)
}

func (q *Queue) PeerConnected(peer types.PeerID) {
	q.push(Event{Kind: Connected, Peer: peer})
}

func (q *Queue) PeerDisconnected(peer types.PeerID) {
	q.push(Event{Kind: Disconnected, Peer: peer})
}

func (q *Queue) Receive(from types.PeerID, payload []byte) {
	q.push(Event{Kind: Received, Peer: from, Payload: payload})
}

func (q *Queue) ConnectionLost() {
	q.push(Event{Kind: ConnectionLost})
}

func (q *Queue) Len() int {
	q.mux.Lock()
	defer q.mux.Unlock()
	return len(q.events)
}

// Drain returns the queued events in arrival order and resets the queue.
func (q *Queue) Drain() []Event {
	q.mux.Lock()
	defer q.mux.Unlock()
	events := q.events
	q.events = nil
	return events
}
