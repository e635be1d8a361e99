// internal/watch/watch.go
package watch

import (
	"sync"
)

// Event is a typed change notice published by the engine. Subscribers use
// a type switch on the concrete event structs below.
type Event interface {
	EventType() string
}

// SubnetCreated is published after a subnet mutation commits
type SubnetCreated struct {
	Domain string
	CIDR   string
}

// SubnetDeleted is published after a subnet deletion commits
type SubnetDeleted struct {
	Domain string
	CIDR   string
}

// AddressAllocated is published after a host allocation commits
type AddressAllocated struct {
	Domain string
	IP     string
	FQDN   string
}

// AddressReleased is published after a release commits
type AddressReleased struct {
	Domain string
	IP     string
}

// ZoneCreated is published when a zone is declared authoritative
type ZoneCreated struct {
	Zone string
}

// ZoneDeleted is published when a zone and its records are removed
type ZoneDeleted struct {
	Zone string
}

// RecordsChanged is published when a zone rebuild produced a new record
// set and advanced the serial
type RecordsChanged struct {
	Zone   string
	Serial uint32
}

func (SubnetCreated) EventType() string    { return "subnet_created" }
func (SubnetDeleted) EventType() string    { return "subnet_deleted" }
func (AddressAllocated) EventType() string { return "address_allocated" }
func (AddressReleased) EventType() string  { return "address_released" }
func (ZoneCreated) EventType() string      { return "zone_created" }
func (ZoneDeleted) EventType() string      { return "zone_deleted" }
func (RecordsChanged) EventType() string   { return "records_changed" }

// Queue fans events out to subscribers in publish order. Subscriber
// channels are buffered; a subscriber that falls further behind than its
// buffer loses the oldest events rather than blocking publishers.
type Queue struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	bufSize int
	closed  bool
}

// NewQueue creates an event queue with the given per-subscriber buffer
func NewQueue(bufSize int) *Queue {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Queue{
		subs:    make(map[int]chan Event),
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (q *Queue) Subscribe() (<-chan Event, func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextID
	q.nextID++

	ch := make(chan Event, q.bufSize)
	if q.closed {
		close(ch)
		return ch, func() {}
	}
	q.subs[id] = ch

	cancel := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if sub, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber
func (q *Queue) Publish(event Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	for _, ch := range q.subs {
		select {
		case ch <- event:
		default:
			// Drop the oldest buffered event to make room
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
	}
}

// Close shuts the queue down and closes all subscriber channels
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	for id, ch := range q.subs {
		delete(q.subs, id)
		close(ch)
	}
}
