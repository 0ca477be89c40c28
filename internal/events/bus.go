// Package events is the in-process publish/subscribe channel between the
// robot engine, the game layer and the behavior system.
//
// Publish may be called from any goroutine; events are queued and only
// delivered when the tick loop calls Dispatch, so subscribers always run on
// the tick goroutine.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nvandessel/cozmo-brain/internal/clock"
)

// Event is one message on the bus.
type Event struct {
	ID      string    `json:"id"`
	Tag     Tag       `json:"tag"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// Handler receives a dispatched event.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus queues published events and fans them out on Dispatch.
type Bus struct {
	clock clock.Clock

	mu     sync.Mutex
	queue  []Event
	subs   map[Tag][]subscription
	nextID int
}

// NewBus creates a bus stamping events with c. A nil clock uses the system clock.
func NewBus(c clock.Clock) *Bus {
	if c == nil {
		c = clock.System()
	}
	return &Bus{
		clock: c,
		subs:  make(map[Tag][]subscription),
	}
}

// Publish queues an event for the next Dispatch and returns it.
func (b *Bus) Publish(tag Tag, payload any) Event {
	ev := Event{
		ID:      uuid.NewString(),
		Tag:     tag,
		Time:    b.clock.Now(),
		Payload: payload,
	}
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
	return ev
}

// Subscribe registers fn for tag. The returned func removes the subscription
// and is safe to call more than once.
func (b *Bus) Subscribe(tag Tag, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[tag] = append(b.subs[tag], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[tag]
			for i, s := range list {
				if s.id == id {
					b.subs[tag] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Dispatch delivers every event queued before the call, in publish order.
// Events published by handlers are left for the next Dispatch.
// Returns the number of events delivered.
func (b *Bus) Dispatch() int {
	b.mu.Lock()
	batch := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, ev := range batch {
		b.mu.Lock()
		handlers := make([]Handler, 0, len(b.subs[ev.Tag]))
		for _, s := range b.subs[ev.Tag] {
			handlers = append(handlers, s.fn)
		}
		b.mu.Unlock()

		for _, fn := range handlers {
			fn(ev)
		}
	}
	return len(batch)
}

// Pending returns the number of queued events.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Now returns the bus clock's current time.
func (b *Bus) Now() time.Time {
	return b.clock.Now()
}
