// Package bus is the in-process event stream of the sync layer. UI
// collaborators subscribe to it instead of polling component state.
package bus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Bus fans events out to prefix subscribers. Delivery never blocks the
// publisher: a subscriber whose buffer is full misses the event, and the
// gap shows up as a jump in Event.Seq.
type Bus struct {
	seq atomic.Uint64

	mu     sync.RWMutex
	subs   map[int]*subscription
	next   int
	onDrop func(kind string)
}

type subscription struct {
	prefix string
	ch     chan Event
}

func New() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// OnDrop registers fn to run, under the bus read lock, for every event a
// full subscriber misses.
func (b *Bus) OnDrop(fn func(kind string)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Publish stamps evt with the next sequence number and delivers it to every
// subscriber whose prefix matches evt.Kind. A nil bus discards the event.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	evt.Seq = b.seq.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			if b.onDrop != nil {
				b.onDrop(evt.Kind)
			}
		}
	}
}

// Emit publishes kind with payload, stamped with the current time.
func (b *Bus) Emit(kind string, payload any) {
	b.Publish(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

// Subscribe returns a channel of events whose kind starts with prefix; ""
// matches everything. The returned func unsubscribes and may be called
// more than once. The channel is never closed.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{prefix: prefix, ch: ch}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
