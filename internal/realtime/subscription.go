package realtime

import "sync"

// Subscription is the handle returned when a listener is attached.
// Close detaches the listener and may be called more than once.
type Subscription struct {
	once   sync.Once
	detach func()
}

func newSubscription(detach func()) *Subscription {
	return &Subscription{detach: detach}
}

// Close detaches the listener.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(s.detach)
}

// Group collects subscriptions so they can be closed together.
type Group struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add appends subs to the group.
func (g *Group) Add(subs ...*Subscription) {
	g.mu.Lock()
	g.subs = append(g.subs, subs...)
	g.mu.Unlock()
}

// Close closes every subscription in the group and empties it.
func (g *Group) Close() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
}
