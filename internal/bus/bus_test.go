package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Publish(Event{Kind: ConnStateKind("chat"), Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "conn.chat.state_changed" {
			t.Errorf("got kind %q, want conn.chat.state_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("unread.", 10)
	defer unsub()

	b.Emit(KindPresenceChanged, nil)
	b.Emit(KindUnreadChanged, 3)

	select {
	case evt := <-ch:
		if evt.Kind != KindUnreadChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindUnreadChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Emit should stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure presence event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	unsub()
	unsub()

	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}

	b.Emit(ConnStateKind("notifications"), nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	var dropped []string
	b.OnDrop(func(kind string) { dropped = append(dropped, kind) })
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	b.Publish(Event{Kind: "test.two"})
	b.Publish(Event{Kind: "test.three"})

	evt := <-ch
	if evt.Kind != "test.one" || evt.Seq != 1 {
		t.Errorf("got %q seq %d, want test.one seq 1", evt.Kind, evt.Seq)
	}
	if len(dropped) != 2 || dropped[0] != "test.two" {
		t.Errorf("dropped = %v", dropped)
	}

	// The next delivered event reveals the gap.
	b.Publish(Event{Kind: "test.four"})
	if evt := <-ch; evt.Seq != 4 {
		t.Errorf("seq after gap = %d, want 4", evt.Seq)
	}
}

func TestEmptyPrefixMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 4)
	defer unsub()

	b.Emit(KindRoomsChanged, nil)
	b.Emit(ConnStateKind("chat"), nil)
	for _, want := range []string{KindRoomsChanged, "conn.chat.state_changed"} {
		if evt := <-ch; evt.Kind != want {
			t.Errorf("got %q, want %q", evt.Kind, want)
		}
	}
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	b.Emit(KindRoomsChanged, nil)
}
