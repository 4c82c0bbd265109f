package presence

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/matheus3301/teamsync/internal/bus"
)

type fakeChannel struct {
	users []string
	err   error
	calls int
	hook  func()
}

func (f *fakeChannel) Emit(_ context.Context, event string, _, result any) error {
	f.calls++
	if f.hook != nil {
		f.hook()
	}
	if f.err != nil {
		return f.err
	}
	data, _ := json.Marshal(map[string]any{"success": true, "onlineUsers": f.users})
	return json.Unmarshal(data, result)
}

func TestSeedReplacesSet(t *testing.T) {
	ch := &fakeChannel{users: []string{"u2", "u1"}}
	tr := New(ch, nil, nil, nil)
	tr.HandleOnline("stale")

	tr.Seed(context.Background())

	if got := tr.Online(); !reflect.DeepEqual(got, []string{"u1", "u2"}) {
		t.Errorf("Online() = %v, want [u1 u2]", got)
	}
	if tr.IsOnline("stale") {
		t.Error("snapshot did not replace the set")
	}
}

func TestSeedFailureDegradesToEmpty(t *testing.T) {
	ch := &fakeChannel{err: errors.New("ack timeout")}
	tr := New(ch, nil, nil, nil)
	tr.HandleOnline("u1")

	tr.Seed(context.Background())

	if tr.Count() != 0 {
		t.Errorf("Count() = %d, want 0", tr.Count())
	}
}

func TestIncrementalUpdates(t *testing.T) {
	tr := New(&fakeChannel{}, nil, nil, nil)

	tests := []struct {
		op     string
		userID string
		want   []string
	}{
		{"online", "u1", []string{"u1"}},
		{"online", "u2", []string{"u1", "u2"}},
		{"online", "u1", []string{"u1", "u2"}},
		{"offline", "u1", []string{"u2"}},
		{"offline", "nobody", []string{"u2"}},
		{"online", "", []string{"u2"}},
	}
	for _, tt := range tests {
		if tt.op == "online" {
			tr.HandleOnline(tt.userID)
		} else {
			tr.HandleOffline(tt.userID)
		}
		if got := tr.Online(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("after %s(%q): Online() = %v, want %v", tt.op, tt.userID, got, tt.want)
		}
	}
}

func TestResetDiscardsInflightSeed(t *testing.T) {
	ch := &fakeChannel{users: []string{"u1"}}
	tr := New(ch, nil, nil, nil)
	ch.hook = tr.Reset

	tr.Seed(context.Background())

	if tr.Count() != 0 {
		t.Error("snapshot from before Reset was applied")
	}
}

func TestPublishesCount(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindPresenceChanged, 8)
	defer unsub()
	tr := New(&fakeChannel{}, b, nil, nil)

	tr.HandleOnline("u1")
	evt := <-ch
	if evt.Payload.(int) != 1 {
		t.Errorf("payload = %v, want 1", evt.Payload)
	}
}
