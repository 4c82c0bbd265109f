package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/matheus3301/teamsync/internal/realtime"
)

type call struct {
	event   string
	payload any
}

// fakeChannel acks joinRoomsBatch with joined = requested minus fail.
type fakeChannel struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]bool
	err   error
	hook  func()
}

func (f *fakeChannel) Emit(_ context.Context, event string, payload, result any) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{event, payload})
	err, hook := f.err, f.hook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	if event != EventJoinRoomsBatch {
		return nil
	}
	var ack JoinResult
	for _, id := range payload.([]string) {
		if f.fail[id] {
			ack.Failed = append(ack.Failed, id)
		} else {
			ack.Joined = append(ack.Joined, id)
		}
	}
	data, _ := json.Marshal(ack)
	return json.Unmarshal(data, result)
}

func (f *fakeChannel) Send(_ context.Context, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{event, payload})
	return nil
}

func (f *fakeChannel) callsOf(event string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.event == event {
			out = append(out, c)
		}
	}
	return out
}

func joinedIDs(r *Registry) []string {
	var out []string
	for _, m := range r.Joined() {
		out = append(out, m.RoomID)
	}
	return out
}

func TestSyncUsesOneBatchedCall(t *testing.T) {
	ch := &fakeChannel{}
	r := New(ch, nil, nil)

	if _, err := r.Sync(context.Background(), []string{"c", "a", "b"}); err != nil {
		t.Fatal(err)
	}

	batches := ch.callsOf(EventJoinRoomsBatch)
	if len(batches) != 1 {
		t.Fatalf("got %d batch calls, want 1", len(batches))
	}
	if got := batches[0].payload.([]string); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("batch = %v, want [a b c]", got)
	}
	if n := len(ch.callsOf(EventJoinRoom)); n != 0 {
		t.Errorf("got %d per-room joins, want 0", n)
	}
}

func TestSyncOnlyJoinsMissing(t *testing.T) {
	ch := &fakeChannel{}
	r := New(ch, nil, nil)
	ctx := context.Background()

	if _, err := r.Sync(ctx, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Sync(ctx, []string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Sync(ctx, []string{"a"}); err != nil {
		t.Fatal(err)
	}

	batches := ch.callsOf(EventJoinRoomsBatch)
	if len(batches) != 2 {
		t.Fatalf("got %d batch calls, want 2 (nothing missing on the third)", len(batches))
	}
	if got := batches[1].payload.([]string); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("second batch = %v, want [c]", got)
	}
}

func TestPartialJoinThenReconnect(t *testing.T) {
	ch := &fakeChannel{fail: map[string]bool{"C": true}}
	r := New(ch, nil, nil)
	ctx := context.Background()

	res, err := r.Sync(ctx, []string{"A", "B", "C"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Failed, []string{"C"}) {
		t.Errorf("failed = %v, want [C]", res.Failed)
	}
	if got := joinedIDs(r); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("joined = %v, want [A B]", got)
	}

	// Not retried on this connection.
	if _, err := r.Sync(ctx, []string{"A", "B", "C"}); err != nil {
		t.Fatal(err)
	}
	if n := len(ch.callsOf(EventJoinRoomsBatch)); n != 1 {
		t.Fatalf("failed room retried immediately: %d batch calls", n)
	}

	ch.fail = nil
	r.Suspend()
	if len(r.Joined()) != 0 {
		t.Fatal("membership survived Suspend")
	}
	if _, err := r.Restore(ctx); err != nil {
		t.Fatal(err)
	}

	batches := ch.callsOf(EventJoinRoomsBatch)
	if len(batches) != 2 {
		t.Fatalf("got %d batch calls, want 2", len(batches))
	}
	if got := batches[1].payload.([]string); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Errorf("restore batch = %v, want [A B C]", got)
	}
	if got := joinedIDs(r); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Errorf("joined after restore = %v", got)
	}
}

func TestRestoredRoomsSkipJoin(t *testing.T) {
	ch := &fakeChannel{}
	r := New(ch, nil, nil)
	ctx := context.Background()

	if _, err := r.Sync(ctx, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	r.Suspend()
	r.HandleRestored([]string{"a", "b", "stranger"})

	if _, err := r.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if n := len(ch.callsOf(EventJoinRoomsBatch)); n != 1 {
		t.Errorf("got %d batch calls, want 1 (restore needed no join)", n)
	}
	if !r.IsJoined("stranger") {
		t.Error("room restored by the server not recorded as joined")
	}
	if got := r.Known(); !reflect.DeepEqual(got, []string{"a", "b", "stranger"}) {
		t.Errorf("known = %v, want restored room added", got)
	}
}

func TestReplacePrunesKnownSet(t *testing.T) {
	tests := []struct {
		name       string
		desired    []string
		wantBatch  []string
		wantKnown  []string
		wantJoined []string
	}{
		{"room dropped", []string{"A", "B"}, []string{"A", "B"}, []string{"A", "B"}, []string{"A", "B"}},
		{"room added", []string{"A", "B", "C", "D"}, []string{"A", "B", "C", "D"}, []string{"A", "B", "C", "D"}, []string{"A", "B", "C", "D"}},
		{"all dropped", nil, nil, []string{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChannel{}
			r := New(ch, nil, nil)
			ctx := context.Background()

			if _, err := r.Sync(ctx, []string{"A", "B", "C"}); err != nil {
				t.Fatal(err)
			}
			r.Suspend()
			if _, err := r.Replace(ctx, tt.desired); err != nil {
				t.Fatal(err)
			}

			batches := ch.callsOf(EventJoinRoomsBatch)
			if tt.wantBatch == nil {
				if len(batches) != 1 {
					t.Errorf("got %d batch calls, want no rejoin", len(batches))
				}
			} else {
				if len(batches) != 2 {
					t.Fatalf("got %d batch calls, want 2", len(batches))
				}
				if got := batches[1].payload.([]string); !reflect.DeepEqual(got, tt.wantBatch) {
					t.Errorf("rejoin batch = %v, want %v", got, tt.wantBatch)
				}
			}
			if got := r.Known(); !reflect.DeepEqual(got, tt.wantKnown) {
				t.Errorf("known = %v, want %v", got, tt.wantKnown)
			}
			if got := joinedIDs(r); !reflect.DeepEqual(got, tt.wantJoined) {
				t.Errorf("joined = %v, want %v", got, tt.wantJoined)
			}
		})
	}
}

func TestReplaceWhileConnectedDropsMembership(t *testing.T) {
	ch := &fakeChannel{}
	r := New(ch, nil, nil)
	ctx := context.Background()

	if _, err := r.Sync(ctx, []string{"A", "B"}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Replace(ctx, []string{"B"}); err != nil {
		t.Fatal(err)
	}
	if r.IsJoined("A") {
		t.Error("dropped room still joined")
	}
	if n := len(ch.callsOf(EventJoinRoomsBatch)); n != 1 {
		t.Errorf("got %d batch calls, want 1 (B already joined)", n)
	}
}

func TestJoinFailureKeepsRoomKnown(t *testing.T) {
	ch := &fakeChannel{err: realtime.ErrNotConnected}
	r := New(ch, nil, nil)

	_, err := r.Sync(context.Background(), []string{"a"})
	if !errors.Is(err, realtime.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	if len(r.Joined()) != 0 {
		t.Error("room recorded as joined after a failed call")
	}
	if !reflect.DeepEqual(r.Known(), []string{"a"}) {
		t.Errorf("known = %v, want [a]", r.Known())
	}

	ch.err = nil
	if _, err := r.Sync(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if !r.IsJoined("a") {
		t.Error("room not joined on the next sync")
	}
}

func TestAckFromPreviousConnectionIsDiscarded(t *testing.T) {
	ch := &fakeChannel{}
	r := New(ch, nil, nil)
	ch.hook = func() { r.Suspend() }

	if _, err := r.Sync(context.Background(), []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if r.IsJoined("a") {
		t.Error("join acked before a reconnect was recorded on the new connection")
	}
}

func TestJoinSingle(t *testing.T) {
	ch := &fakeChannel{}
	r := New(ch, nil, nil)
	ctx := context.Background()

	if err := r.Join(ctx, "new"); err != nil {
		t.Fatal(err)
	}
	if err := r.Join(ctx, "new"); err != nil {
		t.Fatal(err)
	}
	if n := len(ch.callsOf(EventJoinRoom)); n != 1 {
		t.Errorf("got %d joinRoom calls, want 1", n)
	}
	if !r.IsJoined("new") {
		t.Error("room not joined")
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	ch := &fakeChannel{}
	r := New(ch, nil, nil)
	ctx := context.Background()

	if _, err := r.Sync(ctx, []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := r.Leave(ctx, "a"); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(ch.callsOf(EventLeaveRoom)); n != 1 {
		t.Errorf("got %d leaveRoom sends, want 1", n)
	}
	if r.IsJoined("a") {
		t.Error("room still joined after leave")
	}
	if !reflect.DeepEqual(r.Known(), []string{"b"}) {
		t.Errorf("known = %v, want [b]", r.Known())
	}
}

func TestForgetAndReset(t *testing.T) {
	ch := &fakeChannel{}
	r := New(ch, nil, nil)

	if _, err := r.Sync(context.Background(), []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	r.Forget("a")
	if r.IsJoined("a") || len(ch.callsOf(EventLeaveRoom)) != 0 {
		t.Error("Forget should drop the room without a server call")
	}

	r.Reset()
	if len(r.Known()) != 0 || len(r.Joined()) != 0 {
		t.Error("Reset left state behind")
	}
}
