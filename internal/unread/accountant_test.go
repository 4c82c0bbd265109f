package unread

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/matheus3301/teamsync/internal/realtime"
	"github.com/matheus3301/teamsync/internal/rest"
	"github.com/matheus3301/teamsync/internal/store"
	"pgregory.net/rapid"
)

var errDown = errors.New("server down")

type fakeServer struct {
	mu          sync.Mutex
	batch       []rest.UnreadCount
	batchErr    error
	perRoom     map[string]int
	perRoomErr  map[string]bool
	perRoomHits int
	batchHits   int
	notes       []rest.Notification
	notesErr    error
	marked      []string
	markErr     error
}

func (f *fakeServer) BatchUnread(_ context.Context, ids []string) ([]rest.UnreadCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchHits++
	return f.batch, f.batchErr
}

func (f *fakeServer) RoomUnread(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perRoomHits++
	if f.perRoomErr[id] {
		return 0, errDown
	}
	return f.perRoom[id], nil
}

func (f *fakeServer) UnreadNotifications(context.Context) ([]rest.Notification, error) {
	return f.notes, f.notesErr
}

func (f *fakeServer) MarkEventRead(_ context.Context, id string) error {
	f.marked = append(f.marked, id)
	return f.markErr
}

type emitted struct {
	event   string
	payload any
}

type fakeChannel struct {
	connected bool
	acks      map[string]any
	errs      map[string]error
	calls     []emitted
}

func (f *fakeChannel) Connected() bool { return f.connected }

func (f *fakeChannel) Emit(_ context.Context, event string, payload, result any) error {
	f.calls = append(f.calls, emitted{event, payload})
	if err := f.errs[event]; err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	data, _ := json.Marshal(f.acks[event])
	return json.Unmarshal(data, result)
}

func intp(n int) *int { return &n }

func note(id, name, status string) rest.Notification {
	return rest.Notification{EventID: rest.EventRef{ID: id, EventName: name}, Status: status}
}

func TestLoadRoomsUsesInlineCounts(t *testing.T) {
	srv := &fakeServer{}
	a := New(srv, nil, nil, nil, nil, nil)

	a.LoadRooms(context.Background(), []rest.Room{
		{RoomID: "a", Name: "A", UnreadCount: intp(2)},
		{RoomID: "b", Name: "B", UnreadCount: intp(0)},
	})

	if srv.batchHits != 0 || srv.perRoomHits != 0 {
		t.Errorf("unexpected fetches: batch=%d perRoom=%d", srv.batchHits, srv.perRoomHits)
	}
	if a.TotalUnread() != 2 {
		t.Errorf("TotalUnread() = %d, want 2", a.TotalUnread())
	}
}

func TestLoadRoomsBatch(t *testing.T) {
	srv := &fakeServer{batch: []rest.UnreadCount{{RoomID: "a", Count: 3}}}
	a := New(srv, nil, nil, nil, nil, nil)

	a.LoadRooms(context.Background(), []rest.Room{{RoomID: "a"}, {RoomID: "b"}})

	if srv.batchHits != 1 || srv.perRoomHits != 0 {
		t.Errorf("fetches: batch=%d perRoom=%d, want 1/0", srv.batchHits, srv.perRoomHits)
	}
	rooms := a.Rooms()
	if rooms[0].UnreadCount != 3 || rooms[1].UnreadCount != 0 {
		t.Errorf("rooms = %+v", rooms)
	}
}

func TestLoadRoomsFallsBackToPerRoom(t *testing.T) {
	tests := []struct {
		name string
		srv  *fakeServer
	}{
		{"batch error", &fakeServer{batchErr: errDown}},
		{"batch without counts", &fakeServer{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.srv.perRoom = map[string]int{"a": 1, "b": 4, "c": 9}
			tt.srv.perRoomErr = map[string]bool{"c": true}
			a := New(tt.srv, nil, nil, nil, nil, nil)

			a.LoadRooms(context.Background(), []rest.Room{{RoomID: "a"}, {RoomID: "b"}, {RoomID: "c"}})

			if tt.srv.perRoomHits != 3 {
				t.Errorf("perRoom fetches = %d, want 3", tt.srv.perRoomHits)
			}
			var got []int
			for _, r := range a.Rooms() {
				got = append(got, r.UnreadCount)
			}
			if !reflect.DeepEqual(got, []int{1, 4, 0}) {
				t.Errorf("counts = %v, want [1 4 0] (failed room counts as 0)", got)
			}
		})
	}
}

func TestLoadRoomsReplacesWholesale(t *testing.T) {
	a := New(&fakeServer{}, nil, nil, nil, nil, nil)
	ctx := context.Background()

	a.LoadRooms(ctx, []rest.Room{{RoomID: "a", UnreadCount: intp(5)}})
	a.Increment("a")
	a.LoadRooms(ctx, []rest.Room{{RoomID: "b", UnreadCount: intp(1)}})

	if _, ok := a.Room("a"); ok {
		t.Error("room a survived a refetch that dropped it")
	}
	if a.TotalUnread() != 1 {
		t.Errorf("TotalUnread() = %d, want 1", a.TotalUnread())
	}
}

func TestIncrementAndMarkRoomRead(t *testing.T) {
	a := New(&fakeServer{}, nil, nil, nil, nil, nil)
	a.LoadRooms(context.Background(), []rest.Room{{RoomID: "a", UnreadCount: intp(0)}})

	a.Increment("a")
	a.Increment("a")
	if a.Increment("ghost") {
		t.Error("Increment on an unknown room reported true")
	}
	if a.TotalUnread() != 2 {
		t.Fatalf("TotalUnread() = %d, want 2", a.TotalUnread())
	}
	a.MarkRoomRead("a")
	if a.TotalUnread() != 0 {
		t.Errorf("TotalUnread() after mark read = %d, want 0", a.TotalUnread())
	}
}

func TestAddRemoveRoom(t *testing.T) {
	a := New(&fakeServer{}, nil, nil, nil, nil, nil)
	a.AddRoom("a", "Alpha")
	a.AddRoom("b", "Beta")
	a.AddRoom("a", "Alpha FC")
	a.Increment("b")
	a.RemoveRoom("a")

	rooms := a.Rooms()
	if len(rooms) != 1 || rooms[0].RoomID != "b" || rooms[0].UnreadCount != 1 {
		t.Errorf("rooms = %+v", rooms)
	}
	if !a.Increment("b") || a.TotalUnread() != 2 {
		t.Error("index not rebuilt after RemoveRoom")
	}
}

func TestFetchEventsPrefersChannel(t *testing.T) {
	ch := &fakeChannel{
		connected: true,
		acks: map[string]any{
			EventGetUnreadNotifications: map[string]any{
				"success": true, "count": 1,
				"unreadNotifications": []rest.Notification{note("e1", "Match", "confirmed")},
			},
		},
	}
	srv := &fakeServer{notes: []rest.Notification{note("rest", "", "")}}
	a := New(srv, ch, nil, nil, nil, nil)

	s := a.FetchEvents(context.Background())
	if s.Source != SourceRPC || s.Count != 1 || s.Items[0].EventID != "e1" {
		t.Errorf("summary = %+v", s)
	}
}

func TestFetchEventsRESTShapeMatchesRPC(t *testing.T) {
	notes := []rest.Notification{note("e1", "Match", "confirmed"), note("e2", "Cup", "cancelled")}

	rpc := New(&fakeServer{}, &fakeChannel{
		connected: true,
		acks: map[string]any{EventGetUnreadNotifications: map[string]any{
			"success": true, "count": 2, "unreadNotifications": notes,
		}},
	}, nil, nil, nil, nil)
	viaRPC := rpc.FetchEvents(context.Background())

	// Notifications channel unreachable at startup.
	fallback := New(&fakeServer{notes: notes}, &fakeChannel{connected: false}, nil, nil, nil, nil)
	viaREST := fallback.FetchEvents(context.Background())

	if viaREST.Source != SourceREST {
		t.Fatalf("source = %q, want rest", viaREST.Source)
	}
	if viaRPC.Count != viaREST.Count || !reflect.DeepEqual(viaRPC.Items, viaREST.Items) {
		t.Errorf("rpc = %+v\nrest = %+v", viaRPC, viaREST)
	}
}

func TestFetchEventsFallbacks(t *testing.T) {
	ch := &fakeChannel{connected: true, errs: map[string]error{EventGetUnreadNotifications: errDown}}
	srv := &fakeServer{notes: []rest.Notification{note("e1", "", "")}}
	a := New(srv, ch, nil, nil, nil, nil)

	if s := a.FetchEvents(context.Background()); s.Source != SourceREST || s.Count != 1 {
		t.Errorf("channel failure: summary = %+v, want REST result", s)
	}

	srv.notesErr = errDown
	s := a.FetchEvents(context.Background())
	if s.Source != SourceNone || s.Count != 0 || len(s.Items) != 0 {
		t.Errorf("both failing: summary = %+v, want empty", s)
	}
}

func TestFetchEventsKeepsQueuedReceiptsRead(t *testing.T) {
	db := testDB(t)
	srv := &fakeServer{markErr: errDown}
	a := New(srv, &fakeChannel{connected: false}, db, nil, nil, nil)
	seedEvents(a, "e1", "e2")

	if err := a.MarkEventRead(context.Background(), "e1"); err == nil {
		t.Fatal("want error while the server is down")
	}
	if _, err := db.QueueReceipt(store.ReceiptAll, []string{"e3"}, "not connected"); err != nil {
		t.Fatal(err)
	}

	// The server has not seen either receipt yet.
	srv.notes = []rest.Notification{note("e1", "", ""), note("e2", "", ""), note("e3", "", "")}
	s := a.FetchEvents(context.Background())
	if s.Count != 1 || s.Items[0].EventID != "e2" {
		t.Errorf("summary = %+v, want only e2", s)
	}
	if a.HasUnread("e1") || a.HasUnread("e3") {
		t.Error("event with a queued receipt came back as unread")
	}
}

func seedEvents(a *Accountant, ids ...string) {
	for _, id := range ids {
		a.UpsertEvent(id, "name-"+id, "pending")
	}
}

func TestMarkEventReadIsIdempotent(t *testing.T) {
	ch := &fakeChannel{connected: true}
	a := New(&fakeServer{}, ch, nil, nil, nil, nil)
	seedEvents(a, "e1", "e2", "e3")

	if err := a.MarkEventRead(context.Background(), "e2"); err != nil {
		t.Fatal(err)
	}
	once := a.Events()
	if err := a.MarkEventRead(context.Background(), "e2"); err != nil {
		t.Fatal(err)
	}

	if a.EventCount() != 2 {
		t.Errorf("EventCount() = %d, want 2", a.EventCount())
	}
	if !reflect.DeepEqual(once, a.Events()) {
		t.Errorf("second mark changed state: %+v -> %+v", once, a.Events())
	}
	if ch.calls[0].event != EventMarkAsRead {
		t.Errorf("first call = %s, want markAsRead", ch.calls[0].event)
	}
}

func TestMarkEventReadUsesRESTWhenDisconnected(t *testing.T) {
	srv := &fakeServer{}
	a := New(srv, &fakeChannel{connected: false}, nil, nil, nil, nil)
	seedEvents(a, "e1")

	if err := a.MarkEventRead(context.Background(), "e1"); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(srv.marked, []string{"e1"}) {
		t.Errorf("REST marked = %v, want [e1]", srv.marked)
	}
}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMarkEventReadFailureQueuesWithoutRollback(t *testing.T) {
	db := testDB(t)
	srv := &fakeServer{markErr: errDown}
	a := New(srv, &fakeChannel{connected: false}, db, nil, nil, nil)
	seedEvents(a, "e1", "e2")

	err := a.MarkEventRead(context.Background(), "e1")
	if !errors.Is(err, errDown) {
		t.Fatalf("err = %v, want errDown", err)
	}
	if a.HasUnread("e1") {
		t.Error("optimistic removal was rolled back")
	}
	rs, err := db.PendingReceipts()
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 1 || rs[0].Kind != store.ReceiptSingle || rs[0].EventIDs[0] != "e1" {
		t.Errorf("queued receipts = %+v", rs)
	}
}

func TestRefusedReceiptIsNotQueued(t *testing.T) {
	rejected := &realtime.ServerRejectedError{Channel: realtime.Notifications, Event: EventMarkAsRead, Message: "no such event"}
	tests := []struct {
		name       string
		connected  bool
		channelErr error
		restErr    error
		wantQueued int
	}{
		{"server rejected", true, rejected, nil, 0},
		{"not found", false, nil, &rest.APIError{Status: 404, Code: "not_found"}, 0},
		{"forbidden", false, nil, &rest.APIError{Status: 403}, 0},
		{"rate limited", false, nil, &rest.APIError{Status: 429}, 1},
		{"unavailable", false, nil, &rest.APIError{Status: 503}, 1},
		{"transport", false, nil, errDown, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := testDB(t)
			ch := &fakeChannel{connected: tt.connected, errs: map[string]error{EventMarkAsRead: tt.channelErr}}
			a := New(&fakeServer{markErr: tt.restErr}, ch, db, nil, nil, nil)
			seedEvents(a, "e1")

			if err := a.MarkEventRead(context.Background(), "e1"); err == nil {
				t.Fatal("want error")
			}
			if n, _ := db.ReceiptCount(); n != tt.wantQueued {
				t.Errorf("ReceiptCount() = %d, want %d", n, tt.wantQueued)
			}
		})
	}
}

func TestMarkAllEventsRead(t *testing.T) {
	ch := &fakeChannel{connected: true, acks: map[string]any{EventMarkAllAsRead: map[string]any{"success": true, "markedCount": 2}}}
	a := New(&fakeServer{}, ch, nil, nil, nil, nil)
	seedEvents(a, "e1", "e2", "e3")

	n, err := a.MarkAllEventsRead(context.Background(), []string{"e1", "e3"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("markedCount = %d, want 2", n)
	}
	if got := a.Events(); len(got) != 1 || got[0].EventID != "e2" {
		t.Errorf("events = %+v, want only e2", got)
	}
	if len(ch.calls) != 1 {
		t.Errorf("got %d calls, want one batched call", len(ch.calls))
	}

	if _, err := a.MarkAllEventsRead(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if a.EventCount() != 0 {
		t.Errorf("EventCount() after mark all = %d", a.EventCount())
	}
	if p := ch.calls[1].payload.(markAllPayload); p.EventIDs == nil || len(p.EventIDs) != 0 {
		t.Errorf("mark all payload = %+v, want empty list", p)
	}
}

func TestMarkAllEventsReadQueuesWhenDisconnected(t *testing.T) {
	db := testDB(t)
	ch := &fakeChannel{connected: false}
	a := New(&fakeServer{}, ch, db, nil, nil, nil)
	seedEvents(a, "e1", "e2")

	if _, err := a.MarkAllEventsRead(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(ch.calls) != 0 {
		t.Error("emitted while disconnected")
	}
	rs, _ := db.PendingReceipts()
	if len(rs) != 1 || rs[0].Kind != store.ReceiptAll || !reflect.DeepEqual(rs[0].EventIDs, []string{"e1", "e2"}) {
		t.Errorf("queued = %+v, want one batch of [e1 e2]", rs)
	}
}

func TestUpsertEvent(t *testing.T) {
	a := New(&fakeServer{}, nil, nil, nil, nil, nil)
	a.UpsertEvent("e1", "Match", "pending")
	a.UpsertEvent("e2", "Cup", "pending")
	a.UpsertEvent("e1", "", "confirmed")

	got := a.Events()
	want := []EventNotification{
		{EventID: "e1", EventName: "Match", Status: "confirmed"},
		{EventID: "e2", EventName: "Cup", Status: "pending"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %+v, want %+v", got, want)
	}

	a.ResetEvents()
	if a.EventCount() != 0 || a.HasUnread("e1") {
		t.Error("ResetEvents left entries")
	}
}

func TestCountersProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := New(&fakeServer{}, nil, nil, nil, nil, nil)
		ids := []string{"a", "b", "c"}
		var rooms []rest.Room
		for _, id := range ids {
			rooms = append(rooms, rest.Room{RoomID: id, UnreadCount: intp(rapid.IntRange(0, 5).Draw(t, "start-"+id))})
		}
		a.LoadRooms(context.Background(), rooms)

		steps := rapid.SliceOf(rapid.IntRange(0, 5)).Draw(t, "steps")
		for _, s := range steps {
			room := ids[s%len(ids)]
			if s < 3 {
				a.Increment(room)
			} else {
				a.MarkRoomRead(room)
			}
		}

		sum := 0
		for _, r := range a.Rooms() {
			if r.UnreadCount < 0 {
				t.Fatalf("room %s count %d is negative", r.RoomID, r.UnreadCount)
			}
			sum += r.UnreadCount
		}
		if sum != a.TotalUnread() {
			t.Fatalf("sum %d != TotalUnread %d", sum, a.TotalUnread())
		}
	})
}
