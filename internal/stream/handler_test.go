package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/prefs"
	"github.com/matheus3301/teamsync/internal/rest"
	"github.com/matheus3301/teamsync/internal/unread"
	"pgregory.net/rapid"
)

const me = "user-me"

type gateFunc func(kind prefs.Kind, roomID, eventID string) bool

func (f gateFunc) ShouldNotify(kind prefs.Kind, roomID, eventID string) bool {
	return f(kind, roomID, eventID)
}

var allowAll = gateFunc(func(prefs.Kind, string, string) bool { return true })

type recordingPlayer struct {
	mu     sync.Mutex
	titles []string
}

func (p *recordingPlayer) Play(title, _ string) {
	p.mu.Lock()
	p.titles = append(p.titles, title)
	p.mu.Unlock()
}

func (p *recordingPlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.titles)
}

type noREST struct{}

func (noREST) BatchUnread(context.Context, []string) ([]rest.UnreadCount, error) { return nil, nil }
func (noREST) RoomUnread(context.Context, string) (int, error)                     { return 0, nil }
func (noREST) UnreadNotifications(context.Context) ([]rest.Notification, error)    { return nil, nil }
func (noREST) MarkEventRead(context.Context, string) error                         { return nil }

func newLedger(rooms ...string) *unread.Accountant {
	a := unread.New(noREST{}, nil, nil, nil, nil, nil)
	zero := 0
	var list []rest.Room
	for _, id := range rooms {
		list = append(list, rest.Room{RoomID: id, Name: "Room " + id, UnreadCount: &zero})
	}
	a.LoadRooms(context.Background(), list)
	return a
}

func newHandler(gate Gate, ledger Ledger) (*Handler, *recordingPlayer) {
	p := &recordingPlayer{}
	h := New(gate, ledger, p, nil, nil)
	h.SetSelf(me)
	return h, p
}

func msg(room, sender string) Message {
	return Message{ID: fmt.Sprintf("%s-%s", room, sender), RoomID: room, Sender: Sender{ID: sender}, Body: "hi"}
}

func raw(t testing.TB, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestApplyCounting(t *testing.T) {
	tests := []struct {
		name   string
		gate   Gate
		active string
		msg    Message
		want   Outcome
	}{
		{"other user", allowAll, "", msg("A", "u2"), Outcome{Counted: true}},
		{"self echo", allowAll, "", msg("A", me), Outcome{Reason: ReasonSelf}},
		{"active room", allowAll, "A", msg("A", "u2"), Outcome{Reason: ReasonActive}},
		{"muted", gateFunc(func(prefs.Kind, string, string) bool { return false }), "", msg("A", "u2"), Outcome{Reason: ReasonMuted}},
		{"unknown room", allowAll, "", msg("Z", "u2"), Outcome{Reason: ReasonUnknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newLedger("A", "B")
			h, player := newHandler(tt.gate, ledger)
			h.SetActiveRoom(tt.active)

			got := h.Apply(tt.msg)
			if got != tt.want {
				t.Errorf("Apply() = %+v, want %+v", got, tt.want)
			}
			wantTotal := 0
			if tt.want.Counted {
				wantTotal = 1
			}
			if ledger.TotalUnread() != wantTotal {
				t.Errorf("TotalUnread() = %d, want %d", ledger.TotalUnread(), wantTotal)
			}
			if player.count() != wantTotal {
				t.Errorf("chimes = %d, want %d", player.count(), wantTotal)
			}
		})
	}
}

func TestBadgeIgnoresSelfSent(t *testing.T) {
	ledger := newLedger("A")
	h, _ := newHandler(allowAll, ledger)

	h.HandleMessage(raw(t, msg("A", "u2")))
	h.HandleMessage(raw(t, msg("A", me)))
	h.HandleMessage(raw(t, msg("A", "u3")))

	if got := ledger.TotalUnread(); got != 2 {
		t.Errorf("total unread = %d, want 2", got)
	}
}

func TestSelfMessageStillRecordedAndPublished(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindMessageReceived, 4)
	defer unsub()
	ledger := newLedger("A")
	h := New(allowAll, ledger, nil, b, nil)
	h.SetSelf(me)

	h.Apply(msg("A", me))

	room, _ := ledger.Room("A")
	if room.LastMessage == nil || room.LastMessage.SenderID != me {
		t.Errorf("last message = %+v, want own message", room.LastMessage)
	}
	select {
	case evt := <-ch:
		if evt.Payload.(Message).RoomID != "A" {
			t.Errorf("payload = %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("message not published")
	}
}

func TestMutedRoomWithRealPreferences(t *testing.T) {
	until := time.Now().Add(time.Hour)
	p := rest.Preferences{ChatMessages: true, MutedChatRooms: []rest.MutedRoom{{ChatRoomID: "A", MuteExpiresAt: &until}}}
	engine := prefs.New(staticPrefs{p}, nil, nil, nil)
	if err := engine.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	ledger := newLedger("A", "B")
	h, _ := newHandler(engine, ledger)

	h.Apply(msg("A", "u2"))
	h.Apply(msg("B", "u2"))

	a, _ := ledger.Room("A")
	b, _ := ledger.Room("B")
	if a.UnreadCount != 0 || b.UnreadCount != 1 {
		t.Errorf("A = %d, B = %d, want 0 and 1", a.UnreadCount, b.UnreadCount)
	}
}

func TestUnloadedPreferencesSuppressCounting(t *testing.T) {
	engine := prefs.New(staticPrefs{}, nil, nil, nil)
	ledger := newLedger("A")
	h, _ := newHandler(engine, ledger)

	if out := h.Apply(msg("A", "u2")); out.Counted {
		t.Error("message counted before preferences loaded")
	}
}

func TestStatusUpdate(t *testing.T) {
	ledger := newLedger()
	h, player := newHandler(allowAll, ledger)

	if h.HandleStatusUpdate(raw(t, StatusUpdate{UserID: "someone-else", EventID: "e1", NewStatus: "confirmed"})) {
		t.Error("status update for another user applied")
	}
	if !h.HandleStatusUpdate(raw(t, StatusUpdate{UserID: me, EventID: "e1", EventName: "Match", NewStatus: "pending"})) {
		t.Fatal("status update not applied")
	}
	h.HandleStatusUpdate(raw(t, StatusUpdate{UserID: me, EventID: "e1", EventName: "Match", NewStatus: "confirmed"}))

	events := ledger.Events()
	if len(events) != 1 || events[0].Status != "confirmed" {
		t.Errorf("events = %+v, want e1 confirmed", events)
	}
	if player.count() != 2 {
		t.Errorf("chimes = %d, want 2", player.count())
	}
}

func TestStatusUpdateMutedEvent(t *testing.T) {
	gate := gateFunc(func(kind prefs.Kind, _, eventID string) bool {
		return kind == prefs.EventStatusUpdates && eventID != "muted"
	})
	ledger := newLedger()
	h, player := newHandler(gate, ledger)

	h.HandleStatusUpdate(raw(t, StatusUpdate{UserID: me, EventID: "muted", NewStatus: "x"}))
	if ledger.EventCount() != 0 || player.count() != 0 {
		t.Error("muted event surfaced")
	}
}

func TestRoomMembershipPushes(t *testing.T) {
	ledger := newLedger("A")
	h, _ := newHandler(allowAll, ledger)
	h.SetActiveRoom("A")

	id, ok := h.HandleNewChatRoom(raw(t, map[string]any{
		"userId":   me,
		"chatRoom": map[string]any{"roomId": "B", "name": "Bravo"},
	}))
	if !ok || id != "B" {
		t.Fatalf("HandleNewChatRoom = %q, %v", id, ok)
	}
	if _, ok := ledger.Room("B"); !ok {
		t.Error("new room not added")
	}
	if _, ok := h.HandleNewChatRoom(raw(t, map[string]any{"userId": "u2", "chatRoom": map[string]any{"roomId": "C"}})); ok {
		t.Error("room for another user accepted")
	}

	id, ok = h.HandleRemovedFromChatRoom(raw(t, map[string]any{"userId": me, "roomId": "A"}))
	if !ok || id != "A" {
		t.Fatalf("HandleRemovedFromChatRoom = %q, %v", id, ok)
	}
	if _, ok := ledger.Room("A"); ok {
		t.Error("room not removed")
	}
	if h.ActiveRoom() != "" {
		t.Error("active room not cleared after removal")
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	ledger := newLedger("A")
	h, _ := newHandler(allowAll, ledger)

	h.HandleMessage(json.RawMessage(`{"roomId":`))
	if h.HandleStatusUpdate(json.RawMessage(`[]`)) {
		t.Error("malformed status update applied")
	}
	if ledger.TotalUnread() != 0 {
		t.Error("malformed frame changed state")
	}
}

func TestSelfAndActiveNeverCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rooms := []string{"A", "B", "C"}
		ledger := newLedger(rooms...)
		h, _ := newHandler(allowAll, ledger)
		active := rapid.SampledFrom(rooms).Draw(t, "active")
		h.SetActiveRoom(active)

		want := map[string]int{}
		n := rapid.IntRange(0, 50).Draw(t, "n")
		for i := range n {
			room := rapid.SampledFrom(rooms).Draw(t, fmt.Sprintf("room%d", i))
			sender := rapid.SampledFrom([]string{me, "u2", "u3"}).Draw(t, fmt.Sprintf("sender%d", i))
			h.Apply(msg(room, sender))
			if sender != me && room != active {
				want[room]++
			}
		}

		total := 0
		for _, r := range ledger.Rooms() {
			if r.UnreadCount != want[r.RoomID] {
				t.Fatalf("room %s = %d, want %d", r.RoomID, r.UnreadCount, want[r.RoomID])
			}
			total += r.UnreadCount
		}
		if total != ledger.TotalUnread() {
			t.Fatalf("sum %d != total %d", total, ledger.TotalUnread())
		}
	})
}

type staticPrefs struct{ p rest.Preferences }

func (s staticPrefs) Preferences(context.Context) (rest.Preferences, error) {
	if !s.p.ChatMessages && !s.p.EventStatusUpdates {
		return rest.Preferences{}, rest.ErrEmptyPreferences
	}
	return s.p, nil
}
func (s staticPrefs) UpdatePreferences(_ context.Context, p rest.Preferences) (rest.Preferences, error) {
	return p, nil
}
func (s staticPrefs) MuteRoom(context.Context, string, *time.Time) (rest.Preferences, error) {
	return s.p, nil
}
func (s staticPrefs) UnmuteRoom(context.Context, string) (rest.Preferences, error) { return s.p, nil }
func (s staticPrefs) MuteEvent(context.Context, string) (rest.Preferences, error)  { return s.p, nil }
func (s staticPrefs) UnmuteEvent(context.Context, string) (rest.Preferences, error) {
	return s.p, nil
}
