package model

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/matheus3301/teamsync/internal/api"
	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/stream"
)

// feedLimit caps the live messages kept per room.
const feedLimit = 200

// Daemon is the subset of the control client the view model uses.
type Daemon interface {
	Status(ctx context.Context) (api.StatusView, error)
	Rooms(ctx context.Context) ([]api.RoomView, error)
	UnreadEvents(ctx context.Context, refresh bool) (api.EventsView, error)
	SetActiveRoom(ctx context.Context, roomID string) error
	MarkEventRead(ctx context.Context, eventID string) error
	MarkAllEventsRead(ctx context.Context, ids []string) (int, error)
}

// ViewModel caches daemon state and the live message feed, and signals UI refreshes.
type ViewModel struct {
	mu sync.RWMutex

	client     Daemon
	status     *api.StatusView
	rooms      []api.RoomView
	events     []api.EventView
	feeds      map[string][]stream.Message
	activeRoom string

	refreshCh chan struct{}
}

// NewViewModel creates a new view model connected to the daemon client.
func NewViewModel(c Daemon) *ViewModel {
	return &ViewModel{
		client:    c,
		feeds:     make(map[string][]stream.Message),
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (vm *ViewModel) RefreshCh() <-chan struct{} {
	return vm.refreshCh
}

func (vm *ViewModel) signalRefresh() {
	select {
	case vm.refreshCh <- struct{}{}:
	default:
	}
}

// LoadStatus fetches the daemon status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	st, err := vm.client.Status(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = &st
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadRooms fetches the room list, unread rooms first.
func (vm *ViewModel) LoadRooms(ctx context.Context) error {
	rooms, err := vm.client.Rooms(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(rooms, func(i, j int) bool {
		if (rooms[i].Unread > 0) != (rooms[j].Unread > 0) {
			return rooms[i].Unread > 0
		}
		return rooms[i].Name < rooms[j].Name
	})
	vm.mu.Lock()
	vm.rooms = rooms
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// LoadEvents fetches unread event notifications.
func (vm *ViewModel) LoadEvents(ctx context.Context, refresh bool) error {
	v, err := vm.client.UnreadEvents(ctx, refresh)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.events = v.Events
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// OpenRoom makes roomID the active room on the daemon, which also clears its unread count.
func (vm *ViewModel) OpenRoom(ctx context.Context, roomID string) error {
	if err := vm.client.SetActiveRoom(ctx, roomID); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.activeRoom = roomID
	vm.mu.Unlock()
	return vm.LoadRooms(ctx)
}

// CloseRoom clears the active room.
func (vm *ViewModel) CloseRoom(ctx context.Context) error {
	vm.mu.Lock()
	vm.activeRoom = ""
	vm.mu.Unlock()
	return vm.client.SetActiveRoom(ctx, "")
}

// MarkEventRead marks one event read and drops it from the list.
func (vm *ViewModel) MarkEventRead(ctx context.Context, eventID string) error {
	if err := vm.client.MarkEventRead(ctx, eventID); err != nil {
		return err
	}
	vm.mu.Lock()
	kept := vm.events[:0:0]
	for _, e := range vm.events {
		if e.EventID != eventID {
			kept = append(kept, e)
		}
	}
	vm.events = kept
	vm.mu.Unlock()
	vm.signalRefresh()
	return nil
}

// MarkAllEventsRead marks every event read.
func (vm *ViewModel) MarkAllEventsRead(ctx context.Context) (int, error) {
	n, err := vm.client.MarkAllEventsRead(ctx, nil)
	if err != nil {
		return 0, err
	}
	vm.mu.Lock()
	vm.events = nil
	vm.mu.Unlock()
	vm.signalRefresh()
	return n, nil
}

// Apply folds a streamed daemon event into the cached state. It reports
// which lists need reloading from the daemon.
func (vm *ViewModel) Apply(evt api.WatchEvent) (reloadRooms, reloadEvents bool) {
	switch evt.Kind {
	case bus.KindMessageReceived:
		var msg stream.Message
		if err := json.Unmarshal(evt.Payload, &msg); err != nil || msg.RoomID == "" {
			return false, false
		}
		vm.mu.Lock()
		feed := append(vm.feeds[msg.RoomID], msg)
		if len(feed) > feedLimit {
			feed = feed[len(feed)-feedLimit:]
		}
		vm.feeds[msg.RoomID] = feed
		vm.mu.Unlock()
		vm.signalRefresh()
		return true, false
	case bus.KindUnreadChanged, bus.KindRoomsChanged, bus.KindPrefsChanged:
		return true, false
	case bus.KindEventsChanged:
		return false, true
	case bus.KindSessionStopped:
		vm.mu.Lock()
		vm.rooms = nil
		vm.events = nil
		vm.feeds = make(map[string][]stream.Message)
		vm.activeRoom = ""
		vm.mu.Unlock()
		vm.signalRefresh()
		return false, false
	}
	return false, false
}

// Status returns the last fetched status, or nil.
func (vm *ViewModel) Status() *api.StatusView {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Rooms returns a snapshot of the room list.
func (vm *ViewModel) Rooms() []api.RoomView {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.rooms
}

// Room returns the cached room with the given ID.
func (vm *ViewModel) Room(roomID string) (api.RoomView, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, r := range vm.rooms {
		if r.ID == roomID {
			return r, true
		}
	}
	return api.RoomView{}, false
}

// Events returns a snapshot of unread events.
func (vm *ViewModel) Events() []api.EventView {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.events
}

// Feed returns the live messages received for roomID since the monitor started.
func (vm *ViewModel) Feed(roomID string) []stream.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	out := make([]stream.Message, len(vm.feeds[roomID]))
	copy(out, vm.feeds[roomID])
	return out
}

// ActiveRoom returns the room currently open in the UI.
func (vm *ViewModel) ActiveRoom() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.activeRoom
}
