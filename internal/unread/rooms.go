// Package unread keeps the unread counters of chat rooms and the list of
// unread event-status notifications.
package unread

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/logging"
	"github.com/matheus3301/teamsync/internal/metrics"
	"github.com/matheus3301/teamsync/internal/rest"
	"github.com/matheus3301/teamsync/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// fallbackParallelism bounds the per-room requests made when the batched
// unread fetch is unavailable.
const fallbackParallelism = 8

// LastMessage is the preview kept for a room.
type LastMessage struct {
	ID        string
	SenderID  string
	Body      string
	CreatedAt time.Time
}

// RoomState is the local view of one chat room.
type RoomState struct {
	RoomID      string
	Name        string
	UnreadCount int
	LastMessage *LastMessage
}

// Server is the REST surface the accountant falls back to.
type Server interface {
	BatchUnread(ctx context.Context, roomIDs []string) ([]rest.UnreadCount, error)
	RoomUnread(ctx context.Context, roomID string) (int, error)
	UnreadNotifications(ctx context.Context) ([]rest.Notification, error)
	MarkEventRead(ctx context.Context, eventID string) error
}

// Channel is the part of the notifications connection the accountant needs.
type Channel interface {
	Connected() bool
	Emit(ctx context.Context, event string, payload, result any) error
}

// ReceiptQueue stores mark-read calls that failed so they can be retried.
type ReceiptQueue interface {
	QueueReceipt(kind string, eventIDs []string, lastErr string) (int64, error)
	PendingReceipts() ([]store.ReadReceipt, error)
}

// Accountant owns room unread counters and unread event notifications.
// Only the message stream increments a room counter and only the user
// resets it.
type Accountant struct {
	server   Server
	channel  Channel
	receipts ReceiptQueue
	bus      *bus.Bus
	metrics  *metrics.Collectors
	logger   *zap.Logger

	mu     sync.RWMutex
	rooms  []RoomState
	index  map[string]int
	events []EventNotification
}

// New creates an empty accountant. channel and receipts may be nil.
func New(server Server, channel Channel, receipts ReceiptQueue, eventBus *bus.Bus, m *metrics.Collectors, logger *zap.Logger) *Accountant {
	return &Accountant{
		server:   server,
		channel:  channel,
		receipts: receipts,
		bus:      eventBus,
		metrics:  m,
		logger:   logging.OrNop(logger),
		index:    make(map[string]int),
	}
}

// LoadRooms replaces the room list with rooms. Counts carried by the list are
// used as-is; otherwise they are fetched in one batched request, falling back
// to parallel per-room requests when the batch is unavailable. A room whose
// count cannot be fetched starts at zero.
func (a *Accountant) LoadRooms(ctx context.Context, rooms []rest.Room) {
	counts := make(map[string]int, len(rooms))
	var missing []string
	for _, r := range rooms {
		if r.UnreadCount != nil {
			counts[r.RoomID] = max(*r.UnreadCount, 0)
		} else {
			missing = append(missing, r.RoomID)
		}
	}
	if len(missing) > 0 {
		for id, n := range a.fetchCounts(ctx, missing) {
			counts[id] = n
		}
	}

	next := make([]RoomState, 0, len(rooms))
	index := make(map[string]int, len(rooms))
	for _, r := range rooms {
		if _, dup := index[r.RoomID]; dup {
			continue
		}
		index[r.RoomID] = len(next)
		next = append(next, RoomState{RoomID: r.RoomID, Name: r.Name, UnreadCount: counts[r.RoomID]})
	}

	a.mu.Lock()
	a.rooms = next
	a.index = index
	a.mu.Unlock()
	a.listChanged()
	a.roomsChanged()
}

func (a *Accountant) fetchCounts(ctx context.Context, ids []string) map[string]int {
	batch, err := a.server.BatchUnread(ctx, ids)
	if err == nil && batch != nil {
		out := make(map[string]int, len(batch))
		for _, c := range batch {
			out[c.RoomID] = max(c.Count, 0)
		}
		return out
	}
	if err != nil {
		a.logger.Warn("batched unread fetch failed, querying rooms one by one", zap.Error(err))
	} else {
		a.logger.Warn("batched unread fetch returned no counts, querying rooms one by one")
	}

	results := make([]int, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fallbackParallelism)
	for i, id := range ids {
		g.Go(func() error {
			n, err := a.server.RoomUnread(gctx, id)
			if err != nil {
				a.logger.Debug("room unread fetch failed", zap.String("room", id), zap.Error(err))
				return nil
			}
			results[i] = max(n, 0)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]int, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out
}

// Increment adds one unread message to roomID. Unknown rooms are ignored and
// reported with false.
func (a *Accountant) Increment(roomID string) bool {
	a.mu.Lock()
	i, ok := a.index[roomID]
	if ok {
		a.rooms[i].UnreadCount++
	}
	a.mu.Unlock()
	if ok {
		a.roomsChanged()
	}
	return ok
}

// MarkRoomRead resets the unread count of roomID.
func (a *Accountant) MarkRoomRead(roomID string) bool {
	a.mu.Lock()
	i, ok := a.index[roomID]
	changed := ok && a.rooms[i].UnreadCount != 0
	if ok {
		a.rooms[i].UnreadCount = 0
	}
	a.mu.Unlock()
	if changed {
		a.roomsChanged()
	}
	return ok
}

// SetLastMessage records the latest message of roomID.
func (a *Accountant) SetLastMessage(roomID string, msg LastMessage) {
	a.mu.Lock()
	i, ok := a.index[roomID]
	if ok {
		m := msg
		a.rooms[i].LastMessage = &m
	}
	a.mu.Unlock()
}

// AddRoom appends a room, or renames it when it is already listed.
func (a *Accountant) AddRoom(roomID, name string) {
	a.mu.Lock()
	if i, ok := a.index[roomID]; ok {
		a.rooms[i].Name = name
	} else {
		a.index[roomID] = len(a.rooms)
		a.rooms = append(a.rooms, RoomState{RoomID: roomID, Name: name})
	}
	a.mu.Unlock()
	a.listChanged()
	a.roomsChanged()
}

// RemoveRoom drops roomID from the list.
func (a *Accountant) RemoveRoom(roomID string) {
	a.mu.Lock()
	i, ok := a.index[roomID]
	if ok {
		a.rooms = append(a.rooms[:i:i], a.rooms[i+1:]...)
		a.reindexLocked()
	}
	a.mu.Unlock()
	if ok {
		a.listChanged()
		a.roomsChanged()
	}
}

// Room returns the state of roomID.
func (a *Accountant) Room(roomID string) (RoomState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i, ok := a.index[roomID]
	if !ok {
		return RoomState{}, false
	}
	return copyRoom(a.rooms[i]), true
}

// Rooms returns a copy of the room list in server order.
func (a *Accountant) Rooms() []RoomState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]RoomState, len(a.rooms))
	for i, r := range a.rooms {
		out[i] = copyRoom(r)
	}
	return out
}

// TotalUnread returns the sum of every room's unread count.
func (a *Accountant) TotalUnread() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.totalLocked()
}

// Reset empties rooms and events, for session end.
func (a *Accountant) Reset() {
	a.mu.Lock()
	a.rooms = nil
	a.index = make(map[string]int)
	a.events = nil
	a.mu.Unlock()
	a.listChanged()
	a.roomsChanged()
	a.eventsChanged()
}

func (a *Accountant) totalLocked() int {
	total := 0
	for _, r := range a.rooms {
		total += r.UnreadCount
	}
	return total
}

func (a *Accountant) reindexLocked() {
	a.index = make(map[string]int, len(a.rooms))
	for i, r := range a.rooms {
		a.index[r.RoomID] = i
	}
}

func (a *Accountant) roomsChanged() {
	a.mu.RLock()
	total, events := a.totalLocked(), len(a.events)
	a.mu.RUnlock()
	a.metrics.SetUnread(total, events)
	a.bus.Emit(bus.KindUnreadChanged, total)
}

func (a *Accountant) listChanged() {
	a.mu.RLock()
	n := len(a.rooms)
	a.mu.RUnlock()
	a.bus.Emit(bus.KindRoomsChanged, n)
}

func copyRoom(r RoomState) RoomState {
	if r.LastMessage != nil {
		m := *r.LastMessage
		r.LastMessage = &m
	}
	return r
}
