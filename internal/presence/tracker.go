// Package presence tracks which users are online on the chat channel.
package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/logging"
	"github.com/matheus3301/teamsync/internal/metrics"
	"go.uber.org/zap"
)

// Wire events owned by the tracker.
const (
	EventGetOnlineUsers = "getOnlineUsers"
	EventUserOnline     = "userOnline"
	EventUserOffline    = "userOffline"
)

// Channel is the part of the chat connection the tracker needs.
type Channel interface {
	Emit(ctx context.Context, event string, payload, result any) error
}

// UserEvent is the payload of userOnline and userOffline.
type UserEvent struct {
	UserID string `json:"userId"`
}

type snapshot struct {
	OnlineUsers []string `json:"onlineUsers"`
}

// Tracker holds the online user set. It is seeded by a snapshot on connect
// and updated incrementally in between.
type Tracker struct {
	channel Channel
	bus     *bus.Bus
	metrics *metrics.Collectors
	logger  *zap.Logger

	mu     sync.RWMutex
	online map[string]struct{}
	epoch  uint64
}

// New creates an empty tracker.
func New(channel Channel, eventBus *bus.Bus, m *metrics.Collectors, logger *zap.Logger) *Tracker {
	return &Tracker{
		channel: channel,
		bus:     eventBus,
		metrics: m,
		logger:  logging.OrNop(logger),
		online:  make(map[string]struct{}),
	}
}

// Seed replaces the set with the server's snapshot. On failure the set is
// left empty; the error is logged, not returned.
func (t *Tracker) Seed(ctx context.Context) {
	t.mu.RLock()
	epoch := t.epoch
	t.mu.RUnlock()

	var snap snapshot
	if err := t.channel.Emit(ctx, EventGetOnlineUsers, nil, &snap); err != nil {
		t.logger.Warn("online users snapshot failed", zap.Error(err))
		snap.OnlineUsers = nil
	}

	t.mu.Lock()
	if t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	t.online = make(map[string]struct{}, len(snap.OnlineUsers))
	for _, id := range snap.OnlineUsers {
		t.online[id] = struct{}{}
	}
	n := len(t.online)
	t.mu.Unlock()

	t.logger.Debug("online users seeded", zap.Int("count", n))
	t.changed(n)
}

// HandleOnline adds userID.
func (t *Tracker) HandleOnline(userID string) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	t.online[userID] = struct{}{}
	n := len(t.online)
	t.mu.Unlock()
	t.changed(n)
}

// HandleOffline removes userID.
func (t *Tracker) HandleOffline(userID string) {
	t.mu.Lock()
	delete(t.online, userID)
	n := len(t.online)
	t.mu.Unlock()
	t.changed(n)
}

// IsOnline reports whether userID is online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Online returns the online user ids, sorted.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of online users.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online)
}

// Reset empties the set and discards any snapshot still in flight.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.epoch++
	t.online = make(map[string]struct{})
	t.mu.Unlock()
	t.changed(0)
}

func (t *Tracker) changed(n int) {
	t.metrics.SetOnline(n)
	t.bus.Emit(bus.KindPresenceChanged, n)
}
