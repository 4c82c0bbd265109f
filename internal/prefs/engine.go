// Package prefs holds the notification preferences of a session and answers
// whether an inbound frame should surface to the user.
package prefs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/logging"
	"github.com/matheus3301/teamsync/internal/rest"
	"go.uber.org/zap"
)

// CacheKey is the key-value entry holding the last known preferences.
const CacheKey = "notificationPreferences"

// Preferences is the server's preference object, used as-is.
type Preferences = rest.Preferences

// Kind selects the global toggle a notification is gated on.
type Kind string

const (
	EventStatusUpdates Kind = "eventStatusUpdates"
	ChatMessages       Kind = "chatMessages"
	EventReminders     Kind = "eventReminders"
	NewEventInArea     Kind = "newEventInArea"
)

// Server is the REST surface the engine round-trips mutations through.
type Server interface {
	Preferences(ctx context.Context) (rest.Preferences, error)
	UpdatePreferences(ctx context.Context, p rest.Preferences) (rest.Preferences, error)
	MuteRoom(ctx context.Context, roomID string, expiresAt *time.Time) (rest.Preferences, error)
	UnmuteRoom(ctx context.Context, roomID string) (rest.Preferences, error)
	MuteEvent(ctx context.Context, eventID string) (rest.Preferences, error)
	UnmuteEvent(ctx context.Context, eventID string) (rest.Preferences, error)
}

// Cache persists the last preferences the server confirmed.
type Cache interface {
	PutJSON(key string, v any) error
	GetJSON(key string, v any) (bool, error)
}

// Engine owns the preferences of one session. Until a load succeeds it is
// unloaded and suppresses every notification.
type Engine struct {
	server Server
	cache  Cache
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	prefs  *Preferences
	source string
}

// New creates an unloaded engine. cache may be nil.
func New(server Server, cache Cache, eventBus *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		server: server,
		cache:  cache,
		bus:    eventBus,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// Load fetches the preferences from the server and caches them. When the
// server is unreachable or answers without preferences, the cached copy is
// used instead. With neither, the engine stays unloaded and the server error
// is returned.
func (e *Engine) Load(ctx context.Context) error {
	p, err := e.server.Preferences(ctx)
	if err == nil {
		e.apply(p, "server")
		return nil
	}
	e.logger.Warn("fetching preferences failed, trying cache", zap.Error(err))

	if e.cache == nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	var cached Preferences
	ok, cerr := e.cache.GetJSON(CacheKey, &cached)
	if cerr != nil {
		e.logger.Warn("reading cached preferences failed", zap.Error(cerr))
	}
	if !ok || cerr != nil {
		return fmt.Errorf("load preferences: %w", err)
	}

	e.mu.Lock()
	e.prefs = &cached
	e.source = "cache"
	e.mu.Unlock()
	e.logger.Info("using cached preferences")
	e.bus.Emit(bus.KindPrefsChanged, cached)
	return nil
}

// Loaded reports whether preferences are available.
func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.prefs != nil
}

// Source reports where the current preferences came from: "server", "cache"
// or "" when unloaded.
func (e *Engine) Source() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.source
}

// Snapshot returns a copy of the current preferences.
func (e *Engine) Snapshot() (Preferences, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.prefs == nil {
		return Preferences{}, false
	}
	return clone(*e.prefs), true
}

// ShouldNotify reports whether a notification of kind should surface.
// roomID and eventID are optional. Room mutes only gate chat messages and are
// inert once expired. Event mutes gate any kind and never expire.
func (e *Engine) ShouldNotify(kind Kind, roomID, eventID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.prefs == nil || !toggle(e.prefs, kind) {
		return false
	}
	if kind == ChatMessages && roomID != "" {
		if _, muted := activeRoomMute(e.prefs, roomID, e.now()); muted {
			return false
		}
	}
	if eventID != "" && eventMuted(e.prefs, eventID) {
		return false
	}
	return true
}

// RoomMute returns the active mute on roomID, if any.
func (e *Engine) RoomMute(roomID string) (rest.MutedRoom, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.prefs == nil {
		return rest.MutedRoom{}, false
	}
	return activeRoomMute(e.prefs, roomID, e.now())
}

// EventMuted reports whether eventID is muted.
func (e *Engine) EventMuted(eventID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.prefs != nil && eventMuted(e.prefs, eventID)
}

// MuteRoom mutes roomID until expiresAt, or permanently when it is nil.
func (e *Engine) MuteRoom(ctx context.Context, roomID string, expiresAt *time.Time) (Preferences, error) {
	return e.roundTrip("mute room", func() (rest.Preferences, error) {
		return e.server.MuteRoom(ctx, roomID, expiresAt)
	})
}

// MuteRoomFor mutes roomID for one of the preset durations.
func (e *Engine) MuteRoomFor(ctx context.Context, roomID string, d MuteDuration) (Preferences, error) {
	expiresAt, err := d.ExpiresAt(e.now())
	if err != nil {
		return Preferences{}, err
	}
	return e.MuteRoom(ctx, roomID, expiresAt)
}

// UnmuteRoom removes the mute on roomID.
func (e *Engine) UnmuteRoom(ctx context.Context, roomID string) (Preferences, error) {
	return e.roundTrip("unmute room", func() (rest.Preferences, error) {
		return e.server.UnmuteRoom(ctx, roomID)
	})
}

// MuteEvent mutes status notifications for eventID.
func (e *Engine) MuteEvent(ctx context.Context, eventID string) (Preferences, error) {
	return e.roundTrip("mute event", func() (rest.Preferences, error) {
		return e.server.MuteEvent(ctx, eventID)
	})
}

// UnmuteEvent removes the mute on eventID.
func (e *Engine) UnmuteEvent(ctx context.Context, eventID string) (Preferences, error) {
	return e.roundTrip("unmute event", func() (rest.Preferences, error) {
		return e.server.UnmuteEvent(ctx, eventID)
	})
}

// Update replaces the global toggles and mute lists with p.
func (e *Engine) Update(ctx context.Context, p Preferences) (Preferences, error) {
	return e.roundTrip("update preferences", func() (rest.Preferences, error) {
		return e.server.UpdatePreferences(ctx, p)
	})
}

// Reset forgets the in-memory preferences. The cache is kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.prefs = nil
	e.source = ""
	e.mu.Unlock()
}

// roundTrip performs a mutation and adopts the server's answer. Nothing is
// applied locally when the call fails.
func (e *Engine) roundTrip(op string, call func() (rest.Preferences, error)) (Preferences, error) {
	p, err := call()
	if err != nil {
		return Preferences{}, fmt.Errorf("%s: %w", op, err)
	}
	e.apply(p, "server")
	return clone(p), nil
}

func (e *Engine) apply(p Preferences, source string) {
	stored := clone(p)
	e.mu.Lock()
	e.prefs = &stored
	e.source = source
	e.mu.Unlock()

	if e.cache != nil {
		if err := e.cache.PutJSON(CacheKey, stored); err != nil {
			e.logger.Warn("caching preferences failed", zap.Error(err))
		}
	}
	e.bus.Emit(bus.KindPrefsChanged, clone(stored))
}

func toggle(p *Preferences, kind Kind) bool {
	switch kind {
	case EventStatusUpdates:
		return p.EventStatusUpdates
	case ChatMessages:
		return p.ChatMessages
	case EventReminders:
		return p.EventReminders
	case NewEventInArea:
		return p.NewEventInArea
	}
	return false
}

func activeRoomMute(p *Preferences, roomID string, now time.Time) (rest.MutedRoom, bool) {
	for _, m := range p.MutedChatRooms {
		if m.ChatRoomID != roomID {
			continue
		}
		if m.MuteExpiresAt == nil || m.MuteExpiresAt.After(now) {
			return m, true
		}
	}
	return rest.MutedRoom{}, false
}

func eventMuted(p *Preferences, eventID string) bool {
	for _, m := range p.MutedEvents {
		if m.EventID == eventID {
			return true
		}
	}
	return false
}

func clone(p Preferences) Preferences {
	out := p
	if p.MutedChatRooms != nil {
		out.MutedChatRooms = make([]rest.MutedRoom, len(p.MutedChatRooms))
		for i, m := range p.MutedChatRooms {
			out.MutedChatRooms[i] = m
			if m.MuteExpiresAt != nil {
				t := *m.MuteExpiresAt
				out.MutedChatRooms[i].MuteExpiresAt = &t
			}
		}
	}
	if p.MutedEvents != nil {
		out.MutedEvents = append([]rest.MutedEvent(nil), p.MutedEvents...)
	}
	return out
}
