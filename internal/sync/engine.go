// Package sync composes the realtime channels and the components that keep
// local state in step with the server for one signed-in session.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/chime"
	"github.com/matheus3301/teamsync/internal/config"
	"github.com/matheus3301/teamsync/internal/logging"
	"github.com/matheus3301/teamsync/internal/metrics"
	"github.com/matheus3301/teamsync/internal/outbox"
	"github.com/matheus3301/teamsync/internal/prefs"
	"github.com/matheus3301/teamsync/internal/presence"
	"github.com/matheus3301/teamsync/internal/realtime"
	"github.com/matheus3301/teamsync/internal/rest"
	"github.com/matheus3301/teamsync/internal/rooms"
	"github.com/matheus3301/teamsync/internal/status"
	"github.com/matheus3301/teamsync/internal/store"
	"github.com/matheus3301/teamsync/internal/stream"
	"github.com/matheus3301/teamsync/internal/unread"
	"go.uber.org/zap"
)

// Client events without an acknowledgment.
const (
	EventTyping               = "typing"
	EventStopTyping           = "stopTyping"
	EventSubscribeToEvent     = "subscribeToEvent"
	EventUnsubscribeFromEvent = "unsubscribeFromEvent"
)

// ErrNoSession is returned by operations that need a started session.
var ErrNoSession = errors.New("no active session")

// Session identifies the signed-in user and the credential the channels
// authenticate with.
type Session struct {
	UserID     string
	Credential string
}

// Options wires an Engine to its collaborators.
type Options struct {
	Config  *config.Config
	REST    *rest.Client
	DB      *store.DB
	Bus     *bus.Bus
	Metrics *metrics.Collectors
	Player  chime.Player
	Dialer  realtime.Dialer
	Logger  *zap.Logger
}

// Engine owns both channel managers and every component fed by them.
type Engine struct {
	chat          *realtime.Manager
	notifications *realtime.Manager
	rest          *rest.Client
	db            *store.DB
	prefs         *prefs.Engine
	rooms         *rooms.Registry
	presence      *presence.Tracker
	unread        *unread.Accountant
	stream        *stream.Handler
	sender        *outbox.Sender
	drainer       *outbox.Drainer
	checkpoints   *Checkpoints
	bus           *bus.Bus
	logger        *zap.Logger

	mu      gosync.Mutex
	session Session
	running bool
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	subs    realtime.Group
	wg      gosync.WaitGroup
}

// NewEngine builds an idle engine. Nothing connects until Start.
func NewEngine(opts Options) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := logging.OrNop(opts.Logger)

	backoff := realtime.Backoff{
		Initial:     cfg.Reconnect.InitialDelay.Duration,
		Max:         cfg.Reconnect.MaxDelay.Duration,
		Jitter:      cfg.Reconnect.Jitter,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}
	manager := func(ch realtime.Channel) *realtime.Manager {
		return realtime.NewManager(realtime.Options{
			Channel:        ch,
			URL:            realtime.Endpoint(cfg.Server.SocketURL, ch),
			Dialer:         opts.Dialer,
			Backoff:        backoff,
			ConnectTimeout: cfg.Timeouts.Connect.Duration,
			AckTimeout:     cfg.Timeouts.Ack.Duration,
			Bus:            opts.Bus,
			Metrics:        opts.Metrics,
			Logger:         logger,
		})
	}

	e := &Engine{
		chat:          manager(realtime.Chat),
		notifications: manager(realtime.Notifications),
		rest:          opts.REST,
		db:            opts.DB,
		checkpoints:   NewCheckpoints(opts.DB),
		bus:           opts.Bus,
		logger:        logger,
	}
	e.prefs = prefs.New(opts.REST, opts.DB, opts.Bus, logger.Named("prefs"))
	e.rooms = rooms.New(e.chat, opts.Metrics, logger.Named("rooms"))
	e.presence = presence.New(e.chat, opts.Bus, opts.Metrics, logger.Named("presence"))
	e.unread = unread.New(opts.REST, e.notifications, opts.DB, opts.Bus, opts.Metrics, logger.Named("unread"))
	e.stream = stream.New(e.prefs, e.unread, opts.Player, opts.Bus, logger.Named("stream"))
	e.sender = outbox.NewSender(opts.DB, e.chat, opts.Bus, logger.Named("outbox"))
	e.drainer = outbox.NewDrainer(opts.DB, e.unread, e.notifications.Connected, opts.Bus, opts.Metrics, logger.Named("receipts"))
	return e
}

// Start signs the engine in as s. It loads preferences, attaches listeners
// and connects both channels concurrently. Connection failures are absorbed
// into channel state; only a missing credential is returned.
func (e *Engine) Start(ctx context.Context, s Session) error {
	if s.Credential == "" {
		return &realtime.NoCredentialError{Channel: realtime.Chat}
	}

	e.mu.Lock()
	if e.running && e.session == s {
		e.mu.Unlock()
		return nil
	}
	restart := e.running
	e.mu.Unlock()
	if restart {
		e.logger.Info("session changed, restarting")
		e.Stop()
	}

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.session = s
	e.running = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	sessCtx := e.ctx
	e.mu.Unlock()

	if reset, err := e.checkpoints.Claim(s.UserID); err != nil {
		e.logger.Warn("session ownership check failed", zap.Error(err))
	} else if reset {
		e.logger.Info("dropped data stored for the previous user")
	}
	if err := e.sender.Recover(); err != nil {
		e.logger.Warn("outbox recovery failed", zap.Error(err))
	}
	e.rest.SetToken(s.Credential)
	e.stream.SetSelf(s.UserID)
	if err := e.prefs.Load(ctx); err != nil {
		e.logger.Warn("preferences unavailable, notifications suppressed", zap.Error(err))
	}
	if !e.current(gen) {
		return nil
	}

	e.attach(gen)
	e.drainer.Start(sessCtx)
	e.bus.Emit(bus.KindSessionStarted, s.UserID)
	e.logger.Info("session started", zap.String("user", s.UserID))

	var wg gosync.WaitGroup
	var chatErr, notifErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		chatErr = e.chat.Connect(ctx, s.Credential)
	}()
	go func() {
		defer wg.Done()
		notifErr = e.notifications.Connect(ctx, s.Credential)
	}()
	wg.Wait()

	if chatErr != nil {
		e.logger.Warn("chat channel failed to connect", zap.Error(chatErr))
	}
	if notifErr != nil {
		e.logger.Warn("notifications channel failed to connect, fetching events over REST", zap.Error(notifErr))
		e.async(gen, func(ctx context.Context) {
			e.unread.FetchEvents(ctx)
		})
	}
	return nil
}

// Stop signs the engine out. Listeners are detached before the transports
// close, and every cache is reset afterwards. Stopping an idle engine is a
// no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.gen++
	e.running = false
	user := e.session.UserID
	e.session = Session{}
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	e.subs.Close()
	cancel()
	e.drainer.Stop()
	e.chat.Disconnect()
	e.notifications.Disconnect()
	e.wg.Wait()

	e.rooms.Reset()
	e.presence.Reset()
	e.unread.Reset()
	e.stream.Reset()
	e.prefs.Reset()
	e.rest.SetToken("")

	e.bus.Emit(bus.KindSessionStopped, user)
	e.logger.Info("session stopped", zap.String("user", user))
}

// Logout stops the session and drops everything stored for its user.
func (e *Engine) Logout() error {
	e.Stop()
	if err := e.db.ResetSessionData(); err != nil {
		return fmt.Errorf("reset session data: %w", err)
	}
	return nil
}

func (e *Engine) attach(gen uint64) {
	e.subs.Add(
		e.chat.OnStateChange(func(c status.Change) { e.onChatState(gen, c) }),
		e.chat.On(stream.EventNewMessage, e.stream.HandleMessage),
		e.chat.On(stream.EventNewChatRoom, func(data json.RawMessage) {
			id, ok := e.stream.HandleNewChatRoom(data)
			if !ok {
				return
			}
			e.async(gen, func(ctx context.Context) {
				if err := e.rooms.Join(ctx, id); err != nil {
					e.logger.Warn("join of new room failed", zap.String("room", id), zap.Error(err))
				}
			})
		}),
		e.chat.On(stream.EventRemovedFromChatRoom, func(data json.RawMessage) {
			if id, ok := e.stream.HandleRemovedFromChatRoom(data); ok {
				e.rooms.Forget(id)
			}
		}),
		e.chat.On(rooms.EventRoomsRestored, func(data json.RawMessage) {
			var ids []string
			if err := json.Unmarshal(data, &ids); err != nil {
				e.logger.Warn("dropping malformed roomsRestored", zap.Error(err))
				return
			}
			e.rooms.HandleRestored(ids)
		}),
		e.chat.On(presence.EventUserOnline, func(data json.RawMessage) {
			if u, ok := e.decodeUser(data); ok {
				e.presence.HandleOnline(u.UserID)
			}
		}),
		e.chat.On(presence.EventUserOffline, func(data json.RawMessage) {
			if u, ok := e.decodeUser(data); ok {
				e.presence.HandleOffline(u.UserID)
			}
		}),
		e.notifications.OnStateChange(func(c status.Change) { e.onNotificationsState(gen, c) }),
		e.notifications.On(stream.EventStatusUpdate, func(data json.RawMessage) {
			e.stream.HandleStatusUpdate(data)
		}),
	)
}

func (e *Engine) decodeUser(data json.RawMessage) (presence.UserEvent, bool) {
	var u presence.UserEvent
	if err := json.Unmarshal(data, &u); err != nil || u.UserID == "" {
		e.logger.Warn("dropping malformed presence event", zap.ByteString("data", data))
		return u, false
	}
	return u, true
}

func (e *Engine) onChatState(gen uint64, c status.Change) {
	switch {
	case c.To == status.Connected:
		e.async(gen, func(ctx context.Context) { e.resync(ctx, gen) })
	case c.From == status.Connected:
		e.rooms.Suspend()
		e.presence.Reset()
	}
}

func (e *Engine) onNotificationsState(gen uint64, c status.Change) {
	if c.To != status.Connected {
		return
	}
	e.async(gen, func(ctx context.Context) {
		// Queued receipts go out before the refetch.
		e.drainer.Drain(ctx)
		if e.current(gen) {
			e.unread.FetchEvents(ctx)
		}
	})
}

// resync refreshes the room list and restores every membership in one
// batched join, then seeds presence. A room list fetched from the server
// replaces the known set; without one the known set is rejoined as is.
func (e *Engine) resync(ctx context.Context, gen uint64) {
	e.reloadPrefs(ctx)

	list, err := e.rest.Rooms(ctx)
	if err != nil {
		e.logger.Warn("room list refresh failed", zap.Error(err))
	} else if e.current(gen) {
		e.unread.LoadRooms(ctx, list)
	}
	if !e.current(gen) {
		return
	}

	var res rooms.JoinResult
	if err != nil {
		res, err = e.rooms.Restore(ctx)
	} else {
		ids := make([]string, 0, len(list))
		for _, r := range list {
			ids = append(ids, r.RoomID)
		}
		res, err = e.rooms.Replace(ctx, ids)
	}
	if err != nil {
		e.logger.Warn("room join failed", zap.Error(err))
	} else if len(res.Failed) > 0 {
		e.logger.Warn("some rooms could not be joined", zap.Strings("rooms", res.Failed))
	}
	if !e.current(gen) {
		return
	}
	e.presence.Seed(ctx)

	cp := Checkpoint{At: time.Now(), Rooms: len(e.rooms.Known()), Joined: len(e.rooms.Joined()), Failed: res.Failed}
	if err := e.checkpoints.Save(cp); err != nil {
		e.logger.Warn("failed to save resync checkpoint", zap.Error(err))
	}
}

// reloadPrefs retries the server copy of the preferences when the session
// runs without them or on a cached copy.
func (e *Engine) reloadPrefs(ctx context.Context) {
	if e.prefs.Source() == "server" {
		return
	}
	if err := e.prefs.Load(ctx); err != nil {
		e.logger.Warn("preferences still unavailable", zap.Error(err))
		return
	}
	e.logger.Info("preferences reloaded", zap.String("source", e.prefs.Source()))
}

// async runs fn on its own goroutine with the session context, unless the
// session of gen has ended.
func (e *Engine) async(gen uint64, fn func(ctx context.Context)) {
	e.mu.Lock()
	if !e.running || e.gen != gen {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		fn(ctx)
	}()
}

func (e *Engine) current(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running && e.gen == gen
}

func (e *Engine) active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}
