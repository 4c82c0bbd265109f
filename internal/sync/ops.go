package sync

import (
	"context"
	"time"

	"github.com/matheus3301/teamsync/internal/prefs"
	"github.com/matheus3301/teamsync/internal/rest"
	"github.com/matheus3301/teamsync/internal/rooms"
	"github.com/matheus3301/teamsync/internal/status"
	"github.com/matheus3301/teamsync/internal/store"
	"github.com/matheus3301/teamsync/internal/unread"
)

// ChannelStatus is the connection state of one channel.
type ChannelStatus struct {
	State status.State
	Since time.Time
}

// Status is a point-in-time snapshot of the engine for display.
type Status struct {
	Running        bool
	UserID         string
	Chat           ChannelStatus
	Notifications  ChannelStatus
	KnownRooms     int
	JoinedRooms    int
	TotalUnread    int
	UnreadEvents   int
	OnlineUsers    int
	ActiveRoom     string
	PrefsSource    string
	QueuedReceipts int
	LastResync     *Checkpoint
}

// IsConnected reports whether both channels are connected.
func (e *Engine) IsConnected() bool {
	return e.chat.Connected() && e.notifications.Connected()
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{Running: e.running, UserID: e.session.UserID}
	e.mu.Unlock()

	st.Chat = ChannelStatus{State: e.chat.State(), Since: e.chat.Since()}
	st.Notifications = ChannelStatus{State: e.notifications.State(), Since: e.notifications.Since()}
	st.KnownRooms = len(e.rooms.Known())
	st.JoinedRooms = len(e.rooms.Joined())
	st.TotalUnread = e.unread.TotalUnread()
	st.UnreadEvents = e.unread.EventCount()
	st.OnlineUsers = e.presence.Count()
	st.ActiveRoom = e.stream.ActiveRoom()
	st.PrefsSource = e.prefs.Source()
	if n, err := e.db.ReceiptCount(); err == nil {
		st.QueuedReceipts = n
	}
	if cp, err := e.checkpoints.Last(); err == nil {
		st.LastResync = cp
	}
	return st
}

// Rooms returns the room list with unread counts.
func (e *Engine) Rooms() []unread.RoomState {
	return e.unread.Rooms()
}

// Memberships returns the rooms joined on the current chat connection.
func (e *Engine) Memberships() []rooms.Membership {
	return e.rooms.Joined()
}

// Online returns the online user ids, sorted.
func (e *Engine) Online() []string {
	return e.presence.Online()
}

// Events returns the unread event notifications.
func (e *Engine) Events() []unread.EventNotification {
	return e.unread.Events()
}

// Preferences returns the loaded notification preferences.
func (e *Engine) Preferences() (prefs.Preferences, bool) {
	return e.prefs.Snapshot()
}

// RoomMute returns the active mute on roomID, if any.
func (e *Engine) RoomMute(roomID string) (rest.MutedRoom, bool) {
	return e.prefs.RoomMute(roomID)
}

// SetActiveRoom marks roomID as the room being viewed and clears its unread
// count. An empty id clears the active room.
func (e *Engine) SetActiveRoom(roomID string) error {
	if !e.active() {
		return ErrNoSession
	}
	e.stream.SetActiveRoom(roomID)
	if roomID != "" {
		e.unread.MarkRoomRead(roomID)
	}
	return nil
}

// MarkRoomRead clears the unread count of roomID. It reports whether the room
// is known.
func (e *Engine) MarkRoomRead(roomID string) (bool, error) {
	if !e.active() {
		return false, ErrNoSession
	}
	return e.unread.MarkRoomRead(roomID), nil
}

// SendMessage sends text to roomID through the outbox.
func (e *Engine) SendMessage(ctx context.Context, roomID, text string) (store.OutboxEntry, error) {
	if !e.active() {
		return store.OutboxEntry{}, ErrNoSession
	}
	return e.sender.Send(ctx, roomID, text)
}

// RetryMessage resends a failed message under its original client id.
func (e *Engine) RetryMessage(ctx context.Context, clientMsgID string) (store.OutboxEntry, error) {
	if !e.active() {
		return store.OutboxEntry{}, ErrNoSession
	}
	return e.sender.Retry(ctx, clientMsgID)
}

// FailedMessages lists messages waiting for a retry.
func (e *Engine) FailedMessages() ([]store.OutboxEntry, error) {
	return e.sender.Failed()
}

// SendTyping tells roomID the local user is typing.
func (e *Engine) SendTyping(ctx context.Context, roomID string) error {
	return e.chat.Send(ctx, EventTyping, roomID)
}

// SendStopTyping tells roomID the local user stopped typing.
func (e *Engine) SendStopTyping(ctx context.Context, roomID string) error {
	return e.chat.Send(ctx, EventStopTyping, roomID)
}

// SubscribeToEvent asks for status pushes about eventID.
func (e *Engine) SubscribeToEvent(ctx context.Context, eventID string) error {
	return e.notifications.Send(ctx, EventSubscribeToEvent, eventID)
}

// UnsubscribeFromEvent stops status pushes about eventID.
func (e *Engine) UnsubscribeFromEvent(ctx context.Context, eventID string) error {
	return e.notifications.Send(ctx, EventUnsubscribeFromEvent, eventID)
}

// JoinRoom joins a single room on the chat channel.
func (e *Engine) JoinRoom(ctx context.Context, roomID string) error {
	if !e.active() {
		return ErrNoSession
	}
	return e.rooms.Join(ctx, roomID)
}

// LeaveRoom leaves a joined room.
func (e *Engine) LeaveRoom(ctx context.Context, roomID string) error {
	if !e.active() {
		return ErrNoSession
	}
	return e.rooms.Leave(ctx, roomID)
}

// MuteRoom mutes chat notifications for roomID for d.
func (e *Engine) MuteRoom(ctx context.Context, roomID string, d prefs.MuteDuration) (prefs.Preferences, error) {
	if !e.active() {
		return prefs.Preferences{}, ErrNoSession
	}
	return e.prefs.MuteRoomFor(ctx, roomID, d)
}

// UnmuteRoom removes the mute on roomID.
func (e *Engine) UnmuteRoom(ctx context.Context, roomID string) (prefs.Preferences, error) {
	if !e.active() {
		return prefs.Preferences{}, ErrNoSession
	}
	return e.prefs.UnmuteRoom(ctx, roomID)
}

// MuteEvent mutes status notifications for eventID.
func (e *Engine) MuteEvent(ctx context.Context, eventID string) (prefs.Preferences, error) {
	if !e.active() {
		return prefs.Preferences{}, ErrNoSession
	}
	return e.prefs.MuteEvent(ctx, eventID)
}

// UnmuteEvent removes the mute on eventID.
func (e *Engine) UnmuteEvent(ctx context.Context, eventID string) (prefs.Preferences, error) {
	if !e.active() {
		return prefs.Preferences{}, ErrNoSession
	}
	return e.prefs.UnmuteEvent(ctx, eventID)
}

// UpdatePreferences replaces the notification preferences.
func (e *Engine) UpdatePreferences(ctx context.Context, p prefs.Preferences) (prefs.Preferences, error) {
	if !e.active() {
		return prefs.Preferences{}, ErrNoSession
	}
	return e.prefs.Update(ctx, p)
}

// FetchEvents refreshes the unread event notifications.
func (e *Engine) FetchEvents(ctx context.Context) (unread.Summary, error) {
	if !e.active() {
		return unread.Summary{}, ErrNoSession
	}
	return e.unread.FetchEvents(ctx), nil
}

// MarkEventRead marks eventID read. A failed delivery is queued for retry.
func (e *Engine) MarkEventRead(ctx context.Context, eventID string) error {
	if !e.active() {
		return ErrNoSession
	}
	err := e.unread.MarkEventRead(ctx, eventID)
	if err != nil {
		e.drainer.Nudge()
	}
	return err
}

// MarkAllEventsRead marks eventIDs read, or every unread event when eventIDs
// is empty.
func (e *Engine) MarkAllEventsRead(ctx context.Context, eventIDs []string) (int, error) {
	if !e.active() {
		return 0, ErrNoSession
	}
	return e.unread.MarkAllEventsRead(ctx, eventIDs)
}
