// Package stream applies inbound chat and notification frames to local state.
package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/chime"
	"github.com/matheus3301/teamsync/internal/logging"
	"github.com/matheus3301/teamsync/internal/prefs"
	"github.com/matheus3301/teamsync/internal/rest"
	"github.com/matheus3301/teamsync/internal/unread"
	"go.uber.org/zap"
)

// Server events handled here.
const (
	EventNewMessage          = "newMessage"
	EventNewChatRoom         = "newChatRoom"
	EventRemovedFromChatRoom = "removedFromChatRoom"
	EventStatusUpdate        = "statusUpdate"
)

// Sender identifies the author of a message.
type Sender struct {
	ID   string `json:"_id"`
	Name string `json:"username,omitempty"`
}

// Message is a chat message as pushed by the server.
type Message struct {
	ID          string    `json:"_id"`
	ClientMsgID string    `json:"clientMsgId,omitempty"`
	RoomID      string    `json:"roomId"`
	Sender      Sender    `json:"sender"`
	Body        string    `json:"message"`
	CreatedAt   time.Time `json:"createdAt"`
}

// StatusUpdate is the payload of statusUpdate.
type StatusUpdate struct {
	UserID    string `json:"userId"`
	EventID   string `json:"eventId"`
	EventName string `json:"eventName"`
	NewStatus string `json:"newStatus"`
}

type newChatRoom struct {
	UserID   string    `json:"userId"`
	ChatRoom rest.Room `json:"chatRoom"`
}

type removedFromChatRoom struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// Gate answers whether a notification should surface.
type Gate interface {
	ShouldNotify(kind prefs.Kind, roomID, eventID string) bool
}

// Ledger is the unread state the handler updates.
type Ledger interface {
	Increment(roomID string) bool
	SetLastMessage(roomID string, msg unread.LastMessage)
	Room(roomID string) (unread.RoomState, bool)
	AddRoom(roomID, name string)
	RemoveRoom(roomID string)
	UpsertEvent(eventID, eventName, status string)
}

// Outcome describes what a message did to local state.
type Outcome struct {
	Counted bool
	Reason  string
}

// Reasons a message was not counted.
const (
	ReasonSelf    = "self"
	ReasonActive  = "active_room"
	ReasonMuted   = "muted"
	ReasonUnknown = "unknown_room"
)

// Handler applies frames in the order the transport delivers them.
type Handler struct {
	gate   Gate
	ledger Ledger
	player chime.Player
	bus    *bus.Bus
	logger *zap.Logger

	mu         sync.RWMutex
	self       string
	activeRoom string
}

// New creates a handler. A nil player is silent.
func New(gate Gate, ledger Ledger, player chime.Player, eventBus *bus.Bus, logger *zap.Logger) *Handler {
	if player == nil {
		player = chime.Nop{}
	}
	return &Handler{
		gate:   gate,
		ledger: ledger,
		player: player,
		bus:    eventBus,
		logger: logging.OrNop(logger),
	}
}

// SetSelf sets the local user id used for echo suppression.
func (h *Handler) SetSelf(userID string) {
	h.mu.Lock()
	h.self = userID
	h.mu.Unlock()
}

// SetActiveRoom marks roomID as the room the user is viewing. An empty id
// clears it.
func (h *Handler) SetActiveRoom(roomID string) {
	h.mu.Lock()
	h.activeRoom = roomID
	h.mu.Unlock()
}

// ActiveRoom returns the room the user is viewing.
func (h *Handler) ActiveRoom() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.activeRoom
}

// Reset forgets the local user and active room.
func (h *Handler) Reset() {
	h.mu.Lock()
	h.self = ""
	h.activeRoom = ""
	h.mu.Unlock()
}

// HandleMessage decodes and applies a newMessage frame.
func (h *Handler) HandleMessage(data json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("dropping malformed message", zap.Error(err))
		return
	}
	h.Apply(msg)
}

// Apply records msg as its room's last message and publishes it. The room's
// unread count grows only for messages from other users, outside the active
// room, that the preferences let through.
func (h *Handler) Apply(msg Message) Outcome {
	h.mu.RLock()
	self, active := h.self, h.activeRoom
	h.mu.RUnlock()

	h.ledger.SetLastMessage(msg.RoomID, unread.LastMessage{
		ID:        msg.ID,
		SenderID:  msg.Sender.ID,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	})
	h.bus.Emit(bus.KindMessageReceived, msg)

	out := h.count(msg, self, active)
	h.logger.Debug("message applied",
		zap.String("room", msg.RoomID),
		zap.Bool("counted", out.Counted),
		zap.String("reason", out.Reason),
	)
	return out
}

func (h *Handler) count(msg Message, self, active string) Outcome {
	switch {
	case self != "" && msg.Sender.ID == self:
		return Outcome{Reason: ReasonSelf}
	case msg.RoomID == active:
		return Outcome{Reason: ReasonActive}
	case !h.gate.ShouldNotify(prefs.ChatMessages, msg.RoomID, ""):
		return Outcome{Reason: ReasonMuted}
	}
	if !h.ledger.Increment(msg.RoomID) {
		return Outcome{Reason: ReasonUnknown}
	}
	title := "New message"
	if room, ok := h.ledger.Room(msg.RoomID); ok && room.Name != "" {
		title = room.Name
	}
	body := msg.Body
	if msg.Sender.Name != "" {
		body = msg.Sender.Name + ": " + body
	}
	h.player.Play(title, body)
	return Outcome{Counted: true}
}

// HandleStatusUpdate applies a statusUpdate frame addressed to the local
// user. It reports whether the event list changed.
func (h *Handler) HandleStatusUpdate(data json.RawMessage) bool {
	var u StatusUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		h.logger.Warn("dropping malformed status update", zap.Error(err))
		return false
	}
	if !h.isSelf(u.UserID) || u.EventID == "" {
		return false
	}
	if !h.gate.ShouldNotify(prefs.EventStatusUpdates, "", u.EventID) {
		return false
	}
	h.player.Play(u.EventName, "Status: "+u.NewStatus)
	h.ledger.UpsertEvent(u.EventID, u.EventName, u.NewStatus)
	return true
}

// HandleNewChatRoom adds a room the local user was added to and returns its
// id so the caller can join it.
func (h *Handler) HandleNewChatRoom(data json.RawMessage) (string, bool) {
	var p newChatRoom
	if err := json.Unmarshal(data, &p); err != nil {
		h.logger.Warn("dropping malformed newChatRoom", zap.Error(err))
		return "", false
	}
	if !h.isSelf(p.UserID) || p.ChatRoom.RoomID == "" {
		return "", false
	}
	h.ledger.AddRoom(p.ChatRoom.RoomID, p.ChatRoom.Name)
	h.logger.Info("added to chat room", zap.String("room", p.ChatRoom.RoomID))
	return p.ChatRoom.RoomID, true
}

// HandleRemovedFromChatRoom drops a room the local user was removed from and
// returns its id.
func (h *Handler) HandleRemovedFromChatRoom(data json.RawMessage) (string, bool) {
	var p removedFromChatRoom
	if err := json.Unmarshal(data, &p); err != nil {
		h.logger.Warn("dropping malformed removedFromChatRoom", zap.Error(err))
		return "", false
	}
	if !h.isSelf(p.UserID) || p.RoomID == "" {
		return "", false
	}
	h.ledger.RemoveRoom(p.RoomID)
	h.mu.Lock()
	if h.activeRoom == p.RoomID {
		h.activeRoom = ""
	}
	h.mu.Unlock()
	h.logger.Info("removed from chat room", zap.String("room", p.RoomID))
	return p.RoomID, true
}

func (h *Handler) isSelf(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.self != "" && userID == h.self
}
