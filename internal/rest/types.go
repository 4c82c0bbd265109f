package rest

import "time"

// Room is one entry of the chat room list.
type Room struct {
	RoomID      string `json:"roomId"`
	Name        string `json:"name"`
	UnreadCount *int   `json:"unreadCount,omitempty"`
}

type roomsResponse struct {
	ChatRooms []Room `json:"chatRooms"`
}

// UnreadCount is the unread message count of one room.
type UnreadCount struct {
	RoomID string `json:"roomId"`
	Count  int    `json:"count"`
}

type batchUnreadRequest struct {
	RoomIDs []string `json:"roomIds"`
}

type batchUnreadResponse struct {
	Counts []UnreadCount `json:"counts"`
}

type roomUnreadResponse struct {
	UnreadCount int `json:"unreadCount"`
}

// MutedRoom is a per-room chat mute. A nil MuteExpiresAt mutes permanently.
type MutedRoom struct {
	ChatRoomID    string     `json:"chatRoomId"`
	MuteExpiresAt *time.Time `json:"muteExpiresAt"`
}

// MutedEvent is a per-event mute. Event mutes never expire.
type MutedEvent struct {
	EventID string `json:"eventId"`
}

// Preferences is the server's notification preference object.
type Preferences struct {
	EventStatusUpdates bool         `json:"eventStatusUpdates"`
	ChatMessages       bool         `json:"chatMessages"`
	EventReminders     bool         `json:"eventReminders"`
	NewEventInArea     bool         `json:"newEventInArea"`
	MutedChatRooms     []MutedRoom  `json:"mutedChatRooms"`
	MutedEvents        []MutedEvent `json:"mutedEvents"`
}

type preferencesEnvelope struct {
	Preferences *Preferences `json:"preferences"`
}

type muteRoomRequest struct {
	MuteExpiresAt *time.Time `json:"muteExpiresAt"`
}

// EventRef identifies the event an unread notification is about.
type EventRef struct {
	ID        string `json:"_id"`
	EventName string `json:"eventName"`
}

// Notification is one unread event-status notification as the server
// encodes it, over both REST and the notifications channel.
type Notification struct {
	EventID EventRef `json:"eventID"`
	Status  string   `json:"status"`
	ReadBy  bool     `json:"readBy"`
}

type unreadNotificationsResponse struct {
	UnreadNotifications []Notification `json:"unreadNotifications"`
}
