package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/teamsync/internal/rest"
	"github.com/matheus3301/teamsync/internal/store"
	intsync "github.com/matheus3301/teamsync/internal/sync"
	"github.com/matheus3301/teamsync/internal/unread"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ChannelView is the state of one realtime channel.
type ChannelView struct {
	State string    `json:"state"`
	Since time.Time `json:"since"`
}

// StatusView is the daemon status returned by GetStatus and Login.
type StatusView struct {
	Session        string      `json:"session"`
	Running        bool        `json:"running"`
	UserID         string      `json:"user_id,omitempty"`
	Connected      bool        `json:"connected"`
	Chat           ChannelView `json:"chat"`
	Notifications  ChannelView `json:"notifications"`
	KnownRooms     int         `json:"known_rooms"`
	JoinedRooms    int         `json:"joined_rooms"`
	TotalUnread    int         `json:"total_unread"`
	UnreadEvents   int         `json:"unread_events"`
	OnlineUsers    int         `json:"online_users"`
	ActiveRoom     string      `json:"active_room,omitempty"`
	PrefsSource    string      `json:"prefs_source,omitempty"`
	QueuedReceipts int         `json:"queued_receipts"`
	LastResync     *time.Time  `json:"last_resync,omitempty"`
	FailedRooms    []string    `json:"failed_rooms,omitempty"`
	UptimeMs       int64       `json:"uptime_ms"`
}

// LastMessageView is the newest message of a room.
type LastMessageView struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomView is one room with its unread count and mute state.
type RoomView struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Unread        int              `json:"unread"`
	Muted         bool             `json:"muted"`
	MuteExpiresAt *time.Time       `json:"mute_expires_at,omitempty"`
	LastMessage   *LastMessageView `json:"last_message,omitempty"`
}

// EventView is one unread event notification.
type EventView struct {
	EventID   string `json:"event_id"`
	EventName string `json:"event_name"`
	Status    string `json:"status"`
	Read      bool   `json:"read"`
}

// EventsView is the result of ListUnreadEvents.
type EventsView struct {
	Count  int         `json:"count"`
	Source string      `json:"source,omitempty"`
	Events []EventView `json:"events"`
}

// OutboxView is the delivery state of an outgoing message.
type OutboxView struct {
	ClientMsgID string `json:"client_msg_id"`
	RoomID      string `json:"room_id"`
	Body        string `json:"body"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	ServerMsgID string `json:"server_msg_id,omitempty"`
	Attempts    int    `json:"attempts"`
}

// PreferencesView is the notification preference object.
type PreferencesView = rest.Preferences

// WatchEvent is one bus event streamed by WatchEvents. Seq is the bus
// sequence number; with an empty prefix a jump means events were missed.
type WatchEvent struct {
	ID         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	Session    string          `json:"session"`
	Kind       string          `json:"kind"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type loginRequest struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

type sendRequest struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
}

type typingRequest struct {
	RoomID string `json:"room_id"`
	Typing bool   `json:"typing"`
}

type subscriptionRequest struct {
	EventID    string `json:"event_id"`
	Subscribed bool   `json:"subscribed"`
}

type muteRequest struct {
	RoomID   string `json:"room_id"`
	Duration string `json:"duration"`
}

type markAllRequest struct {
	EventIDs []string `json:"event_ids"`
}

type roomsResponse struct {
	Rooms []RoomView `json:"rooms"`
}

type failedResponse struct {
	Messages []OutboxView `json:"messages"`
}

type onlineResponse struct {
	Users []string `json:"users"`
}

func statusView(session string, uptime time.Duration, connected bool, st intsync.Status) StatusView {
	v := StatusView{
		Session:        session,
		Running:        st.Running,
		UserID:         st.UserID,
		Connected:      connected,
		Chat:           ChannelView{State: string(st.Chat.State), Since: st.Chat.Since},
		Notifications:  ChannelView{State: string(st.Notifications.State), Since: st.Notifications.Since},
		KnownRooms:     st.KnownRooms,
		JoinedRooms:    st.JoinedRooms,
		TotalUnread:    st.TotalUnread,
		UnreadEvents:   st.UnreadEvents,
		OnlineUsers:    st.OnlineUsers,
		ActiveRoom:     st.ActiveRoom,
		PrefsSource:    st.PrefsSource,
		QueuedReceipts: st.QueuedReceipts,
		UptimeMs:       uptime.Milliseconds(),
	}
	if st.LastResync != nil {
		at := st.LastResync.At
		v.LastResync = &at
		v.FailedRooms = st.LastResync.Failed
	}
	return v
}

func roomView(r unread.RoomState, mute *rest.MutedRoom) RoomView {
	v := RoomView{ID: r.RoomID, Name: r.Name, Unread: r.UnreadCount}
	if mute != nil {
		v.Muted = true
		v.MuteExpiresAt = mute.MuteExpiresAt
	}
	if m := r.LastMessage; m != nil {
		v.LastMessage = &LastMessageView{ID: m.ID, SenderID: m.SenderID, Body: m.Body, CreatedAt: m.CreatedAt}
	}
	return v
}

func eventViews(events []unread.EventNotification) []EventView {
	out := make([]EventView, 0, len(events))
	for _, e := range events {
		out = append(out, EventView{EventID: e.EventID, EventName: e.EventName, Status: e.Status, Read: e.Read})
	}
	return out
}

func outboxView(e store.OutboxEntry) OutboxView {
	return OutboxView{
		ClientMsgID: e.ClientMsgID,
		RoomID:      e.RoomID,
		Body:        e.Body,
		Status:      e.Status,
		Error:       e.ErrorMessage,
		ServerMsgID: e.ServerMsgID,
		Attempts:    e.Attempts,
	}
}

// toStruct converts a JSON-tagged Go value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("convert %T: %w", v, err)
	}
	return s, nil
}

// fromStruct decodes a Struct into a JSON-tagged Go value.
func fromStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
