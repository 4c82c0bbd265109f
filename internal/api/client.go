package api

import (
	"context"
	"fmt"

	"github.com/matheus3301/teamsync/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a typed client for the Control service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon listening on the unix socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, in, out proto.Message) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out)
}

// call invokes a Struct-returning method and decodes the reply into out.
func (c *Client) call(ctx context.Context, method string, in proto.Message, out any) error {
	reply := &structpb.Struct{}
	if err := c.invoke(ctx, method, in, reply); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return fromStruct(reply, out)
}

func (c *Client) Status(ctx context.Context) (StatusView, error) {
	var v StatusView
	err := c.call(ctx, "GetStatus", &emptypb.Empty{}, &v)
	return v, err
}

func (c *Client) Login(ctx context.Context, userID, token string) (StatusView, error) {
	req, err := toStruct(loginRequest{UserID: userID, Token: token})
	if err != nil {
		return StatusView{}, err
	}
	var v StatusView
	err = c.call(ctx, "Login", req, &v)
	return v, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.invoke(ctx, "Logout", &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) Rooms(ctx context.Context) ([]RoomView, error) {
	var resp roomsResponse
	err := c.call(ctx, "ListRooms", &emptypb.Empty{}, &resp)
	return resp.Rooms, err
}

func (c *Client) SetActiveRoom(ctx context.Context, roomID string) error {
	return c.invoke(ctx, "SetActiveRoom", wrapperspb.String(roomID), &emptypb.Empty{})
}

func (c *Client) MarkRoomRead(ctx context.Context, roomID string) (bool, error) {
	out := &wrapperspb.BoolValue{}
	err := c.invoke(ctx, "MarkRoomRead", wrapperspb.String(roomID), out)
	return out.GetValue(), err
}

func (c *Client) SendMessage(ctx context.Context, roomID, text string) (OutboxView, error) {
	req, err := toStruct(sendRequest{RoomID: roomID, Text: text})
	if err != nil {
		return OutboxView{}, err
	}
	var v OutboxView
	err = c.call(ctx, "SendMessage", req, &v)
	return v, err
}

func (c *Client) RetryMessage(ctx context.Context, clientMsgID string) (OutboxView, error) {
	var v OutboxView
	err := c.call(ctx, "RetryMessage", wrapperspb.String(clientMsgID), &v)
	return v, err
}

func (c *Client) FailedMessages(ctx context.Context) ([]OutboxView, error) {
	var resp failedResponse
	err := c.call(ctx, "ListFailedMessages", &emptypb.Empty{}, &resp)
	return resp.Messages, err
}

func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool) error {
	req, err := toStruct(typingRequest{RoomID: roomID, Typing: typing})
	if err != nil {
		return err
	}
	return c.invoke(ctx, "SetTyping", req, &emptypb.Empty{})
}

func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.invoke(ctx, "JoinRoom", wrapperspb.String(roomID), &emptypb.Empty{})
}

func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.invoke(ctx, "LeaveRoom", wrapperspb.String(roomID), &emptypb.Empty{})
}

// SetEventSubscription subscribes to or unsubscribes from status pushes for eventID.
func (c *Client) SetEventSubscription(ctx context.Context, eventID string, subscribed bool) error {
	req, err := toStruct(subscriptionRequest{EventID: eventID, Subscribed: subscribed})
	if err != nil {
		return err
	}
	return c.invoke(ctx, "SetEventSubscription", req, &emptypb.Empty{})
}

// MuteRoom mutes a room for one of the preset durations.
func (c *Client) MuteRoom(ctx context.Context, roomID, duration string) (PreferencesView, error) {
	req, err := toStruct(muteRequest{RoomID: roomID, Duration: duration})
	if err != nil {
		return PreferencesView{}, err
	}
	var v PreferencesView
	err = c.call(ctx, "MuteRoom", req, &v)
	return v, err
}

func (c *Client) UnmuteRoom(ctx context.Context, roomID string) (PreferencesView, error) {
	return c.prefsCall(ctx, "UnmuteRoom", roomID)
}

func (c *Client) MuteEvent(ctx context.Context, eventID string) (PreferencesView, error) {
	return c.prefsCall(ctx, "MuteEvent", eventID)
}

func (c *Client) UnmuteEvent(ctx context.Context, eventID string) (PreferencesView, error) {
	return c.prefsCall(ctx, "UnmuteEvent", eventID)
}

func (c *Client) Preferences(ctx context.Context) (PreferencesView, error) {
	var v PreferencesView
	err := c.call(ctx, "GetPreferences", &emptypb.Empty{}, &v)
	return v, err
}

func (c *Client) UpdatePreferences(ctx context.Context, p PreferencesView) (PreferencesView, error) {
	req, err := toStruct(p)
	if err != nil {
		return PreferencesView{}, err
	}
	var v PreferencesView
	err = c.call(ctx, "UpdatePreferences", req, &v)
	return v, err
}

func (c *Client) prefsCall(ctx context.Context, method, id string) (PreferencesView, error) {
	var v PreferencesView
	err := c.call(ctx, method, wrapperspb.String(id), &v)
	return v, err
}

// UnreadEvents lists unread event notifications. With refresh set the
// daemon fetches the list from the server first.
func (c *Client) UnreadEvents(ctx context.Context, refresh bool) (EventsView, error) {
	var v EventsView
	err := c.call(ctx, "ListUnreadEvents", wrapperspb.Bool(refresh), &v)
	return v, err
}

func (c *Client) MarkEventRead(ctx context.Context, eventID string) error {
	return c.invoke(ctx, "MarkEventRead", wrapperspb.String(eventID), &emptypb.Empty{})
}

// MarkAllEventsRead marks the given events read, or every unread event
// when ids is empty.
func (c *Client) MarkAllEventsRead(ctx context.Context, ids []string) (int, error) {
	req, err := toStruct(markAllRequest{EventIDs: ids})
	if err != nil {
		return 0, err
	}
	out := &wrapperspb.Int64Value{}
	if err := c.invoke(ctx, "MarkAllEventsRead", req, out); err != nil {
		return 0, err
	}
	return int(out.GetValue()), nil
}

func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	var resp onlineResponse
	err := c.call(ctx, "ListOnlineUsers", &emptypb.Empty{}, &resp)
	return resp.Users, err
}

// EventStream receives events from WatchEvents.
type EventStream struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event.
func (s *EventStream) Recv() (WatchEvent, error) {
	msg := &structpb.Struct{}
	if err := s.stream.RecvMsg(msg); err != nil {
		return WatchEvent{}, err
	}
	var evt WatchEvent
	if err := fromStruct(msg, &evt); err != nil {
		return WatchEvent{}, fmt.Errorf("decode event: %w", err)
	}
	return evt, nil
}

// Watch streams daemon events whose kind starts with prefix until ctx is
// cancelled.
func (c *Client) Watch(ctx context.Context, prefix string) (*EventStream, error) {
	stream, err := c.conn.NewStream(ctx, &ControlServiceDesc.Streams[0], fullMethod("WatchEvents"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.String(prefix)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &EventStream{stream: stream}, nil
}

// OutboxStatus values as reported in OutboxView.Status.
const (
	OutboxQueued  = store.OutboxQueued
	OutboxSending = store.OutboxSending
	OutboxSent    = store.OutboxSent
	OutboxFailed  = store.OutboxFailed
)
