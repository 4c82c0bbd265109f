package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/logging"
	"github.com/matheus3301/teamsync/internal/prefs"
	"github.com/matheus3301/teamsync/internal/rest"
	"github.com/matheus3301/teamsync/internal/session"
	"github.com/matheus3301/teamsync/internal/store"
	intsync "github.com/matheus3301/teamsync/internal/sync"
	"github.com/matheus3301/teamsync/internal/unread"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Engine is the part of the sync engine the control service drives.
type Engine interface {
	Start(ctx context.Context, s intsync.Session) error
	Logout() error
	Status() intsync.Status
	IsConnected() bool
	Rooms() []unread.RoomState
	RoomMute(roomID string) (rest.MutedRoom, bool)
	SetActiveRoom(roomID string) error
	MarkRoomRead(roomID string) (bool, error)
	SendMessage(ctx context.Context, roomID, text string) (store.OutboxEntry, error)
	RetryMessage(ctx context.Context, clientMsgID string) (store.OutboxEntry, error)
	FailedMessages() ([]store.OutboxEntry, error)
	SendTyping(ctx context.Context, roomID string) error
	SendStopTyping(ctx context.Context, roomID string) error
	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	SubscribeToEvent(ctx context.Context, eventID string) error
	UnsubscribeFromEvent(ctx context.Context, eventID string) error
	MuteRoom(ctx context.Context, roomID string, d prefs.MuteDuration) (prefs.Preferences, error)
	UnmuteRoom(ctx context.Context, roomID string) (prefs.Preferences, error)
	MuteEvent(ctx context.Context, eventID string) (prefs.Preferences, error)
	UnmuteEvent(ctx context.Context, eventID string) (prefs.Preferences, error)
	Preferences() (prefs.Preferences, bool)
	UpdatePreferences(ctx context.Context, p prefs.Preferences) (prefs.Preferences, error)
	FetchEvents(ctx context.Context) (unread.Summary, error)
	Events() []unread.EventNotification
	MarkEventRead(ctx context.Context, eventID string) error
	MarkAllEventsRead(ctx context.Context, eventIDs []string) (int, error)
	Online() []string
}

// Control implements ControlServer on top of an Engine.
type Control struct {
	engine         Engine
	bus            *bus.Bus
	sessionName    string
	credentialPath string
	startedAt      time.Time
	logger         *zap.Logger
}

// NewControl creates the control service. credentialPath is where Login
// stores the credential so the daemon can resume the session on restart.
func NewControl(engine Engine, b *bus.Bus, sessionName, credentialPath string, logger *zap.Logger) *Control {
	return &Control{
		engine:         engine,
		bus:            b,
		sessionName:    sessionName,
		credentialPath: credentialPath,
		startedAt:      time.Now(),
		logger:         logging.OrNop(logger),
	}
}

func (c *Control) status() (*structpb.Struct, error) {
	v := statusView(c.sessionName, time.Since(c.startedAt), c.engine.IsConnected(), c.engine.Status())
	return toStruct(v)
}

func (c *Control) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return c.status()
}

func (c *Control) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in loginRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "login: %v", err)
	}
	cred := session.Credential{UserID: strings.TrimSpace(in.UserID), Token: strings.TrimSpace(in.Token)}
	if cred.Empty() || cred.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user_id and token are required")
	}
	if c.credentialPath != "" {
		if err := session.SaveCredential(c.credentialPath, cred); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "save credential: %v", err)
		}
	}
	if err := c.engine.Start(ctx, intsync.Session{UserID: cred.UserID, Credential: cred.Token}); err != nil {
		return nil, toStatus(err)
	}
	c.logger.Info("logged in", zap.String("user", cred.UserID), logging.Secret("token", cred.Token))
	return c.status()
}

func (c *Control) Logout(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := c.engine.Logout(); err != nil {
		c.logger.Warn("session data not cleared", zap.Error(err))
	}
	if c.credentialPath != "" {
		if err := session.ClearCredential(c.credentialPath); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "clear credential: %v", err)
		}
	}
	c.logger.Info("logged out")
	return &emptypb.Empty{}, nil
}

func (c *Control) ListRooms(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	list := c.engine.Rooms()
	views := make([]RoomView, 0, len(list))
	for _, r := range list {
		var mute *rest.MutedRoom
		if m, ok := c.engine.RoomMute(r.RoomID); ok {
			mute = &m
		}
		views = append(views, roomView(r, mute))
	}
	return toStruct(roomsResponse{Rooms: views})
}

func (c *Control) SetActiveRoom(_ context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := c.engine.SetActiveRoom(req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (c *Control) MarkRoomRead(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if req.GetValue() == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room id is required")
	}
	ok, err := c.engine.MarkRoomRead(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(ok), nil
}

func (c *Control) SendMessage(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in sendRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "send: %v", err)
	}
	entry, err := c.engine.SendMessage(ctx, in.RoomID, in.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(outboxView(entry))
}

func (c *Control) RetryMessage(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	entry, err := c.engine.RetryMessage(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(outboxView(entry))
}

func (c *Control) ListFailedMessages(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	entries, err := c.engine.FailedMessages()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list failed messages: %v", err)
	}
	views := make([]OutboxView, 0, len(entries))
	for _, e := range entries {
		views = append(views, outboxView(e))
	}
	return toStruct(failedResponse{Messages: views})
}

func (c *Control) SetTyping(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var in typingRequest
	if err := fromStruct(req, &in); err != nil || in.RoomID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room_id is required")
	}
	var err error
	if in.Typing {
		err = c.engine.SendTyping(ctx, in.RoomID)
	} else {
		err = c.engine.SendStopTyping(ctx, in.RoomID)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (c *Control) JoinRoom(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room id is required")
	}
	if err := c.engine.JoinRoom(ctx, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (c *Control) LeaveRoom(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room id is required")
	}
	if err := c.engine.LeaveRoom(ctx, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// SetEventSubscription turns status pushes for one event on or off.
func (c *Control) SetEventSubscription(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var in subscriptionRequest
	if err := fromStruct(req, &in); err != nil || in.EventID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "event_id is required")
	}
	var err error
	if in.Subscribed {
		err = c.engine.SubscribeToEvent(ctx, in.EventID)
	} else {
		err = c.engine.UnsubscribeFromEvent(ctx, in.EventID)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (c *Control) MuteRoom(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in muteRequest
	if err := fromStruct(req, &in); err != nil || in.RoomID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "room_id is required")
	}
	if in.Duration == "" {
		in.Duration = string(prefs.MutePermanent)
	}
	d, err := prefs.ParseMuteDuration(in.Duration)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	return c.prefsResult(c.engine.MuteRoom(ctx, in.RoomID, d))
}

func (c *Control) UnmuteRoom(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return c.prefsResult(c.engine.UnmuteRoom(ctx, req.GetValue()))
}

func (c *Control) MuteEvent(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return c.prefsResult(c.engine.MuteEvent(ctx, req.GetValue()))
}

func (c *Control) UnmuteEvent(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	return c.prefsResult(c.engine.UnmuteEvent(ctx, req.GetValue()))
}

func (c *Control) GetPreferences(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	p, ok := c.engine.Preferences()
	if !ok {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "preferences not loaded")
	}
	return toStruct(p)
}

// UpdatePreferences replaces the preference toggles. Mute lists are sent as given.
func (c *Control) UpdatePreferences(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in prefs.Preferences
	if err := fromStruct(req, &in); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "preferences: %v", err)
	}
	return c.prefsResult(c.engine.UpdatePreferences(ctx, in))
}

func (c *Control) prefsResult(p prefs.Preferences, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(p)
}

func (c *Control) ListUnreadEvents(ctx context.Context, req *wrapperspb.BoolValue) (*structpb.Struct, error) {
	if req.GetValue() {
		summary, err := c.engine.FetchEvents(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		return toStruct(EventsView{Count: summary.Count, Source: summary.Source, Events: eventViews(summary.Items)})
	}
	events := c.engine.Events()
	return toStruct(EventsView{Count: len(events), Events: eventViews(events)})
}

func (c *Control) MarkEventRead(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "event id is required")
	}
	if err := c.engine.MarkEventRead(ctx, req.GetValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (c *Control) MarkAllEventsRead(ctx context.Context, req *structpb.Struct) (*wrapperspb.Int64Value, error) {
	var in markAllRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "mark all: %v", err)
	}
	n, err := c.engine.MarkAllEventsRead(ctx, in.EventIDs)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Int64(int64(n)), nil
}

func (c *Control) ListOnlineUsers(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(onlineResponse{Users: c.engine.Online()})
}

// WatchEvents streams bus events whose kind starts with the requested
// prefix. An empty prefix streams everything.
func (c *Control) WatchEvents(req *wrapperspb.StringValue, stream WatchEventsServer) error {
	ch, unsub := c.bus.Subscribe(req.GetValue(), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			msg, err := c.envelope(evt)
			if err != nil {
				c.logger.Warn("dropping unencodable event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (c *Control) envelope(evt bus.Event) (*structpb.Struct, error) {
	payload, err := encodePayload(evt.Payload)
	if err != nil {
		return nil, err
	}
	return toStruct(WatchEvent{
		ID:         uuid.NewString(),
		Seq:        evt.Seq,
		Session:    c.sessionName,
		Kind:       evt.Kind,
		OccurredAt: evt.Timestamp,
		Payload:    payload,
	})
}

func encodePayload(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}
