// Package api exposes the sync engine to local clients over gRPC. The
// Control service is registered by hand and carries protobuf well-known
// types, so no generated code is needed on either side.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "teamsync.v1.Control"

// ControlServer is the server side of the Control service.
type ControlServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	ListRooms(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetActiveRoom(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	MarkRoomRead(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RetryMessage(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	ListFailedMessages(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetTyping(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	JoinRoom(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	LeaveRoom(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	SetEventSubscription(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	MuteRoom(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnmuteRoom(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	MuteEvent(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	UnmuteEvent(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	GetPreferences(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	UpdatePreferences(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListUnreadEvents(context.Context, *wrapperspb.BoolValue) (*structpb.Struct, error)
	MarkEventRead(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	MarkAllEventsRead(context.Context, *structpb.Struct) (*wrapperspb.Int64Value, error)
	ListOnlineUsers(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	WatchEvents(*wrapperspb.StringValue, WatchEventsServer) error
}

// WatchEventsServer is the server stream of WatchEvents.
type WatchEventsServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type watchEventsServer struct {
	grpc.ServerStream
}

func (s *watchEventsServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// unary adapts a ControlServer method to a grpc.MethodDesc.
func unary[Req any, PReq interface {
	*Req
	proto.Message
}, Resp proto.Message](name string, call func(ControlServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(ControlServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(PReq))
			})
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).WatchEvents(in, &watchEventsServer{stream})
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// ControlServiceDesc describes the Control service for grpc.Server.RegisterService.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary[emptypb.Empty]("GetStatus", ControlServer.GetStatus),
		unary[structpb.Struct]("Login", ControlServer.Login),
		unary[emptypb.Empty]("Logout", ControlServer.Logout),
		unary[emptypb.Empty]("ListRooms", ControlServer.ListRooms),
		unary[wrapperspb.StringValue]("SetActiveRoom", ControlServer.SetActiveRoom),
		unary[wrapperspb.StringValue]("MarkRoomRead", ControlServer.MarkRoomRead),
		unary[structpb.Struct]("SendMessage", ControlServer.SendMessage),
		unary[wrapperspb.StringValue]("RetryMessage", ControlServer.RetryMessage),
		unary[emptypb.Empty]("ListFailedMessages", ControlServer.ListFailedMessages),
		unary[structpb.Struct]("SetTyping", ControlServer.SetTyping),
		unary[wrapperspb.StringValue]("JoinRoom", ControlServer.JoinRoom),
		unary[wrapperspb.StringValue]("LeaveRoom", ControlServer.LeaveRoom),
		unary[structpb.Struct]("SetEventSubscription", ControlServer.SetEventSubscription),
		unary[structpb.Struct]("MuteRoom", ControlServer.MuteRoom),
		unary[wrapperspb.StringValue]("UnmuteRoom", ControlServer.UnmuteRoom),
		unary[wrapperspb.StringValue]("MuteEvent", ControlServer.MuteEvent),
		unary[wrapperspb.StringValue]("UnmuteEvent", ControlServer.UnmuteEvent),
		unary[emptypb.Empty]("GetPreferences", ControlServer.GetPreferences),
		unary[structpb.Struct]("UpdatePreferences", ControlServer.UpdatePreferences),
		unary[wrapperspb.BoolValue]("ListUnreadEvents", ControlServer.ListUnreadEvents),
		unary[wrapperspb.StringValue]("MarkEventRead", ControlServer.MarkEventRead),
		unary[structpb.Struct]("MarkAllEventsRead", ControlServer.MarkAllEventsRead),
		unary[emptypb.Empty]("ListOnlineUsers", ControlServer.ListOnlineUsers),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "teamsync/v1/control.proto",
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}
