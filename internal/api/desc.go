package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified name of the daemon's control service.
const ServiceName = "chatsync.v1.Sync"

// RPC method names.
const (
	MethodGetStatus         = "GetStatus"
	MethodLogin             = "Login"
	MethodLogout            = "Logout"
	MethodRefresh           = "Refresh"
	MethodReconnect         = "Reconnect"
	MethodListConversations = "ListConversations"
	MethodGetConversation   = "GetConversation"
	MethodSelect            = "Select"
	MethodDeselect          = "Deselect"
	MethodSend              = "Send"
	MethodTyping            = "Typing"
	MethodMarkRead          = "MarkRead"
	MethodCheckConnection   = "CheckConnection"
	MethodRequestConnection = "RequestConnection"
	MethodAcceptConnection  = "AcceptConnection"
	MethodRejectConnection  = "RejectConnection"
	MethodRemoveConnection  = "RemoveConnection"
	MethodSuggestions       = "Suggestions"
	MethodWatchEvents       = "WatchEvents"
)

// FullMethod returns the wire path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// SyncServer is the daemon side of chatsync.v1.Sync. Requests and responses
// are structpb.Struct documents.
type SyncServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Logout(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetConversation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Select(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Deselect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Typing(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckConnection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RequestConnection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AcceptConnection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectConnection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveConnection(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Suggestions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

type unaryMethod func(SyncServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

var unaryMethods = []struct {
	name string
	fn   unaryMethod
}{
	{MethodGetStatus, SyncServer.GetStatus},
	{MethodLogin, SyncServer.Login},
	{MethodLogout, SyncServer.Logout},
	{MethodRefresh, SyncServer.Refresh},
	{MethodReconnect, SyncServer.Reconnect},
	{MethodListConversations, SyncServer.ListConversations},
	{MethodGetConversation, SyncServer.GetConversation},
	{MethodSelect, SyncServer.Select},
	{MethodDeselect, SyncServer.Deselect},
	{MethodSend, SyncServer.Send},
	{MethodTyping, SyncServer.Typing},
	{MethodMarkRead, SyncServer.MarkRead},
	{MethodCheckConnection, SyncServer.CheckConnection},
	{MethodRequestConnection, SyncServer.RequestConnection},
	{MethodAcceptConnection, SyncServer.AcceptConnection},
	{MethodRejectConnection, SyncServer.RejectConnection},
	{MethodRemoveConnection, SyncServer.RemoveConnection},
	{MethodSuggestions, SyncServer.Suggestions},
}

// ServiceDesc describes chatsync.v1.Sync for grpc.Server.RegisterService.
var ServiceDesc = newServiceDesc()

func newServiceDesc() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*SyncServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    MethodWatchEvents,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		}},
		Metadata: "chatsync/v1/sync.proto",
	}
	for _, m := range unaryMethods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.name,
			Handler:    unaryHandler(m.name, m.fn),
		})
	}
	return desc
}

// RegisterSyncServer registers srv on s.
func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler(name string, fn unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(SyncServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
		handler := func(ctx context.Context, req any) (any, error) {
			return fn(srv.(SyncServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SyncServer).WatchEvents(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}
