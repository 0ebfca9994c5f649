package api

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "herald.v1.Assistant"

// Full method paths
const (
	SendMessageMethod      = "/" + ServiceName + "/SendMessage"
	ScheduleReminderMethod = "/" + ServiceName + "/ScheduleReminder"
	CancelReminderMethod   = "/" + ServiceName + "/CancelReminder"
	ListRemindersMethod    = "/" + ServiceName + "/ListReminders"
	SubscribeMethod        = "/" + ServiceName + "/Subscribe"
)

// AssistantServer is the server API for the Assistant service. Requests and
// responses are JSON objects carried as google.protobuf.Struct.
type AssistantServer interface {
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ScheduleReminder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelReminder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListReminders(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

// ServiceDesc describes the Assistant service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AssistantServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendMessage", Handler: unaryHandler(SendMessageMethod, AssistantServer.SendMessage)},
		{MethodName: "ScheduleReminder", Handler: unaryHandler(ScheduleReminderMethod, AssistantServer.ScheduleReminder)},
		{MethodName: "CancelReminder", Handler: unaryHandler(CancelReminderMethod, AssistantServer.CancelReminder)},
		{MethodName: "ListReminders", Handler: unaryHandler(ListRemindersMethod, AssistantServer.ListReminders)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "herald/v1/assistant.proto",
}

// RegisterAssistantServer registers srv on s
func RegisterAssistantServer(s grpc.ServiceRegistrar, srv AssistantServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryCall func(AssistantServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AssistantServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(AssistantServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AssistantServer).Subscribe(in, stream)
}

// decode unmarshals a Struct into v through its JSON form
func decode(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// encode marshals v into a Struct through its JSON form. v must encode as a
// JSON object.
func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}
