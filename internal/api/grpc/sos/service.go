package sos

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sos.v1.SOSService"

// Method names of the SOS service.
const (
	MethodTrigger         = "Trigger"
	MethodStop            = "Stop"
	MethodStatus          = "Status"
	MethodArm             = "Arm"
	MethodDisarm          = "Disarm"
	MethodPressKey        = "PressKey"
	MethodEnableDetector  = "EnableDetector"
	MethodDisableDetector = "DisableDetector"
	MethodStartWalk       = "StartWalk"
	MethodCheckIn         = "CheckIn"
	MethodStopWalk        = "StopWalk"
	MethodListEvidence    = "ListEvidence"
	MethodStartRecording  = "StartRecording"
	MethodStopRecording   = "StopRecording"
	MethodListRecordings  = "ListRecordings"
	MethodWatch           = "Watch"
)

// FullMethod returns the RPC path of a method, e.g. "/sos.v1.SOSService/Trigger".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// SOSServiceServer is the server API of the SOS service. Messages are the
// protobuf well-known types so no generated code is needed on either side.
type SOSServiceServer interface {
	Trigger(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Stop(ctx context.Context, req *emptypb.Empty) (*wrapperspb.BoolValue, error)
	Status(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Arm(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
	Disarm(ctx context.Context, req *emptypb.Empty) (*wrapperspb.BoolValue, error)
	PressKey(ctx context.Context, req *emptypb.Empty) (*wrapperspb.BoolValue, error)
	EnableDetector(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error)
	DisableDetector(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error)
	StartWalk(ctx context.Context, req *durationpb.Duration) (*structpb.Struct, error)
	CheckIn(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	StopWalk(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error)
	ListEvidence(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	StartRecording(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	StopRecording(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	ListRecordings(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Watch(req *emptypb.Empty, stream grpc.ServerStream) error
}

// ServiceDesc describes the SOS service for grpc.Server.RegisterService.
//
//nolint:gochecknoglobals // Mirrors generated gRPC service descriptors.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SOSServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodTrigger, SOSServiceServer.Trigger),
		unary(MethodStop, SOSServiceServer.Stop),
		unary(MethodStatus, SOSServiceServer.Status),
		unary(MethodArm, SOSServiceServer.Arm),
		unary(MethodDisarm, SOSServiceServer.Disarm),
		unary(MethodPressKey, SOSServiceServer.PressKey),
		unary(MethodEnableDetector, SOSServiceServer.EnableDetector),
		unary(MethodDisableDetector, SOSServiceServer.DisableDetector),
		unary(MethodStartWalk, SOSServiceServer.StartWalk),
		unary(MethodCheckIn, SOSServiceServer.CheckIn),
		unary(MethodStopWalk, SOSServiceServer.StopWalk),
		unary(MethodListEvidence, SOSServiceServer.ListEvidence),
		unary(MethodStartRecording, SOSServiceServer.StartRecording),
		unary(MethodStopRecording, SOSServiceServer.StopRecording),
		unary(MethodListRecordings, SOSServiceServer.ListRecordings),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatch,
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "sos/v1/sos.proto",
}

// RegisterSOSServiceServer registers srv on a gRPC server.
func RegisterSOSServiceServer(registrar grpc.ServiceRegistrar, srv SOSServiceServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

// unary builds a method descriptor that decodes Req, runs call through the
// server's interceptor chain and returns its response.
func unary[Req any, PReq interface {
	*Req
	proto.Message
}, Resp proto.Message](
	method string,
	call func(SOSServiceServer, context.Context, PReq) (Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}

			server, _ := srv.(SOSServiceServer)

			if interceptor == nil {
				return call(server, ctx, in)
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(method),
			}

			handler := func(ctx context.Context, req any) (any, error) {
				typed, _ := req.(PReq)

				return call(server, ctx, typed)
			}

			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	server, _ := srv.(SOSServiceServer)

	return server.Watch(in, stream)
}
