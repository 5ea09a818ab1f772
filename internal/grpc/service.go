package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "hazardwatch.v1.StateService"

// Full method names, for clients calling through a plain connection.
const (
	MethodGetState       = "/" + serviceName + "/GetState"
	MethodStreamState    = "/" + serviceName + "/StreamState"
	MethodReportPosition = "/" + serviceName + "/ReportPosition"
	MethodRetrySync      = "/" + serviceName + "/RetrySync"
)

// StateServiceServer is implemented by Server. Messages are well-known types,
// so no generated code is involved.
type StateServiceServer interface {
	GetState(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StreamState(*emptypb.Empty, grpc.ServerStream) error
	ReportPosition(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	RetrySync(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

var stateServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*StateServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetState",
			Handler: unaryHandler(MethodGetState, func(srv StateServiceServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return srv.GetState(ctx, in)
			}),
		},
		{
			MethodName: "ReportPosition",
			Handler: unaryHandler(MethodReportPosition, func(srv StateServiceServer, ctx context.Context, in *structpb.Struct) (any, error) {
				return srv.ReportPosition(ctx, in)
			}),
		},
		{
			MethodName: "RetrySync",
			Handler: unaryHandler(MethodRetrySync, func(srv StateServiceServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return srv.RetrySync(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamState",
			Handler:       streamStateHandler,
			ServerStreams: true,
		},
	},
	Metadata: "hazardwatch/v1/state.proto",
}

// StreamStateDesc describes the server stream for grpc.ClientConn.NewStream.
var StreamStateDesc = &stateServiceDesc.Streams[0]

type unaryMethod[Req any] func(srv StateServiceServer, ctx context.Context, in *Req) (any, error)

func unaryHandler[Req any](fullMethod string, call unaryMethod[Req]) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StateServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StateServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func streamStateHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(StateServiceServer).StreamState(in, stream)
}
