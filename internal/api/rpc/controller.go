// internal/api/rpc/controller.go
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ControllerServiceName is the fully qualified gRPC service name.
const ControllerServiceName = "fractal.Controller"

const (
	setLimitMethod = "/" + ControllerServiceName + "/SetLimit"
	getPoolMethod  = "/" + ControllerServiceName + "/GetPool"
	initMethod     = "/" + ControllerServiceName + "/Init"
)

// ControllerServer is the server API of the Controller service.
//
// SetLimit takes {"class": string, "limit": number} and answers with the
// applied limit in the same shape. GetPool answers with the coordinator status.
// Init takes {"sink": string}.
type ControllerServer interface {
	SetLimit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPool(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Init(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// RegisterControllerServer registers srv on s.
func RegisterControllerServer(s grpc.ServiceRegistrar, srv ControllerServer) {
	s.RegisterService(&ControllerServiceDesc, srv)
}

// ControllerServiceDesc describes the Controller service for grpc.Server.
var ControllerServiceDesc = grpc.ServiceDesc{
	ServiceName: ControllerServiceName,
	HandlerType: (*ControllerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetLimit", Handler: setLimitHandler},
		{MethodName: "GetPool", Handler: getPoolHandler},
		{MethodName: "Init", Handler: initHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fractal/controller.proto",
}

func setLimitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).SetLimit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: setLimitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).SetLimit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getPoolHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).GetPool(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getPoolMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).GetPool(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func initHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControllerServer).Init(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: initMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ControllerServer).Init(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
