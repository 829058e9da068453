package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The control service carries well-known protobuf types only, so it
// needs no generated code.
const serviceName = "hsusupervisor.Control"

const (
	statusMethod   = "/" + serviceName + "/Status"
	unitsMethod    = "/" + serviceName + "/Units"
	shutdownMethod = "/" + serviceName + "/Shutdown"
)

// ControlServer is the server API for the control service
type ControlServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Units(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

func registerControlServer(registrar grpc.ServiceRegistrar, server ControlServer) {
	registrar.RegisterService(&controlServiceDesc, server)
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "Units", Handler: unitsHandler},
		{MethodName: "Shutdown", Handler: shutdownHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hsusupervisor/control",
}

func statusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func unitsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Units(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: unitsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).Units(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func shutdownHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Shutdown(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: shutdownMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).Shutdown(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}
