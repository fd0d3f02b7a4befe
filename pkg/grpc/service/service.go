package service

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "chainlog.v1.ChainService"

// ChainServiceServer is the server-side interface of the chain service
type ChainServiceServer interface {
	Append(context.Context, *AppendRequest) (*BlockMessage, error)
	FindByHash(context.Context, *HashRequest) (*BlockMessage, error)
	FindByPrevHash(context.Context, *HashRequest) (*BlockMessage, error)
	Walk(*Empty, grpc.ServerStream) error
	Validate(context.Context, *Empty) (*ValidateResponse, error)
	Stats(context.Context, *StatsRequest) (*StatsResponse, error)
}

// RegisterChainServiceServer registers srv on a gRPC server
func RegisterChainServiceServer(s grpc.ServiceRegistrar, srv ChainServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// FullMethod builds the full gRPC method path
func FullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", ServiceName, method)
}

func handlerAppend(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(AppendRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChainServiceServer).Append(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("Append")}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ChainServiceServer).Append(ctx, req.(*AppendRequest))
	})
}

func handlerFindByHash(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(HashRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChainServiceServer).FindByHash(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("FindByHash")}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ChainServiceServer).FindByHash(ctx, req.(*HashRequest))
	})
}

func handlerFindByPrevHash(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(HashRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChainServiceServer).FindByPrevHash(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("FindByPrevHash")}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ChainServiceServer).FindByPrevHash(ctx, req.(*HashRequest))
	})
}

func handlerValidate(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(Empty)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChainServiceServer).Validate(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("Validate")}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ChainServiceServer).Validate(ctx, req.(*Empty))
	})
}

func handlerStats(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(StatsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChainServiceServer).Stats(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod("Stats")}
	return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ChainServiceServer).Stats(ctx, req.(*StatsRequest))
	})
}

func handlerWalk(srv any, stream grpc.ServerStream) error {
	req := new(Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ChainServiceServer).Walk(req, stream)
}

// serviceDesc is the manual gRPC service descriptor for the chain service
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChainServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Append", Handler: handlerAppend},
		{MethodName: "FindByHash", Handler: handlerFindByHash},
		{MethodName: "FindByPrevHash", Handler: handlerFindByPrevHash},
		{MethodName: "Validate", Handler: handlerValidate},
		{MethodName: "Stats", Handler: handlerStats},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Walk",
			Handler:       handlerWalk,
			ServerStreams: true,
		},
	},
	Metadata: "chainlog/v1/chain.proto",
}

// WalkStreamDesc describes the Walk stream for clients
var WalkStreamDesc = &serviceDesc.Streams[0]
