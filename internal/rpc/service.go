package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/pinterest/pinball/pkg/api"
)

// serviceDesc wires the five master operations by hand; the message codec is
// api.Codec, so there is no generated stub layer.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: api.ServiceName,
	HandlerType: (*masterService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Group", Handler: groupHandler},
		{MethodName: "Query", Handler: queryHandler},
		{MethodName: "Modify", Handler: modifyHandler},
		{MethodName: "QueryAndOwn", Handler: queryAndOwnHandler},
		{MethodName: "Archive", Handler: archiveHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/master.proto",
}

type masterService interface {
	group(ctx context.Context, req *api.GroupRequest) (*api.GroupResponse, error)
	query(ctx context.Context, req *api.QueryRequest) (*api.QueryResponse, error)
	modify(ctx context.Context, req *api.ModifyRequest) (*api.ModifyResponse, error)
	queryAndOwn(ctx context.Context, req *api.QueryAndOwnRequest) (*api.QueryAndOwnResponse, error)
	archive(ctx context.Context, req *api.ArchiveRequest) (*api.ArchiveResponse, error)
}

var _ masterService = (*Server)(nil)

func groupHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.GroupRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(masterService).group(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: api.MethodGroup}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(masterService).group(ctx, req.(*api.GroupRequest))
	})
}

func queryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.QueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(masterService).query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: api.MethodQuery}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(masterService).query(ctx, req.(*api.QueryRequest))
	})
}

func modifyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.ModifyRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(masterService).modify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: api.MethodModify}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(masterService).modify(ctx, req.(*api.ModifyRequest))
	})
}

func queryAndOwnHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.QueryAndOwnRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(masterService).queryAndOwn(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: api.MethodQueryAndOwn}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(masterService).queryAndOwn(ctx, req.(*api.QueryAndOwnRequest))
	})
}

func archiveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.ArchiveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(masterService).archive(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: api.MethodArchive}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(masterService).archive(ctx, req.(*api.ArchiveRequest))
	})
}
