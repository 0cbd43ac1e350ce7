// Package rpc exposes the token master over gRPC.
package rpc

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pinterest/pinball/internal/log"
	"github.com/pinterest/pinball/internal/master"
	"github.com/pinterest/pinball/pkg/api"
)

type Server struct {
	master api.Master
	addr   string
	server *grpc.Server
}

// NewServer returns a new instance of the token master gRPC server.
func NewServer(m api.Master, addr string) *Server {
	grpcServer := grpc.NewServer(grpc.ForceServerCodec(api.Codec{}))
	s := &Server{
		master: m,
		addr:   addr,
		server: grpcServer,
	}
	grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Start starts the gRPC server.
func (s *Server) Start() (net.Listener, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	go func() {
		log.Info("token master gRPC server listening on %s", listener.Addr())
		if err := s.server.Serve(listener); err != nil {
			log.Error("token master gRPC server stopped: %s", err)
		}
	}()
	return listener, nil
}

// Stop drains in-flight requests and stops the server.
func (s *Server) Stop() {
	s.server.GracefulStop()
}

func (s *Server) group(ctx context.Context, req *api.GroupRequest) (*api.GroupResponse, error) {
	resp, err := s.master.Group(ctx, req)
	return resp, toStatus(err)
}

func (s *Server) query(ctx context.Context, req *api.QueryRequest) (*api.QueryResponse, error) {
	resp, err := s.master.Query(ctx, req)
	return resp, toStatus(err)
}

func (s *Server) modify(ctx context.Context, req *api.ModifyRequest) (*api.ModifyResponse, error) {
	resp, err := s.master.Modify(ctx, req)
	return resp, toStatus(err)
}

func (s *Server) queryAndOwn(ctx context.Context, req *api.QueryAndOwnRequest) (*api.QueryAndOwnResponse, error) {
	resp, err := s.master.QueryAndOwn(ctx, req)
	return resp, toStatus(err)
}

func (s *Server) archive(ctx context.Context, req *api.ArchiveRequest) (*api.ArchiveResponse, error) {
	resp, err := s.master.Archive(ctx, req)
	return resp, toStatus(err)
}

// toStatus maps master errors to the status codes of the wire contract. A
// recovering or stopping master answers Unavailable, which clients treat as
// retryable.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, master.ErrNotReady) || errors.Is(err, master.ErrStopped) {
		return status.Error(codes.Unavailable, err.Error())
	}
	return api.StatusFromError(err)
}
