// Package client is the gRPC client of the token master. It satisfies
// api.Master, so code written against the master runs unchanged in-process
// or over the network.
package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pinterest/pinball/pkg/api"
)

type Client struct {
	conn *grpc.ClientConn
}

var _ api.Master = &Client{}

// Dial connects to the master at the given address.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(api.Codec{})),
	)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Group(ctx context.Context, req *api.GroupRequest) (*api.GroupResponse, error) {
	resp := &api.GroupResponse{}
	if err := c.conn.Invoke(ctx, api.MethodGroup, req, resp); err != nil {
		return nil, api.ErrorFromStatus(err)
	}
	return resp, nil
}

func (c *Client) Query(ctx context.Context, req *api.QueryRequest) (*api.QueryResponse, error) {
	resp := &api.QueryResponse{}
	if err := c.conn.Invoke(ctx, api.MethodQuery, req, resp); err != nil {
		return nil, api.ErrorFromStatus(err)
	}
	return resp, nil
}

func (c *Client) Modify(ctx context.Context, req *api.ModifyRequest) (*api.ModifyResponse, error) {
	resp := &api.ModifyResponse{}
	if err := c.conn.Invoke(ctx, api.MethodModify, req, resp); err != nil {
		return nil, api.ErrorFromStatus(err)
	}
	return resp, nil
}

func (c *Client) QueryAndOwn(ctx context.Context, req *api.QueryAndOwnRequest) (*api.QueryAndOwnResponse, error) {
	resp := &api.QueryAndOwnResponse{}
	if err := c.conn.Invoke(ctx, api.MethodQueryAndOwn, req, resp); err != nil {
		return nil, api.ErrorFromStatus(err)
	}
	return resp, nil
}

func (c *Client) Archive(ctx context.Context, req *api.ArchiveRequest) (*api.ArchiveResponse, error) {
	resp := &api.ArchiveResponse{}
	if err := c.conn.Invoke(ctx, api.MethodArchive, req, resp); err != nil {
		return nil, api.ErrorFromStatus(err)
	}
	return resp, nil
}
