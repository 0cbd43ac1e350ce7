package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinterest/pinball/internal/master"
	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/client"
	"github.com/pinterest/pinball/pkg/storage/inmemory"
)

// dialTestServer brings up a master with its gRPC surface on a loopback
// port and connects a client to it.
func dialTestServer(t *testing.T) *client.Client {
	t.Helper()
	m, err := master.NewMaster(inmemory.NewStore(), 1)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	srv := NewServer(m, "127.0.0.1:0")
	listener, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(srv.Stop)

	c, err := client.Dial(listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestEndToEndModifyAndQuery(t *testing.T) {
	c := dialTestServer(t)
	ctx := context.Background()

	resp, err := c.Modify(ctx, &api.ModifyRequest{Updates: []*api.Token{
		{Name: "/a/1", Data: []byte("x"), Priority: 1.5},
		{Name: "/a/2", Data: []byte("y")},
	}})
	require.NoError(t, err)
	require.Len(t, resp.Updates, 2)
	assert.Positive(t, resp.Updates[0].Version)

	qresp, err := c.Query(ctx, &api.QueryRequest{Queries: []*api.Query{
		{NamePrefix: "/a/"},
	}})
	require.NoError(t, err)
	tokens := qresp.Lists[0].Tokens
	require.Len(t, tokens, 2)
	assert.Equal(t, "/a/1", tokens[0].Name)
	assert.Equal(t, 1.5, tokens[0].Priority)
	assert.Equal(t, []byte("x"), tokens[0].Data)
}

func TestEndToEndErrorMapping(t *testing.T) {
	c := dialTestServer(t)
	ctx := context.Background()

	resp, err := c.Modify(ctx, &api.ModifyRequest{Updates: []*api.Token{{Name: "/k"}}})
	require.NoError(t, err)

	// A stale version travels back as a typed VERSION_CONFLICT.
	stale := resp.Updates[0].Clone()
	_, err = c.Modify(ctx, &api.ModifyRequest{Updates: []*api.Token{stale}})
	require.NoError(t, err)
	_, err = c.Modify(ctx, &api.ModifyRequest{Updates: []*api.Token{stale}})
	var merr *api.MasterError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, api.ErrorVersionConflict, merr.Code)

	_, err = c.Modify(ctx, &api.ModifyRequest{Deletes: []*api.Token{{Name: "/gone", Version: 3}}})
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, api.ErrorNotFound, merr.Code)

	_, err = c.QueryAndOwn(ctx, &api.QueryAndOwnRequest{
		Owner:          "w1",
		ExpirationTime: time.Now().Add(-time.Minute).Unix(),
		Query:          &api.Query{NamePrefix: "/k"},
	})
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, api.ErrorInputError, merr.Code)
}

func TestEndToEndClaimAndGroup(t *testing.T) {
	c := dialTestServer(t)
	ctx := context.Background()

	_, err := c.Modify(ctx, &api.ModifyRequest{Updates: []*api.Token{
		{Name: "/dir1/sub1/a"},
		{Name: "/dir1/sub1/b"},
		{Name: "/dir1/sub2/c"},
	}})
	require.NoError(t, err)

	gresp, err := c.Group(ctx, &api.GroupRequest{NamePrefix: "/dir1/", GroupSuffix: "/"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"sub1/": 2, "sub2/": 1}, gresp.Counts)

	oresp, err := c.QueryAndOwn(ctx, &api.QueryAndOwnRequest{
		Owner:          "w1",
		ExpirationTime: time.Now().Add(time.Minute).Unix(),
		Query:          &api.Query{NamePrefix: "/dir1/", MaxTokens: 1},
	})
	require.NoError(t, err)
	require.Len(t, oresp.Tokens, 1)
	assert.Equal(t, "w1", oresp.Tokens[0].Owner)
}
