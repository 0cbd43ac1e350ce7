// Package storagetest holds a conformance suite run against every Store
// implementation.
package storagetest

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/storage"
)

// Factory returns a fresh, empty store for one test.
type Factory func(t *testing.T) storage.Store

// RunAll runs the conformance suite against stores built by the factory.
func RunAll(t *testing.T, factory Factory) {
	tests := map[string]func(t *testing.T, s storage.Store){
		"CommitAndReadBack":     testCommitAndReadBack,
		"CommitOverwrites":      testCommitOverwrites,
		"CommitDeletes":         testCommitDeletes,
		"ReadActivePrefixOrder": testReadActivePrefixOrder,
		"ArchiveMovesTokens":    testArchiveMovesTokens,
		"DeleteArchived":        testDeleteArchived,
	}
	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func newToken(name string) *api.Token {
	return &api.Token{
		Version: rand.Int63(),
		Name:    name,
		Data:    []byte(fmt.Sprintf("data-%s", name)),
	}
}

func testCommitAndReadBack(t *testing.T, s storage.Store) {
	ctx := context.Background()

	tok := newToken("/workflow/wf/123/job/waiting/cook")
	tok.Owner = "worker-1"
	tok.ExpirationTime = 1700000000
	tok.Priority = 2.5

	err := s.CommitTokens(ctx, []*api.Token{tok}, nil)
	require.NoError(t, err)

	got, err := s.ReadActiveTokens(ctx, "/workflow/")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, tok, got[0])
}

func testCommitOverwrites(t *testing.T, s storage.Store) {
	ctx := context.Background()

	tok := newToken("/a")
	require.NoError(t, s.CommitTokens(ctx, []*api.Token{tok}, nil))

	updated := tok.Clone()
	updated.Version = tok.Version + 1
	updated.Data = []byte("changed")
	require.NoError(t, s.CommitTokens(ctx, []*api.Token{updated}, nil))

	got, err := s.ReadActiveTokens(ctx, "/a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, updated.Version, got[0].Version)
	assert.Equal(t, []byte("changed"), got[0].Data)
}

func testCommitDeletes(t *testing.T, s storage.Store) {
	ctx := context.Background()

	keep := newToken("/keep")
	drop := newToken("/drop")
	require.NoError(t, s.CommitTokens(ctx, []*api.Token{keep, drop}, nil))
	require.NoError(t, s.CommitTokens(ctx, nil, []*api.Token{drop}))

	got, err := s.ReadActiveTokens(ctx, "/")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/keep", got[0].Name)
}

func testReadActivePrefixOrder(t *testing.T, s storage.Store) {
	ctx := context.Background()

	names := []string{"/b/2", "/a/2", "/a/1", "/c"}
	tokens := make([]*api.Token, 0, len(names))
	for _, n := range names {
		tokens = append(tokens, newToken(n))
	}
	require.NoError(t, s.CommitTokens(ctx, tokens, nil))

	got, err := s.ReadActiveTokens(ctx, "/a/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/a/1", got[0].Name)
	assert.Equal(t, "/a/2", got[1].Name)

	all, err := s.ReadActiveTokens(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func testArchiveMovesTokens(t *testing.T, s storage.Store) {
	ctx := context.Background()

	job := newToken("/workflow/wf/1/job/runnable/cook")
	other := newToken("/workflow/wf/2/job/runnable/cook")
	require.NoError(t, s.CommitTokens(ctx, []*api.Token{job, other}, nil))
	require.NoError(t, s.ArchiveTokens(ctx, []*api.Token{job}))

	active, err := s.ReadActiveTokens(ctx, "/workflow/")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, other.Name, active[0].Name)

	archived, err := s.ReadArchivedTokens(ctx, api.ArchivePrefix+"/workflow/wf/1/")
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, api.ArchivePrefix+job.Name, archived[0].Name)
	assert.Equal(t, job.Version, archived[0].Version)
	assert.Equal(t, job.Data, archived[0].Data)
}

func testDeleteArchived(t *testing.T, s storage.Store) {
	ctx := context.Background()

	tok := newToken("/workflow/wf/1/job/waiting/cook")
	require.NoError(t, s.CommitTokens(ctx, []*api.Token{tok}, nil))
	require.NoError(t, s.ArchiveTokens(ctx, []*api.Token{tok}))

	archivedName := api.ArchivePrefix + tok.Name
	require.NoError(t, s.DeleteArchivedTokens(ctx, []string{archivedName}))

	archived, err := s.ReadArchivedTokens(ctx, api.ArchivePrefix)
	require.NoError(t, err)
	assert.Empty(t, archived)

	err = s.DeleteArchivedTokens(ctx, []string{archivedName})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
