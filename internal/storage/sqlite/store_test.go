package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/storage"
	"github.com/pinterest/pinball/pkg/storage/storagetest"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: path})
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storagetest.RunAll(t, func(t *testing.T) storage.Store {
		return openTestStore(t, filepath.Join(t.TempDir(), "tokens.db"))
	})
}

func TestSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.db")

	s := openTestStore(t, path)
	live := &api.Token{Name: "/workflow/wf/1/job/waiting/cook", Version: 10, Data: []byte("a")}
	gone := &api.Token{Name: "/workflow/wf/1/job/waiting/dish", Version: 11, Data: []byte("b")}
	require.NoError(t, s.CommitTokens(ctx, []*api.Token{live, gone}, nil))
	require.NoError(t, s.ArchiveTokens(ctx, []*api.Token{gone}))
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	defer s.Close()

	active, err := s.ReadActiveTokens(ctx, "")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, live, active[0])

	archived, err := s.ReadArchivedTokens(ctx, api.ArchivePrefix)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, api.ArchivePrefix+gone.Name, archived[0].Name)
}

// Underscores are literal characters in token names; the prefix match must
// not treat them as wildcards.
func TestUnderscorePrefixIsLiteral(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "tokens.db"))
	defer s.Close()

	require.NoError(t, s.CommitTokens(ctx, []*api.Token{
		{Name: "/workflow/__SIGNAL__/DRAIN", Version: 1},
		{Name: "/workflow/aaSIGNALbb/DRAIN", Version: 2},
	}, nil))

	got, err := s.ReadActiveTokens(ctx, "/workflow/__SIGNAL__/")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/workflow/__SIGNAL__/DRAIN", got[0].Name)
}

func TestBatchRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "tokens.db"))
	defer s.Close()

	err := s.CommitTokens(ctx,
		[]*api.Token{{Name: "/new", Version: 1}},
		[]*api.Token{{Name: "/missing", Version: 2}},
	)
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := s.ReadActiveTokens(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}
