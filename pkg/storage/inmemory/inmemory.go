// Package inmemory keeps tokens in process memory. It backs tests and
// single-process setups that do not need durability.
package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/storage"
)

// Store keeps live and archived tokens in maps keyed by name. Batches are
// applied under one lock, so readers observe no partial batch.
type Store struct {
	mu       sync.Mutex
	active   map[string]*api.Token
	archived map[string]*api.Token
}

var _ storage.Store = &Store{}

func NewStore() *Store {
	return &Store{
		active:   make(map[string]*api.Token),
		archived: make(map[string]*api.Token),
	}
}

func (s *Store) CommitTokens(ctx context.Context, updates []*api.Token, deletes []*api.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range deletes {
		if _, ok := s.active[t.Name]; !ok {
			return storage.ErrNotFound
		}
	}
	for _, t := range updates {
		s.active[t.Name] = t.Clone()
	}
	for _, t := range deletes {
		delete(s.active, t.Name)
	}
	return nil
}

func (s *Store) ArchiveTokens(ctx context.Context, tokens []*api.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		if _, ok := s.active[t.Name]; !ok {
			return storage.ErrNotFound
		}
	}
	for _, t := range tokens {
		delete(s.active, t.Name)
		archived := t.Clone()
		archived.Name = api.ArchivePrefix + t.Name
		s.archived[archived.Name] = archived
	}
	return nil
}

func (s *Store) DeleteArchivedTokens(ctx context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if _, ok := s.archived[name]; !ok {
			return storage.ErrNotFound
		}
		delete(s.archived, name)
	}
	return nil
}

func (s *Store) ReadActiveTokens(ctx context.Context, namePrefix string) ([]*api.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readPrefix(s.active, namePrefix), nil
}

func (s *Store) ReadArchivedTokens(ctx context.Context, namePrefix string) ([]*api.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readPrefix(s.archived, namePrefix), nil
}

func (s *Store) Close() error { return nil }

func readPrefix(m map[string]*api.Token, prefix string) []*api.Token {
	res := make([]*api.Token, 0)
	for name, t := range m {
		if strings.HasPrefix(name, prefix) {
			res = append(res, t.Clone())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}
