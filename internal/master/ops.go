package master

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/pinterest/pinball/pkg/api"
)

// group counts tokens under the prefix, keyed by the post-prefix remainder
// through the first occurrence of the group suffix (inclusive). A token with
// no suffix occurrence groups under its whole remainder.
func (m *Master) group(req *api.GroupRequest) (*api.GroupResponse, error) {
	resp := &api.GroupResponse{Counts: make(map[string]int64)}
	if req.NamePrefix == "" {
		return resp, nil
	}
	it := m.index.Root().Iterator()
	it.SeekPrefix([]byte(req.NamePrefix))
	for key, _, ok := it.Next(); ok; key, _, ok = it.Next() {
		rest := string(key[len(req.NamePrefix):])
		group := rest
		if req.GroupSuffix != "" {
			if i := strings.Index(rest, req.GroupSuffix); i >= 0 {
				group = rest[:i+len(req.GroupSuffix)]
			}
		}
		resp.Counts[group]++
	}
	return resp, nil
}

func (m *Master) query(req *api.QueryRequest) (*api.QueryResponse, error) {
	resp := &api.QueryResponse{Lists: make([]*api.TokenList, 0, len(req.Queries))}
	for _, q := range req.Queries {
		if q == nil || q.NamePrefix == "" {
			return nil, api.InputErrorf("query requires a name prefix")
		}
		list := &api.TokenList{Tokens: m.matchPrefix(q.NamePrefix, q.MaxTokens)}
		resp.Lists = append(resp.Lists, list)
	}
	return resp, nil
}

// matchPrefix returns up to max tokens under the prefix in ascending name
// order. max of zero means no cap.
func (m *Master) matchPrefix(prefix string, max int32) []*api.Token {
	res := make([]*api.Token, 0)
	it := m.index.Root().Iterator()
	it.SeekPrefix([]byte(prefix))
	for _, v, ok := it.Next(); ok; _, v, ok = it.Next() {
		if max > 0 && int32(len(res)) >= max {
			break
		}
		res = append(res, v.(*api.Token).Clone())
	}
	return res
}

func (m *Master) modify(ctx context.Context, req *api.ModifyRequest) (*api.ModifyResponse, error) {
	if err := m.verifyModify(req); err != nil {
		return nil, err
	}

	updates := make([]*api.Token, 0, len(req.Updates))
	for _, t := range req.Updates {
		fresh := t.Clone()
		fresh.Version = m.nextVersion()
		updates = append(updates, fresh)
	}

	// The store commit is the single suspension point; the index mutates
	// only after the batch is durable.
	if err := m.store.CommitTokens(ctx, updates, req.Deletes); err != nil {
		return nil, api.Unknownf("persisting batch: %v", err)
	}

	txn := m.index.Txn()
	for _, t := range updates {
		txn.Insert([]byte(t.Name), t.Clone())
	}
	for _, t := range req.Deletes {
		txn.Delete([]byte(t.Name))
	}
	m.index = txn.Commit()

	return &api.ModifyResponse{Updates: updates}, nil
}

// verifyModify checks every precondition of a modify batch before any
// mutation happens.
func (m *Master) verifyModify(req *api.ModifyRequest) error {
	seen := make(map[string]struct{}, len(req.Updates)+len(req.Deletes))
	for _, t := range req.Updates {
		if t == nil || t.Name == "" {
			return api.InputErrorf("update token requires a name")
		}
		if strings.HasPrefix(t.Name, api.ArchivePrefix) {
			return api.InputErrorf("token %s: archive namespace is immutable", t.Name)
		}
		if math.IsNaN(t.Priority) || math.IsInf(t.Priority, 0) {
			return api.InputErrorf("token %s: priority must be finite", t.Name)
		}
		if _, dup := seen[t.Name]; dup {
			return api.InputErrorf("token %s appears twice in batch", t.Name)
		}
		seen[t.Name] = struct{}{}

		existing, ok := m.getToken(t.Name)
		switch {
		case t.Version == 0 && ok:
			// Someone inserted the name first.
			return api.Conflictf("token %s already exists with version %d", t.Name, existing.Version)
		case t.Version != 0 && !ok:
			return api.Conflictf("token %s with version %d no longer exists", t.Name, t.Version)
		case t.Version != 0 && existing.Version != t.Version:
			return api.Conflictf("token %s with different version %d found", t.Name, existing.Version)
		}
	}
	for _, t := range req.Deletes {
		if t == nil || t.Name == "" {
			return api.InputErrorf("delete token requires a name")
		}
		if t.Version == 0 {
			return api.InputErrorf("token %s does not have version set", t.Name)
		}
		if _, dup := seen[t.Name]; dup {
			return api.InputErrorf("token %s appears twice in batch", t.Name)
		}
		seen[t.Name] = struct{}{}

		existing, ok := m.getToken(t.Name)
		if !ok {
			return api.NotFoundf("token %s not found", t.Name)
		}
		if existing.Version != t.Version {
			return api.Conflictf("token %s with different version %d found", t.Name, existing.Version)
		}
	}
	return nil
}

func (m *Master) queryAndOwn(ctx context.Context, req *api.QueryAndOwnRequest) (*api.QueryAndOwnResponse, error) {
	now := m.now()
	if req.Owner == "" {
		return nil, api.InputErrorf("query_and_own requires an owner")
	}
	if req.Query == nil || req.Query.NamePrefix == "" {
		return nil, api.InputErrorf("query_and_own requires a query with a name prefix")
	}
	if req.ExpirationTime <= now.Unix() {
		return nil, api.InputErrorf("expiration time %d is in the past", req.ExpirationTime)
	}

	// Candidates ranked by priority descending; iteration order makes the
	// tie-break ascending by name.
	candidates := make([]*api.Token, 0)
	it := m.index.Root().Iterator()
	it.SeekPrefix([]byte(req.Query.NamePrefix))
	for _, v, ok := it.Next(); ok; _, v, ok = it.Next() {
		candidates = append(candidates, v.(*api.Token))
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})

	claimed := make([]*api.Token, 0)
	for _, t := range candidates {
		if req.Query.MaxTokens > 0 && int32(len(claimed)) >= req.Query.MaxTokens {
			break
		}
		if t.OwnedAt(now) {
			continue
		}
		owned := t.Clone()
		owned.Owner = req.Owner
		owned.ExpirationTime = req.ExpirationTime
		owned.Version = m.nextVersion()
		claimed = append(claimed, owned)
	}
	if len(claimed) == 0 {
		return &api.QueryAndOwnResponse{Tokens: claimed}, nil
	}

	if err := m.store.CommitTokens(ctx, claimed, nil); err != nil {
		return nil, api.Unknownf("persisting claims: %v", err)
	}
	txn := m.index.Txn()
	for _, t := range claimed {
		txn.Insert([]byte(t.Name), t.Clone())
	}
	m.index = txn.Commit()

	return &api.QueryAndOwnResponse{Tokens: claimed}, nil
}

func (m *Master) archive(ctx context.Context, req *api.ArchiveRequest) (*api.ArchiveResponse, error) {
	existing := make([]*api.Token, 0, len(req.Tokens))
	for _, t := range req.Tokens {
		if t == nil || t.Name == "" {
			return nil, api.InputErrorf("archive token requires a name")
		}
		if t.Version == 0 {
			return nil, api.InputErrorf("token %s does not have version set", t.Name)
		}
		cur, ok := m.getToken(t.Name)
		if !ok {
			return nil, api.NotFoundf("token %s not found", t.Name)
		}
		if cur.Version != t.Version {
			return nil, api.Conflictf("token %s with different version %d found", t.Name, cur.Version)
		}
		existing = append(existing, cur)
	}
	if len(existing) == 0 {
		return &api.ArchiveResponse{}, nil
	}

	if err := m.store.ArchiveTokens(ctx, existing); err != nil {
		return nil, api.Unknownf("archiving batch: %v", err)
	}
	txn := m.index.Txn()
	for _, t := range existing {
		txn.Delete([]byte(t.Name))
	}
	m.index = txn.Commit()

	return &api.ArchiveResponse{}, nil
}
