package api

import (
	"context"
)

// Service names and full method paths of the token master gRPC service.
const (
	ServiceName = "pinball.TokenMaster"

	MethodGroup       = "/pinball.TokenMaster/Group"
	MethodQuery       = "/pinball.TokenMaster/Query"
	MethodModify      = "/pinball.TokenMaster/Modify"
	MethodQueryAndOwn = "/pinball.TokenMaster/QueryAndOwn"
	MethodArchive     = "/pinball.TokenMaster/Archive"
)

// Master is the five-operation contract of the token master. It is satisfied
// by the in-process master and by the gRPC client, so workers and schedulers
// run against either.
type Master interface {
	// Group counts tokens under a name prefix, grouped by the post-prefix
	// remainder through the first occurrence of the group suffix.
	Group(ctx context.Context, req *GroupRequest) (*GroupResponse, error)
	// Query returns, per query, the first maxTokens tokens under the prefix
	// in ascending name order.
	Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error)
	// Modify applies a batch of inserts, updates, and deletes atomically.
	Modify(ctx context.Context, req *ModifyRequest) (*ModifyResponse, error)
	// QueryAndOwn atomically claims up to maxTokens claimable tokens under
	// the prefix, highest priority first.
	QueryAndOwn(ctx context.Context, req *QueryAndOwnRequest) (*QueryAndOwnResponse, error)
	// Archive moves tokens from the live namespace to the archive in one
	// atomic step.
	Archive(ctx context.Context, req *ArchiveRequest) (*ArchiveResponse, error)
}

// Query selects tokens by name prefix. MaxTokens of zero means no cap.
type Query struct {
	NamePrefix string
	MaxTokens  int32
}

type GroupRequest struct {
	NamePrefix  string
	GroupSuffix string
}

type GroupResponse struct {
	// Counts maps each group string to the number of tokens in it.
	Counts map[string]int64
}

type QueryRequest struct {
	Queries []*Query
}

// TokenList wraps one query's results so QueryResponse preserves query order.
type TokenList struct {
	Tokens []*Token
}

type QueryResponse struct {
	Lists []*TokenList
}

type ModifyRequest struct {
	// Updates holds inserts (no version set) and updates (version set to the
	// current version of the token).
	Updates []*Token
	// Deletes holds tokens to remove; each must carry its current version.
	Deletes []*Token
}

type ModifyResponse struct {
	// Updates echoes the inserted/updated tokens with freshly assigned
	// versions, in request order.
	Updates []*Token
}

type QueryAndOwnRequest struct {
	Owner          string
	ExpirationTime int64
	Query          *Query
}

type QueryAndOwnResponse struct {
	Tokens []*Token
}

type ArchiveRequest struct {
	Tokens []*Token
}

type ArchiveResponse struct {
}
