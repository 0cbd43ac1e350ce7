// Package storage contains the persistence contract of the token master, so
// that different backing stores can be implemented.
//
// Implementations must:
//   - commit every batch transactionally and durably before returning
//   - return ErrNotFound from methods that look up one exact item
//   - return an empty slice from methods that can match many items and none do
package storage

import (
	"context"
	"errors"

	"github.com/pinterest/pinball/pkg/api"
)

// ErrNotFound is returned when an exact lookup has no match.
var ErrNotFound = errors.New("not found")

// Store is the durable write-through backing of the master. The master never
// acknowledges a client before the corresponding CommitTokens or
// ArchiveTokens call has returned.
type Store interface {
	TokenWriter
	TokenReader
	ArchiveReader
	ArchiveWriter

	Close() error
}

type TokenWriter interface {
	// CommitTokens applies updates (inserts and overwrites, keyed by name)
	// and deletes of live tokens in one durable transaction.
	CommitTokens(ctx context.Context, updates []*api.Token, deletes []*api.Token) error
}

type TokenReader interface {
	// ReadActiveTokens returns live tokens whose name starts with prefix, in
	// ascending name order. An empty prefix returns everything; used by the
	// master to rebuild its index at startup.
	ReadActiveTokens(ctx context.Context, namePrefix string) ([]*api.Token, error)
}

type ArchiveWriter interface {
	// ArchiveTokens removes the given live tokens and inserts them into the
	// archive namespace under api.ArchivePrefix + name, all in one durable
	// transaction.
	ArchiveTokens(ctx context.Context, tokens []*api.Token) error

	// DeleteArchivedTokens removes archived tokens by name. Retention only;
	// never on the master's path.
	DeleteArchivedTokens(ctx context.Context, names []string) error
}

type ArchiveReader interface {
	// ReadArchivedTokens returns archived tokens whose (archived) name starts
	// with prefix, ascending by name. Read-side only; the master never loads
	// the archive.
	ReadArchivedTokens(ctx context.Context, namePrefix string) ([]*api.Token, error)
}
