// Package api defines the token model and the request/response messages of
// the token master, together with their wire encoding.
//
// A token is the unit of state in the system. Its name is a unique,
// hierarchical, slash-separated key; its version changes on every write; the
// owner and expiration time together form a lease making the token
// temporarily unclaimable.
package api

import (
	"time"
)

// NeverExpires marks a token as permanently unclaimable when used as the
// lease expiration time.
const NeverExpires int64 = 1<<63 - 1

// ArchivePrefix is prepended to the name of a token moved to the archive
// namespace.
const ArchivePrefix = "/__ARCHIVE__"

// Token is the atomic unit of state held by the master.
type Token struct {
	// Version is assigned by the master on every insert or update. Versions
	// are unique across the lifetime of the master, including restarts.
	Version int64
	// Name is the token's unique hierarchical key. Immutable.
	Name string
	// Owner is an opaque identity string. Empty means unowned.
	Owner string
	// ExpirationTime is the lease end in Unix seconds. Zero means no lease.
	ExpirationTime int64
	// Priority orders tokens during claims. Higher wins.
	Priority float64
	// Data is an opaque application payload.
	Data []byte
}

// OwnedAt reports whether the token is owned at the given time. A token is
// owned iff it has a non-empty owner and its lease has not expired; anything
// else is claimable.
func (t *Token) OwnedAt(now time.Time) bool {
	return t.Owner != "" && t.ExpirationTime > now.Unix()
}

// Unown clears the token's lease.
func (t *Token) Unown() {
	t.Owner = ""
	t.ExpirationTime = 0
}

// Clone returns a deep copy of the token.
func (t *Token) Clone() *Token {
	c := *t
	if t.Data != nil {
		c.Data = make([]byte, len(t.Data))
		copy(c.Data, t.Data)
	}
	return &c
}
