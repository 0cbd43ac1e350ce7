package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOwnedAt(t *testing.T) {
	now := time.Unix(1700000000, 0)

	testCases := []struct {
		name  string
		token Token
		owned bool
	}{
		{"unowned", Token{}, false},
		{"owner without lease", Token{Owner: "w1"}, false},
		{"active lease", Token{Owner: "w1", ExpirationTime: now.Unix() + 60}, true},
		{"expired lease", Token{Owner: "w1", ExpirationTime: now.Unix() - 1}, false},
		{"lease expiring this second", Token{Owner: "w1", ExpirationTime: now.Unix()}, false},
		{"lease without owner", Token{ExpirationTime: now.Unix() + 60}, false},
		{"permanently disabled", Token{Owner: "w1", ExpirationTime: NeverExpires}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.owned, tc.token.OwnedAt(now))
		})
	}
}

func TestClone(t *testing.T) {
	orig := &Token{
		Version:        42,
		Name:           "/workflow/wf/1/job/runnable/cook",
		Owner:          "w1",
		ExpirationTime: 1700000000,
		Priority:       1.5,
		Data:           []byte("payload"),
	}
	clone := orig.Clone()
	assert.Equal(t, orig, clone)

	clone.Data[0] = 'x'
	assert.Equal(t, byte('p'), orig.Data[0], "clone must not share the data slice")
}

func TestUnown(t *testing.T) {
	tok := &Token{Owner: "w1", ExpirationTime: 1700000000}
	tok.Unown()
	assert.Empty(t, tok.Owner)
	assert.Zero(t, tok.ExpirationTime)
	assert.False(t, tok.OwnedAt(time.Now()))
}
