package workflow

import (
	"context"
	"time"

	"github.com/pinterest/pinball/internal/log"
	"github.com/pinterest/pinball/pkg/api"
)

// Clocks on different machines can be off by this much; archiving treats a
// recently expired lease as still owned.
const clockSkewThreshold = 10 * time.Second

// Archiver moves a finished workflow instance to the archive namespace in
// one atomic batch.
type Archiver struct {
	client   api.Master
	workflow string
	instance string
}

func NewArchiver(client api.Master, workflow, instance string) *Archiver {
	return &Archiver{client: client, workflow: workflow, instance: instance}
}

// instanceTokens retrieves every token of the instance.
func (a *Archiver) instanceTokens(ctx context.Context) ([]*api.Token, error) {
	prefix := Name{Workflow: a.workflow, Instance: a.instance}.InstancePrefix()
	resp, err := a.client.Query(ctx, &api.QueryRequest{Queries: []*api.Query{
		{NamePrefix: prefix},
	}})
	if err != nil {
		return nil, err
	}
	return resp.Lists[0].Tokens, nil
}

func (a *Archiver) archiveTokens(ctx context.Context, tokens []*api.Token) error {
	_, err := a.client.Archive(ctx, &api.ArchiveRequest{Tokens: tokens})
	if err != nil {
		// The same or a different worker will try again some other time.
		log.Error("archiving instance %s/%s: %s", a.workflow, a.instance, err)
	}
	return err
}

// ArchiveIfExpired archives the instance once the expiration timestamp has
// passed. Returns true when the instance was archived by this call.
func (a *Archiver) ArchiveIfExpired(ctx context.Context, expiration int64) (bool, error) {
	if expiration > time.Now().Unix() {
		return false, nil
	}
	tokens, err := a.instanceTokens(ctx)
	if err != nil || len(tokens) == 0 {
		return false, err
	}
	if err := a.archiveTokens(ctx, tokens); err != nil {
		return false, err
	}
	return true, nil
}

// ArchiveIfAborted archives the instance if it carries an abort signal and
// no token is owned. Returns true when the instance was archived.
func (a *Archiver) ArchiveIfAborted(ctx context.Context) (bool, error) {
	tokens, err := a.instanceTokens(ctx)
	if err != nil || len(tokens) == 0 {
		return false, err
	}
	if !a.hasAbortToken(tokens) || hasOwnedTokens(tokens) {
		return false, nil
	}
	if err := a.archiveTokens(ctx, tokens); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Archiver) hasAbortToken(tokens []*api.Token) bool {
	abortName := Name{Workflow: a.workflow, Instance: a.instance, Signal: SignalAbort}.SignalTokenName()
	for _, t := range tokens {
		if t.Name == abortName {
			return true
		}
	}
	return false
}

// hasOwnedTokens errs on the false positive side: if it returns false the
// tokens are very likely unowned even across skewed clocks.
func hasOwnedTokens(tokens []*api.Token) bool {
	now := time.Now()
	for _, t := range tokens {
		if t.ExpirationTime == 0 || t.Owner == "" {
			continue
		}
		if now.Unix()-t.ExpirationTime < int64(clockSkewThreshold.Seconds()) {
			return true
		}
	}
	return false
}
