package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pinterest/pinball/internal/log"
	"github.com/pinterest/pinball/pkg/api"
)

// Signal actions communicate with workers through ordinary tokens. The
// location of a signal token defines its scope: top level applies to
// everything, workflow level to one workflow's instances, instance level to
// one instance.
const (
	// SignalDrain finishes currently running jobs but starts no new ones.
	SignalDrain = "DRAIN"
	// SignalAbort aborts running jobs and starts no new ones.
	SignalAbort = "ABORT"
	// SignalArchive archives the instance once it has no runnable jobs.
	SignalArchive = "ARCHIVE"
	// SignalExit shuts down workers. Meaningful at the top level only.
	SignalExit = "EXIT"
)

// Signal attribute keys.
const (
	// AttrGeneration scopes an EXIT signal to worker cohorts older than the
	// given generation.
	AttrGeneration = "GENERATION"
	// AttrTimestamp delays the effect of an ARCHIVE signal.
	AttrTimestamp = "TIMESTAMP"
)

// Signal is the payload of a signal token.
type Signal struct {
	Action     string           `json:"action"`
	Attributes map[string]int64 `json:"attributes,omitempty"`
}

func SignalFromToken(t *api.Token) (*Signal, error) {
	s := &Signal{}
	if err := json.Unmarshal(t.Data, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Signal) data() []byte {
	b, _ := json.Marshal(s)
	return b
}

// Signaller delivers and retrieves signals for one scope. It caches the
// signals it saw last; Refresh reloads them from the master.
type Signaller struct {
	client   api.Master
	workflow string
	instance string
	signals  map[string]*Signal
}

// NewSignaller loads the signals visible at the given scope: top-level
// signals always, workflow and instance ones when set.
func NewSignaller(ctx context.Context, client api.Master, workflow, instance string) (*Signaller, error) {
	s := &Signaller{
		client:   client,
		workflow: workflow,
		instance: instance,
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh reloads actions from the master. A duplicate action signalled at
// several levels collapses to one arbitrarily.
func (s *Signaller) Refresh(ctx context.Context) error {
	req := &api.QueryRequest{Queries: []*api.Query{
		{NamePrefix: Name{}.SignalPrefix()},
	}}
	if s.workflow != "" {
		req.Queries = append(req.Queries, &api.Query{
			NamePrefix: Name{Workflow: s.workflow}.SignalPrefix(),
		})
	}
	if s.workflow != "" && s.instance != "" {
		req.Queries = append(req.Queries, &api.Query{
			NamePrefix: Name{Workflow: s.workflow, Instance: s.instance}.SignalPrefix(),
		})
	}
	resp, err := s.client.Query(ctx, req)
	if err != nil {
		return err
	}
	s.signals = make(map[string]*Signal)
	for _, list := range resp.Lists {
		for _, t := range list.Tokens {
			signal, err := SignalFromToken(t)
			if err != nil {
				log.Error("dropping malformed signal token %s: %s", t.Name, err)
				continue
			}
			s.signals[signal.Action] = signal
		}
	}
	return nil
}

// IsSignalPresent checks the local cache for a signal with the given action.
func (s *Signaller) IsSignalPresent(action string) bool {
	_, ok := s.signals[action]
	return ok
}

// IsActionSet reports whether the action applies in the local context. An
// EXIT signal carrying a generation at or below the caller's does not apply:
// it targets older worker cohorts.
func (s *Signaller) IsActionSet(action string, generation int64) bool {
	signal, ok := s.signals[action]
	if !ok {
		return false
	}
	if action == SignalExit {
		if gen, ok := signal.Attributes[AttrGeneration]; ok && gen <= generation {
			return false
		}
	}
	return true
}

// GetAttribute returns the attribute value of a cached signal.
func (s *Signaller) GetAttribute(action, attribute string) (int64, bool) {
	signal, ok := s.signals[action]
	if !ok {
		return 0, false
	}
	v, ok := signal.Attributes[attribute]
	return v, ok
}

// SetAction posts a signal with the given action to the master at the
// signaller's scope. Posting an already present identical signal is a no-op.
func (s *Signaller) SetAction(ctx context.Context, action string) error {
	return s.SetActionWithAttributes(ctx, action, nil)
}

// SetActionWithAttributes posts a signal carrying attributes. ABORT signals
// get a timestamp attribute automatically.
func (s *Signaller) SetActionWithAttributes(ctx context.Context, action string, attributes map[string]int64) error {
	if attributes == nil {
		attributes = map[string]int64{}
	}
	if action == SignalAbort {
		if _, ok := attributes[AttrTimestamp]; !ok {
			attributes[AttrTimestamp] = time.Now().Unix()
		}
	}
	if existing, ok := s.signals[action]; ok && equalAttributes(existing.Attributes, attributes) {
		return nil
	}

	name := Name{Workflow: s.workflow, Instance: s.instance, Signal: action}
	signal := &Signal{Action: action, Attributes: attributes}
	token := &api.Token{Name: name.SignalTokenName(), Data: signal.data()}
	// A signal with the same action but different data may already exist.
	if existing, err := s.getSignalToken(ctx, action); err != nil {
		return err
	} else if existing != nil {
		token.Version = existing.Version
	}

	_, err := s.client.Modify(ctx, &api.ModifyRequest{Updates: []*api.Token{token}})
	if err != nil {
		// Someone may have posted the same signal concurrently.
		var merr *api.MasterError
		if errors.As(err, &merr) && merr.Code == api.ErrorVersionConflict {
			return s.Refresh(ctx)
		}
		return err
	}
	s.signals[action] = signal
	return nil
}

// SetAttributeIfMissing sets one attribute on an existing signal unless it
// already carries it. Returns true when this call set the attribute.
func (s *Signaller) SetAttributeIfMissing(ctx context.Context, action, attribute string, value int64) (bool, error) {
	signal, ok := s.signals[action]
	if !ok {
		return false, nil
	}
	if _, ok := signal.Attributes[attribute]; ok {
		return false, nil
	}
	attributes := make(map[string]int64, len(signal.Attributes)+1)
	for k, v := range signal.Attributes {
		attributes[k] = v
	}
	attributes[attribute] = value
	if err := s.SetActionWithAttributes(ctx, action, attributes); err != nil {
		return false, err
	}
	set := s.signals[action].Attributes[attribute] == value
	return set, nil
}

// RemoveAction deletes the signal token with the given action.
func (s *Signaller) RemoveAction(ctx context.Context, action string) error {
	token, err := s.getSignalToken(ctx, action)
	if err != nil {
		return err
	}
	if token != nil {
		_, err = s.client.Modify(ctx, &api.ModifyRequest{Deletes: []*api.Token{token}})
		if err != nil {
			return err
		}
	}
	delete(s.signals, action)
	return nil
}

func (s *Signaller) getSignalToken(ctx context.Context, action string) (*api.Token, error) {
	name := Name{Workflow: s.workflow, Instance: s.instance, Signal: action}
	resp, err := s.client.Query(ctx, &api.QueryRequest{Queries: []*api.Query{
		{NamePrefix: name.SignalTokenName(), MaxTokens: 1},
	}})
	if err != nil {
		return nil, err
	}
	tokens := resp.Lists[0].Tokens
	if len(tokens) == 0 {
		return nil, nil
	}
	return tokens[0], nil
}

func equalAttributes(a, b map[string]int64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
