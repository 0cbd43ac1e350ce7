package workflow

import (
	"encoding/json"

	"github.com/pinterest/pinball/pkg/api"
)

// Event signals a system state change, posted to one input of a downstream
// job. A job input is a bucket for events of one class, typically the
// completion of a specific upstream job. A job runs off one event from each
// of its inputs; that triggering set is absorbed into the job's execution
// record when consumed, which is what makes re-running an execution a matter
// of re-posting the same events.
type Event struct {
	// Creator identifies who posted the event (a worker name or a parser).
	Creator string `json:"creator,omitempty"`
	// Attributes carry values from the producing execution to the consuming
	// job, e.g. for command templating.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// EventFromToken decodes the event stored in a token's data.
func EventFromToken(t *api.Token) (*Event, error) {
	e := &Event{}
	if len(t.Data) == 0 {
		return e, nil
	}
	if err := json.Unmarshal(t.Data, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Data serializes the event for a token payload.
func (e *Event) Data() ([]byte, error) {
	return json.Marshal(e)
}
