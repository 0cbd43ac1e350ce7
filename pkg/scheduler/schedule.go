// Package scheduler runs workflows at predefined times. Schedules are
// ordinary tokens under /schedule/workflow/; a schedule token's lease
// expiration doubles as its next run time, so claiming an unowned schedule
// token is exactly claiming a schedule that is due.
package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/senseyeio/duration"

	"github.com/pinterest/pinball/pkg/api"
)

// OverrunPolicy defines what to do when a schedule fires while the previous
// run has not finished.
type OverrunPolicy string

const (
	// StartNew starts a new instance in parallel to running ones.
	StartNew OverrunPolicy = "START_NEW"
	// Skip skips the execution if one is already running.
	Skip OverrunPolicy = "SKIP"
	// AbortRunning aborts the running instance before starting a new one.
	AbortRunning OverrunPolicy = "ABORT_RUNNING"
	// Delay delays the execution until the previous one finishes.
	Delay OverrunPolicy = "DELAY"
	// DelayUntilSuccess delays the execution until the previous one
	// succeeds.
	DelayUntilSuccess OverrunPolicy = "DELAY_UNTIL_SUCCESS"
)

// ParseOverrunPolicy validates a policy name.
func ParseOverrunPolicy(s string) (OverrunPolicy, error) {
	switch OverrunPolicy(s) {
	case StartNew, Skip, AbortRunning, Delay, DelayUntilSuccess:
		return OverrunPolicy(s), nil
	case "":
		return Skip, nil
	}
	return "", fmt.Errorf("unknown overrun policy %q", s)
}

// WorkflowSchedule is the payload of a schedule token.
type WorkflowSchedule struct {
	Workflow string `json:"workflow"`
	// NextRunTime is when the workflow should next start, Unix seconds.
	NextRunTime int64 `json:"nextRunTime"`
	// Recurrence is an ISO-8601 duration, e.g. P1D or PT4H.
	Recurrence          string        `json:"recurrence"`
	OverrunPolicy       OverrunPolicy `json:"overrunPolicy"`
	Emails              []string      `json:"emails,omitempty"`
	MaxRunningInstances int           `json:"maxRunningInstances,omitempty"`
}

func ScheduleFromToken(t *api.Token) (*WorkflowSchedule, error) {
	s := &WorkflowSchedule{}
	if err := json.Unmarshal(t.Data, s); err != nil {
		return nil, fmt.Errorf("decoding schedule token %s: %w", t.Name, err)
	}
	return s, nil
}

func (s *WorkflowSchedule) Data() ([]byte, error) {
	return json.Marshal(s)
}

// AdvanceNextRunTime moves the scheduled run time past now by whole
// recurrence steps.
func (s *WorkflowSchedule) AdvanceNextRunTime(now time.Time) error {
	rec, err := duration.ParseISO8601(s.Recurrence)
	if err != nil {
		return fmt.Errorf("schedule for %s: parsing recurrence %q: %w", s.Workflow, s.Recurrence, err)
	}
	next := time.Unix(s.NextRunTime, 0)
	for !next.After(now) {
		shifted := rec.Shift(next)
		if !shifted.After(next) {
			return fmt.Errorf("schedule for %s: recurrence %q does not advance", s.Workflow, s.Recurrence)
		}
		next = shifted
	}
	s.NextRunTime = next.Unix()
	return nil
}
