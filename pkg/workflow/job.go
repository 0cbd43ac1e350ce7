package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pinterest/pinball/pkg/api"
)

// ExecutionRecord captures one run of a job. The triggering events are part
// of the record, so the exact inputs of any past execution can be re-posted.
type ExecutionRecord struct {
	Instance   string            `json:"instance"`
	StartTime  int64             `json:"startTime"`
	EndTime    int64             `json:"endTime,omitempty"`
	Command    string            `json:"command,omitempty"`
	ExitCode   int               `json:"exitCode"`
	Error      string            `json:"error,omitempty"`
	Disabled   bool              `json:"disabled,omitempty"`
	Events     []Event           `json:"events,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Succeeded reports whether this run completed cleanly. Disabled runs count
// as successes.
func (r *ExecutionRecord) Succeeded() bool {
	return r.ExitCode == 0 && r.Error == ""
}

// EventAttributes consolidates attributes of the triggering events into one
// map. Values of an attribute present in several events join with commas.
func (r *ExecutionRecord) EventAttributes() map[string]string {
	res := make(map[string]string)
	for _, e := range r.Events {
		for key, value := range e.Attributes {
			if prev, ok := res[key]; ok {
				res[key] = prev + "," + value
			} else {
				res[key] = value
			}
		}
	}
	return res
}

// Job is the metadata stored in a job token: the workflow topology around the
// job, everything needed to execute it, and its execution history.
type Job struct {
	Name     string   `json:"name"`
	Inputs   []string `json:"inputs,omitempty"`
	Outputs  []string `json:"outputs,omitempty"`
	Command  string   `json:"command"`
	Emails   []string `json:"emails,omitempty"`
	// MaxAttempts bounds the failed runs within one instance before
	// the job is declared failed.
	MaxAttempts int `json:"maxAttempts"`
	// RetryDelaySec delays a retry by keeping the failed token leased.
	RetryDelaySec int64 `json:"retryDelaySec,omitempty"`
	// Disabled jobs are marked successful without executing.
	Disabled bool              `json:"disabled,omitempty"`
	History  []ExecutionRecord `json:"history,omitempty"`
}

// JobFromToken decodes the job stored in a token's data.
func JobFromToken(t *api.Token) (*Job, error) {
	j := &Job{}
	if err := json.Unmarshal(t.Data, j); err != nil {
		return nil, fmt.Errorf("decoding job token %s: %w", t.Name, err)
	}
	return j, nil
}

// Data serializes the job for a token payload.
func (j *Job) Data() ([]byte, error) {
	return json.Marshal(j)
}

// Retry decides whether a failed job should run again: true while the count
// of failed runs within the current instance is below MaxAttempts.
// Successful runs of earlier re-executions do not reset the budget.
func (j *Job) Retry() bool {
	if len(j.History) == 0 {
		return false
	}
	last := j.History[len(j.History)-1]
	attempts := j.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	failed := 0
	for i := len(j.History) - 1; i >= 0; i-- {
		record := j.History[i]
		if record.Instance != last.Instance {
			break
		}
		if !record.Succeeded() {
			failed++
		}
		if failed >= attempts {
			return false
		}
	}
	return true
}

// CustomizeCommand substitutes {{attr}} placeholders in the job command with
// attribute values consolidated from the triggering events of the most
// recent execution. Unknown placeholders become empty strings.
func (j *Job) CustomizeCommand() string {
	if len(j.History) == 0 {
		return j.Command
	}
	attributes := j.History[len(j.History)-1].EventAttributes()
	command := j.Command
	for {
		start := strings.Index(command, "{{")
		if start < 0 {
			return command
		}
		end := strings.Index(command[start:], "}}")
		if end < 0 {
			return command
		}
		key := strings.TrimSpace(command[start+2 : start+end])
		command = command[:start] + attributes[key] + command[start+end+2:]
	}
}
