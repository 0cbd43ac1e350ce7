// Package ui builds the read-side views of workflow state. It reads the
// persistence layer directly and never talks to the master, so the UI keeps
// working against both live and archived instances without loading the
// master.
package ui

import (
	"github.com/pinterest/pinball/pkg/workflow"
)

type Status string

const (
	// StatusRunning covers instances with work still outstanding.
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCESS"
	StatusFailed    Status = "FAILURE"
	StatusAborted   Status = "ABORTED"
)

// JobState is where a job token currently sits in the name hierarchy,
// refined by ownership for runnable tokens.
type JobState string

const (
	JobWaiting  JobState = "waiting"
	JobRunnable JobState = "runnable"
	JobRunning  JobState = "running"
)

type WorkflowData struct {
	Workflow     string `json:"workflow"`
	Status       Status `json:"status"`
	LastInstance string `json:"lastInstance,omitempty"`
	Instances    int    `json:"instances"`
}

type InstanceData struct {
	Workflow  string `json:"workflow"`
	Instance  string `json:"instance"`
	Status    Status `json:"status"`
	Archived  bool   `json:"archived"`
	StartTime int64  `json:"startTime,omitempty"`
	EndTime   int64  `json:"endTime,omitempty"`
	Jobs      int    `json:"jobs"`
}

type JobData struct {
	Job          string   `json:"job"`
	State        JobState `json:"state"`
	Disabled     bool     `json:"disabled,omitempty"`
	Priority     float64  `json:"priority,omitempty"`
	Executions   int      `json:"executions"`
	LastExitCode int      `json:"lastExitCode,omitempty"`
}

type ExecutionData struct {
	Job string `json:"job"`
	workflow.ExecutionRecord
}
