// Package workflow implements the runtime protocol the workers speak on top
// of the token master: hierarchical token names, job and event records,
// signals, the claim-execute-advance loop, and instance archival.
//
// Token names are hierarchical with '/' as the level separator.
//
// A job token is named
//
//	/workflow/<workflow>/<instance>/job/[waiting|runnable]/<job>
//
// An event token is named
//
//	/workflow/<workflow>/<instance>/job/waiting/<job>/<input>/<event>
//
// Events post to the waiting path of the job they feed. Names are immutable,
// so events stay put while the job itself moves between waiting and
// runnable; they are deleted when the execution they triggered completes.
// In the basic dependency model <input> is the name of an upstream job.
//
// A signal token is named, depending on its scope,
//
//	/workflow/__SIGNAL__/<action>
//	/workflow/<workflow>/__SIGNAL__/<action>
//	/workflow/<workflow>/<instance>/__SIGNAL__/<action>
package workflow

import (
	"fmt"
	"regexp"
)

const (
	Delimiter = "/"

	// PrefixWorkflows roots the live workflow namespace.
	PrefixWorkflows = "/workflow/"
	// PrefixSchedules roots the schedule namespace.
	PrefixSchedules = "/schedule/"
	// PrefixWorkflowSchedules roots workflow schedule tokens.
	PrefixWorkflowSchedules = "/schedule/workflow/"

	StateWaiting  = "waiting"
	StateRunnable = "runnable"

	signalSegment = "__SIGNAL__"
)

// Name addresses one token in the workflow hierarchy. Unset fields cut the
// name short; the prefix and token-name methods return "" when the fields
// they need are missing.
type Name struct {
	Workflow string
	Instance string
	JobState string
	Job      string
	Input    string
	Event    string
	Signal   string
}

var (
	jobTokenRe   = regexp.MustCompile(`^/workflow/([^/]+)/([^/]+)/job/(waiting|runnable)/([^/]+)$`)
	eventTokenRe = regexp.MustCompile(`^/workflow/([^/]+)/([^/]+)/job/(waiting|runnable)/([^/]+)/([^/]+)/([^/]+)$`)
	signalTopRe  = regexp.MustCompile(`^/workflow/__SIGNAL__/([^/]+)$`)
	signalWfRe   = regexp.MustCompile(`^/workflow/([^/]+)/__SIGNAL__/([^/]+)$`)
	signalInstRe = regexp.MustCompile(`^/workflow/([^/]+)/([^/]+)/__SIGNAL__/([^/]+)$`)
	scheduleRe   = regexp.MustCompile(`^/schedule/workflow/([^/]+)$`)
)

// ParseJobToken extracts workflow, instance, state, and job from a job token
// name. ok is false when the name has a different shape.
func ParseJobToken(name string) (Name, bool) {
	m := jobTokenRe.FindStringSubmatch(name)
	if m == nil {
		return Name{}, false
	}
	return Name{Workflow: m[1], Instance: m[2], JobState: m[3], Job: m[4]}, true
}

// ParseEventToken extracts the full coordinates of an event token.
func ParseEventToken(name string) (Name, bool) {
	m := eventTokenRe.FindStringSubmatch(name)
	if m == nil {
		return Name{}, false
	}
	return Name{Workflow: m[1], Instance: m[2], JobState: m[3], Job: m[4], Input: m[5], Event: m[6]}, true
}

// ParseSignalToken accepts signal names at any of the three scopes.
func ParseSignalToken(name string) (Name, bool) {
	if m := signalTopRe.FindStringSubmatch(name); m != nil {
		return Name{Signal: m[1]}, true
	}
	if m := signalWfRe.FindStringSubmatch(name); m != nil {
		return Name{Workflow: m[1], Signal: m[2]}, true
	}
	if m := signalInstRe.FindStringSubmatch(name); m != nil {
		return Name{Workflow: m[1], Instance: m[2], Signal: m[3]}, true
	}
	return Name{}, false
}

// ParseScheduleToken extracts the workflow of a schedule token.
func ParseScheduleToken(name string) (Name, bool) {
	m := scheduleRe.FindStringSubmatch(name)
	if m == nil {
		return Name{}, false
	}
	return Name{Workflow: m[1]}, true
}

func (n Name) WorkflowPrefix() string {
	if n.Workflow == "" {
		return ""
	}
	return fmt.Sprintf("/workflow/%s/", n.Workflow)
}

func (n Name) InstancePrefix() string {
	if n.Workflow == "" || n.Instance == "" {
		return ""
	}
	return fmt.Sprintf("/workflow/%s/%s/", n.Workflow, n.Instance)
}

func (n Name) JobPrefix() string {
	if n.Workflow == "" || n.Instance == "" {
		return ""
	}
	return fmt.Sprintf("/workflow/%s/%s/job/", n.Workflow, n.Instance)
}

func (n Name) JobStatePrefix() string {
	if n.Workflow == "" || n.Instance == "" || n.JobState == "" {
		return ""
	}
	return fmt.Sprintf("/workflow/%s/%s/job/%s/", n.Workflow, n.Instance, n.JobState)
}

func (n Name) JobTokenName() string {
	if n.Workflow == "" || n.Instance == "" || n.JobState == "" || n.Job == "" {
		return ""
	}
	return fmt.Sprintf("/workflow/%s/%s/job/%s/%s", n.Workflow, n.Instance, n.JobState, n.Job)
}

// InputPrefix is where events for one input of a job live. Events always sit
// under the waiting path regardless of the job's current state.
func (n Name) InputPrefix() string {
	if n.Workflow == "" || n.Instance == "" || n.Job == "" || n.Input == "" {
		return ""
	}
	return fmt.Sprintf("/workflow/%s/%s/job/%s/%s/%s/", n.Workflow, n.Instance, StateWaiting, n.Job, n.Input)
}

func (n Name) EventTokenName() string {
	if n.Workflow == "" || n.Instance == "" || n.Job == "" || n.Input == "" || n.Event == "" {
		return ""
	}
	return fmt.Sprintf("/workflow/%s/%s/job/%s/%s/%s/%s", n.Workflow, n.Instance, StateWaiting, n.Job, n.Input, n.Event)
}

// SignalPrefix narrows with the fields set: top level with nothing, workflow
// level with Workflow, instance level with Workflow and Instance.
func (n Name) SignalPrefix() string {
	if n.Workflow == "" {
		return fmt.Sprintf("/workflow/%s/", signalSegment)
	}
	if n.Instance == "" {
		return fmt.Sprintf("/workflow/%s/%s/", n.Workflow, signalSegment)
	}
	return fmt.Sprintf("/workflow/%s/%s/%s/", n.Workflow, n.Instance, signalSegment)
}

func (n Name) SignalTokenName() string {
	if n.Signal == "" {
		return ""
	}
	return n.SignalPrefix() + n.Signal
}

func (n Name) ScheduleTokenName() string {
	if n.Workflow == "" {
		return ""
	}
	return PrefixWorkflowSchedules + n.Workflow
}
