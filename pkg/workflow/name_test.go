package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobTokenNameRoundTrip(t *testing.T) {
	name := Name{
		Workflow: "some_workflow",
		Instance: "123",
		JobState: StateWaiting,
		Job:      "some_job",
	}
	assert.Equal(t, "/workflow/some_workflow/123/job/waiting/some_job", name.JobTokenName())

	parsed, ok := ParseJobToken(name.JobTokenName())
	assert.True(t, ok)
	assert.Equal(t, name, parsed)
}

func TestPrefixes(t *testing.T) {
	name := Name{
		Workflow: "some_workflow",
		Instance: "123",
		JobState: StateRunnable,
		Job:      "some_job",
		Input:    "some_input",
		Event:    "some_event",
	}
	assert.Equal(t, "/workflow/some_workflow/", name.WorkflowPrefix())
	assert.Equal(t, "/workflow/some_workflow/123/", name.InstancePrefix())
	assert.Equal(t, "/workflow/some_workflow/123/job/", name.JobPrefix())
	assert.Equal(t, "/workflow/some_workflow/123/job/runnable/", name.JobStatePrefix())
	assert.Equal(t, "/workflow/some_workflow/123/job/waiting/some_job/some_input/",
		name.InputPrefix())
}

// Events always format under the waiting path: names are immutable, so an
// event must not move when its job does.
func TestEventTokenName(t *testing.T) {
	name := Name{
		Workflow: "wf",
		Instance: "1",
		Job:      "cook",
		Input:    "shop",
		Event:    "e42",
	}
	assert.Equal(t, "/workflow/wf/1/job/waiting/cook/shop/e42", name.EventTokenName())

	parsed, ok := ParseEventToken(name.EventTokenName())
	assert.True(t, ok)
	assert.Equal(t, "wf", parsed.Workflow)
	assert.Equal(t, "1", parsed.Instance)
	assert.Equal(t, StateWaiting, parsed.JobState)
	assert.Equal(t, "cook", parsed.Job)
	assert.Equal(t, "shop", parsed.Input)
	assert.Equal(t, "e42", parsed.Event)
}

func TestParseJobTokenRejectsOtherShapes(t *testing.T) {
	for _, name := range []string{
		"/workflow/wf/1/job/waiting/cook/shop/e42", // event token
		"/workflow/wf/1/__SIGNAL__/ABORT",
		"/workflow/wf/1/job/disabled/cook",
		"/schedule/workflow/wf",
		"",
	} {
		_, ok := ParseJobToken(name)
		assert.False(t, ok, name)
	}
}

func TestSignalNames(t *testing.T) {
	top := Name{Signal: SignalExit}
	assert.Equal(t, "/workflow/__SIGNAL__/EXIT", top.SignalTokenName())

	wf := Name{Workflow: "wf", Signal: SignalDrain}
	assert.Equal(t, "/workflow/wf/__SIGNAL__/DRAIN", wf.SignalTokenName())

	inst := Name{Workflow: "wf", Instance: "1", Signal: SignalAbort}
	assert.Equal(t, "/workflow/wf/1/__SIGNAL__/ABORT", inst.SignalTokenName())

	parsed, ok := ParseSignalToken(inst.SignalTokenName())
	assert.True(t, ok)
	assert.Equal(t, "wf", parsed.Workflow)
	assert.Equal(t, "1", parsed.Instance)
	assert.Equal(t, SignalAbort, parsed.Signal)

	parsed, ok = ParseSignalToken(top.SignalTokenName())
	assert.True(t, ok)
	assert.Empty(t, parsed.Workflow)
	assert.Equal(t, SignalExit, parsed.Signal)
}

func TestScheduleTokenName(t *testing.T) {
	name := Name{Workflow: "wf"}
	assert.Equal(t, "/schedule/workflow/wf", name.ScheduleTokenName())

	parsed, ok := ParseScheduleToken("/schedule/workflow/wf")
	assert.True(t, ok)
	assert.Equal(t, "wf", parsed.Workflow)
}
