package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinterest/pinball/pkg/api"
)

func TestJobDataRoundTrip(t *testing.T) {
	job := &Job{
		Name:        "cook",
		Inputs:      []string{"shop"},
		Outputs:     []string{"eat"},
		Command:     "make dinner",
		MaxAttempts: 2,
		History: []ExecutionRecord{
			{Instance: "1", StartTime: 100, EndTime: 200, ExitCode: 0},
		},
	}
	data, err := job.Data()
	require.NoError(t, err)

	decoded, err := JobFromToken(&api.Token{Name: "/workflow/wf/1/job/waiting/cook", Data: data})
	require.NoError(t, err)
	assert.Equal(t, job, decoded)
}

func TestRetry(t *testing.T) {
	failure := func(instance string) ExecutionRecord {
		return ExecutionRecord{Instance: instance, ExitCode: 1}
	}
	success := func(instance string) ExecutionRecord {
		return ExecutionRecord{Instance: instance, ExitCode: 0}
	}

	testCases := []struct {
		name     string
		job      Job
		canRetry bool
	}{
		{
			"no history",
			Job{MaxAttempts: 3},
			false,
		},
		{
			"first failure with attempts left",
			Job{MaxAttempts: 2, History: []ExecutionRecord{failure("1")}},
			true,
		},
		{
			"attempts exhausted",
			Job{MaxAttempts: 2, History: []ExecutionRecord{failure("1"), failure("1")}},
			false,
		},
		{
			"failures in a previous instance do not count",
			Job{MaxAttempts: 2, History: []ExecutionRecord{
				failure("1"), failure("1"), failure("2"),
			}},
			true,
		},
		{
			"past successes within the instance do not reset the budget",
			Job{MaxAttempts: 2, History: []ExecutionRecord{
				failure("1"), success("1"), failure("1"),
			}},
			false,
		},
		{
			"single attempt jobs never retry",
			Job{MaxAttempts: 1, History: []ExecutionRecord{failure("1")}},
			false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.canRetry, tc.job.Retry())
		})
	}
}

func TestCustomizeCommand(t *testing.T) {
	job := &Job{
		Command: "process --date {{date}} --source {{source}} --missing {{nope}}",
		History: []ExecutionRecord{{
			Instance: "1",
			Events: []Event{
				{Attributes: map[string]string{"date": "2026-08-06"}},
				{Attributes: map[string]string{"source": "s3", "date": "2026-08-07"}},
			},
		}},
	}
	assert.Equal(t,
		"process --date 2026-08-06,2026-08-07 --source s3 --missing ",
		job.CustomizeCommand())
}

func TestCustomizeCommandWithoutHistory(t *testing.T) {
	job := &Job{Command: "run {{x}}"}
	assert.Equal(t, "run {{x}}", job.CustomizeCommand())
}
