package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinterest/pinball/pkg/scheduler"
	"github.com/pinterest/pinball/pkg/workflow"
)

const exampleConfig = `
workflows:
  - name: dinner
    schedule:
      start: 2026-08-01T00:00:00Z
      recurrence: P1D
      overrunPolicy: SKIP
      maxRunningInstances: 2
    jobs:
      - name: shop
        command: "buy food"
        priority: 10
      - name: cook
        command: "make dinner"
        dependsOn: [shop]
        maxAttempts: 3
        retryDelaySec: 60
      - name: eat
        command: "eat dinner"
        dependsOn: [cook]
        disabled: true
`

func TestWorkflowTokens(t *testing.T) {
	p, err := Parse([]byte(exampleConfig))
	require.NoError(t, err)

	tokens, instance, err := p.WorkflowTokens("dinner")
	require.NoError(t, err)
	require.NotEmpty(t, instance)
	require.Len(t, tokens, 3)

	byJob := map[string]*workflow.Job{}
	states := map[string]string{}
	for _, tok := range tokens {
		name, ok := workflow.ParseJobToken(tok.Name)
		require.True(t, ok, tok.Name)
		assert.Equal(t, "dinner", name.Workflow)
		assert.Equal(t, instance, name.Instance)
		job, err := workflow.JobFromToken(tok)
		require.NoError(t, err)
		byJob[name.Job] = job
		states[name.Job] = name.JobState

		if name.Job == "shop" {
			assert.Equal(t, float64(10), tok.Priority)
		}
	}

	// Jobs without dependencies bootstrap as runnable; the rest wait for
	// events.
	assert.Equal(t, workflow.StateRunnable, states["shop"])
	assert.Equal(t, workflow.StateWaiting, states["cook"])
	assert.Equal(t, workflow.StateWaiting, states["eat"])

	// Outputs are the inverse of the configured dependencies.
	assert.Equal(t, []string{"cook"}, byJob["shop"].Outputs)
	assert.Equal(t, []string{"shop"}, byJob["cook"].Inputs)
	assert.Equal(t, []string{"eat"}, byJob["cook"].Outputs)
	assert.True(t, byJob["eat"].Disabled)
	assert.Equal(t, 3, byJob["cook"].MaxAttempts)
	assert.Equal(t, int64(60), byJob["cook"].RetryDelaySec)
	assert.Equal(t, 1, byJob["shop"].MaxAttempts, "attempts default to one")
}

func TestWorkflowTokensUnknownWorkflow(t *testing.T) {
	p, err := Parse([]byte(exampleConfig))
	require.NoError(t, err)

	_, _, err = p.WorkflowTokens("breakfast")
	assert.Error(t, err)
}

func TestInstanceIDsAreUnique(t *testing.T) {
	p, err := Parse([]byte(exampleConfig))
	require.NoError(t, err)

	_, first, err := p.WorkflowTokens("dinner")
	require.NoError(t, err)
	_, second, err := p.WorkflowTokens("dinner")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestScheduleTokens(t *testing.T) {
	p, err := Parse([]byte(exampleConfig))
	require.NoError(t, err)

	tokens, err := p.ScheduleTokens(time.Now())
	require.NoError(t, err)
	require.Len(t, tokens, 1)

	tok := tokens[0]
	assert.Equal(t, "/schedule/workflow/dinner", tok.Name)
	schedule, err := scheduler.ScheduleFromToken(tok)
	require.NoError(t, err)
	start, _ := time.Parse(time.RFC3339, "2026-08-01T00:00:00Z")
	assert.Equal(t, start.Unix(), schedule.NextRunTime)
	assert.Equal(t, tok.ExpirationTime, schedule.NextRunTime,
		"the token sleeps until the first run")
	assert.Equal(t, scheduler.Skip, schedule.OverrunPolicy)
	assert.Equal(t, 2, schedule.MaxRunningInstances)
	assert.Equal(t, "P1D", schedule.Recurrence)
}

func TestParseRejectsBadConfigs(t *testing.T) {
	testCases := []struct {
		name   string
		config string
	}{
		{
			"unknown dependency",
			`
workflows:
  - name: wf
    jobs:
      - name: a
        command: x
        dependsOn: [ghost]
`,
		},
		{
			"dependency cycle",
			`
workflows:
  - name: wf
    jobs:
      - name: a
        command: x
        dependsOn: [b]
      - name: b
        command: x
        dependsOn: [a]
`,
		},
		{
			"duplicate job",
			`
workflows:
  - name: wf
    jobs:
      - name: a
        command: x
      - name: a
        command: y
`,
		},
		{
			"no jobs",
			`
workflows:
  - name: wf
    jobs: []
`,
		},
		{
			"bad overrun policy",
			`
workflows:
  - name: wf
    schedule:
      overrunPolicy: MAYBE
    jobs:
      - name: a
        command: x
`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.config))
			assert.Error(t, err)
		})
	}
}
