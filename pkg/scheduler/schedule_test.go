package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceNextRunTime(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name       string
		recurrence string
		now        time.Time
		expected   time.Time
	}{
		{
			"one step",
			"P1D",
			base.Add(time.Hour),
			base.AddDate(0, 0, 1),
		},
		{
			"multiple missed runs collapse",
			"P1D",
			base.AddDate(0, 0, 10).Add(time.Hour),
			base.AddDate(0, 0, 11),
		},
		{
			"sub-day recurrence",
			"PT4H",
			base.Add(30 * time.Minute),
			base.Add(4 * time.Hour),
		},
		{
			"exactly on the boundary moves past it",
			"P1D",
			base.AddDate(0, 0, 1),
			base.AddDate(0, 0, 2),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := &WorkflowSchedule{
				Workflow:    "wf",
				NextRunTime: base.Unix(),
				Recurrence:  tc.recurrence,
			}
			require.NoError(t, s.AdvanceNextRunTime(tc.now))
			assert.Equal(t, tc.expected.Unix(), s.NextRunTime)
			assert.Greater(t, s.NextRunTime, tc.now.Unix())
		})
	}
}

func TestAdvanceNextRunTimeRejectsBadRecurrence(t *testing.T) {
	s := &WorkflowSchedule{Workflow: "wf", NextRunTime: 100, Recurrence: "often"}
	assert.Error(t, s.AdvanceNextRunTime(time.Unix(200, 0)))

	s = &WorkflowSchedule{Workflow: "wf", NextRunTime: 100, Recurrence: "PT0S"}
	assert.Error(t, s.AdvanceNextRunTime(time.Unix(200, 0)))
}

func TestParseOverrunPolicy(t *testing.T) {
	for _, valid := range []string{"START_NEW", "SKIP", "ABORT_RUNNING", "DELAY", "DELAY_UNTIL_SUCCESS"} {
		policy, err := ParseOverrunPolicy(valid)
		require.NoError(t, err)
		assert.Equal(t, OverrunPolicy(valid), policy)
	}

	policy, err := ParseOverrunPolicy("")
	require.NoError(t, err)
	assert.Equal(t, Skip, policy, "the default policy is SKIP")

	_, err = ParseOverrunPolicy("WHENEVER")
	assert.Error(t, err)
}
