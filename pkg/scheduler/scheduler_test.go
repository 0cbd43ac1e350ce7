package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinterest/pinball/internal/master"
	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/storage/inmemory"
	"github.com/pinterest/pinball/pkg/workflow"
)

func newTestMaster(t *testing.T) api.Master {
	t.Helper()
	m, err := master.NewMaster(inmemory.NewStore(), 1)
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)
	return m
}

type fakeSource struct {
	calls int
}

func (f *fakeSource) WorkflowTokens(workflowName string) ([]*api.Token, string, error) {
	f.calls++
	instance := fmt.Sprintf("i%d", f.calls)
	job := workflow.Job{Name: "only", Command: "true", MaxAttempts: 1}
	data, err := job.Data()
	if err != nil {
		return nil, "", err
	}
	name := workflow.Name{
		Workflow: workflowName,
		Instance: instance,
		JobState: workflow.StateRunnable,
		Job:      "only",
	}
	return []*api.Token{{Name: name.JobTokenName(), Data: data}}, instance, nil
}

func newTestScheduler(m api.Master, source TokenSource) *Scheduler {
	return NewScheduler(m, source, nil, Config{
		Name:         "test-scheduler",
		Lease:        time.Minute,
		PollInterval: 10 * time.Millisecond,
		Delay:        time.Minute,
	})
}

func insertSchedule(t *testing.T, m api.Master, schedule *WorkflowSchedule) {
	t.Helper()
	data, err := schedule.Data()
	require.NoError(t, err)
	name := workflow.Name{Workflow: schedule.Workflow}
	_, err = m.Modify(context.Background(), &api.ModifyRequest{Updates: []*api.Token{{
		Name:           name.ScheduleTokenName(),
		ExpirationTime: schedule.NextRunTime,
		Data:           data,
	}}})
	require.NoError(t, err)
}

func seedLiveInstance(t *testing.T, m api.Master, workflowName, instance string) {
	t.Helper()
	job := workflow.Job{Name: "running", Command: "x", MaxAttempts: 1}
	data, err := job.Data()
	require.NoError(t, err)
	name := workflow.Name{
		Workflow: workflowName,
		Instance: instance,
		JobState: workflow.StateRunnable,
		Job:      "running",
	}
	_, err = m.Modify(context.Background(), &api.ModifyRequest{Updates: []*api.Token{{
		Name: name.JobTokenName(),
		Data: data,
	}}})
	require.NoError(t, err)
}

func readSchedule(t *testing.T, m api.Master, workflowName string) (*WorkflowSchedule, *api.Token) {
	t.Helper()
	resp, err := m.Query(context.Background(), &api.QueryRequest{Queries: []*api.Query{
		{NamePrefix: workflow.PrefixSchedules},
	}})
	require.NoError(t, err)
	require.Len(t, resp.Lists[0].Tokens, 1)
	tok := resp.Lists[0].Tokens[0]
	schedule, err := ScheduleFromToken(tok)
	require.NoError(t, err)
	return schedule, tok
}

func TestSchedulerStartsDueWorkflow(t *testing.T) {
	m := newTestMaster(t)
	source := &fakeSource{}
	s := newTestScheduler(m, source)
	ctx := context.Background()

	now := time.Now()
	insertSchedule(t, m, &WorkflowSchedule{
		Workflow:      "wf",
		NextRunTime:   now.Add(-time.Minute).Unix(),
		Recurrence:    "PT1H",
		OverrunPolicy: Skip,
	})

	token := s.ownScheduleToken(ctx)
	require.NotNil(t, token)
	assert.Equal(t, "test-scheduler", token.Owner)
	s.runOrReschedule(ctx, token)

	assert.Equal(t, 1, source.calls)
	resp, err := m.Query(ctx, &api.QueryRequest{Queries: []*api.Query{
		{NamePrefix: workflow.PrefixWorkflows},
	}})
	require.NoError(t, err)
	require.Len(t, resp.Lists[0].Tokens, 1, "one instance bootstrapped")

	schedule, tok := readSchedule(t, m, "wf")
	assert.Greater(t, schedule.NextRunTime, now.Unix())
	assert.Equal(t, schedule.NextRunTime, tok.ExpirationTime,
		"the token stays leased until the next run")
}

func TestSchedulerSkipsWhileRunning(t *testing.T) {
	m := newTestMaster(t)
	source := &fakeSource{}
	s := newTestScheduler(m, source)
	ctx := context.Background()

	now := time.Now()
	seedLiveInstance(t, m, "wf", "i0")
	insertSchedule(t, m, &WorkflowSchedule{
		Workflow:      "wf",
		NextRunTime:   now.Add(-time.Minute).Unix(),
		Recurrence:    "PT1H",
		OverrunPolicy: Skip,
	})

	token := s.ownScheduleToken(ctx)
	require.NotNil(t, token)
	s.runOrReschedule(ctx, token)

	assert.Zero(t, source.calls, "SKIP must not start a new instance")
	schedule, _ := readSchedule(t, m, "wf")
	assert.Greater(t, schedule.NextRunTime, now.Unix(), "the missed run is skipped")
}

func TestSchedulerDelaysWhileRunning(t *testing.T) {
	m := newTestMaster(t)
	source := &fakeSource{}
	s := newTestScheduler(m, source)
	ctx := context.Background()

	now := time.Now()
	nextRun := now.Add(-time.Minute).Unix()
	seedLiveInstance(t, m, "wf", "i0")
	insertSchedule(t, m, &WorkflowSchedule{
		Workflow:      "wf",
		NextRunTime:   nextRun,
		Recurrence:    "PT1H",
		OverrunPolicy: Delay,
	})

	token := s.ownScheduleToken(ctx)
	require.NotNil(t, token)
	s.runOrReschedule(ctx, token)

	assert.Zero(t, source.calls)
	schedule, tok := readSchedule(t, m, "wf")
	assert.Equal(t, nextRun, schedule.NextRunTime, "DELAY keeps the run pending")
	assert.Greater(t, tok.ExpirationTime, now.Unix())
}

func TestSchedulerStartNewRunsInParallel(t *testing.T) {
	m := newTestMaster(t)
	source := &fakeSource{}
	s := newTestScheduler(m, source)
	ctx := context.Background()

	seedLiveInstance(t, m, "wf", "i0")
	insertSchedule(t, m, &WorkflowSchedule{
		Workflow:      "wf",
		NextRunTime:   time.Now().Add(-time.Minute).Unix(),
		Recurrence:    "PT1H",
		OverrunPolicy: StartNew,
	})

	token := s.ownScheduleToken(ctx)
	require.NotNil(t, token)
	s.runOrReschedule(ctx, token)

	assert.Equal(t, 1, source.calls)
}

func TestSchedulerAbortRunning(t *testing.T) {
	m := newTestMaster(t)
	source := &fakeSource{}
	s := newTestScheduler(m, source)
	ctx := context.Background()

	seedLiveInstance(t, m, "wf", "i0")
	insertSchedule(t, m, &WorkflowSchedule{
		Workflow:      "wf",
		NextRunTime:   time.Now().Add(-time.Minute).Unix(),
		Recurrence:    "PT1H",
		OverrunPolicy: AbortRunning,
	})

	token := s.ownScheduleToken(ctx)
	require.NotNil(t, token)
	s.runOrReschedule(ctx, token)

	assert.Equal(t, 1, source.calls)
	sig, err := workflow.NewSignaller(ctx, m, "wf", "i0")
	require.NoError(t, err)
	assert.True(t, sig.IsActionSet(workflow.SignalAbort, 1),
		"the running instance got the abort signal")
}

func TestSchedulerRespectsInstanceQuota(t *testing.T) {
	m := newTestMaster(t)
	source := &fakeSource{}
	s := newTestScheduler(m, source)
	ctx := context.Background()

	seedLiveInstance(t, m, "wf", "i0")
	insertSchedule(t, m, &WorkflowSchedule{
		Workflow:            "wf",
		NextRunTime:         time.Now().Add(-time.Minute).Unix(),
		Recurrence:          "PT1H",
		OverrunPolicy:       StartNew,
		MaxRunningInstances: 1,
	})

	token := s.ownScheduleToken(ctx)
	require.NotNil(t, token)
	s.runOrReschedule(ctx, token)

	assert.Zero(t, source.calls, "the quota caps even START_NEW")
}

func TestSchedulerParksEarlyClaims(t *testing.T) {
	m := newTestMaster(t)
	source := &fakeSource{}
	s := newTestScheduler(m, source)
	ctx := context.Background()

	// The schedule token is claimable (no lease) although its run time is in
	// the future, as happens with skewed clocks.
	future := time.Now().Add(time.Hour).Unix()
	data, err := (&WorkflowSchedule{
		Workflow:      "wf",
		NextRunTime:   future,
		Recurrence:    "PT1H",
		OverrunPolicy: Skip,
	}).Data()
	require.NoError(t, err)
	_, err = m.Modify(ctx, &api.ModifyRequest{Updates: []*api.Token{{
		Name: workflow.Name{Workflow: "wf"}.ScheduleTokenName(),
		Data: data,
	}}})
	require.NoError(t, err)

	token := s.ownScheduleToken(ctx)
	require.NotNil(t, token)
	s.runOrReschedule(ctx, token)

	assert.Zero(t, source.calls)
	_, tok := readSchedule(t, m, "wf")
	assert.Equal(t, future, tok.ExpirationTime, "the token sleeps until its run time")
}
