package ui

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/storage/inmemory"
	"github.com/pinterest/pinball/pkg/workflow"
)

func jobToken(t *testing.T, wf, instance, state string, job workflow.Job, owner string) *api.Token {
	t.Helper()
	data, err := job.Data()
	require.NoError(t, err)
	name := workflow.Name{Workflow: wf, Instance: instance, JobState: state, Job: job.Name}
	tok := &api.Token{Name: name.JobTokenName(), Version: 1, Data: data}
	if owner != "" {
		tok.Owner = owner
		tok.ExpirationTime = time.Now().Add(time.Hour).Unix()
	}
	return tok
}

func record(instance string, exitCode int, start, end int64) workflow.ExecutionRecord {
	return workflow.ExecutionRecord{
		Instance:  instance,
		StartTime: start,
		EndTime:   end,
		ExitCode:  exitCode,
	}
}

func seedStore(t *testing.T) *inmemory.Store {
	t.Helper()
	store := inmemory.NewStore()
	ctx := context.Background()

	// Live instance 2: one job running, one waiting.
	running := workflow.Job{Name: "cook", Command: "x", MaxAttempts: 1,
		History: []workflow.ExecutionRecord{record("2", 0, 100, 0)}}
	waiting := workflow.Job{Name: "eat", Command: "x", MaxAttempts: 1}
	require.NoError(t, store.CommitTokens(ctx, []*api.Token{
		jobToken(t, "dinner", "2", workflow.StateRunnable, running, "w1"),
		jobToken(t, "dinner", "2", workflow.StateWaiting, waiting, ""),
	}, nil))

	// Archived instance 1: all jobs succeeded.
	done := workflow.Job{Name: "cook", Command: "x", MaxAttempts: 1,
		History: []workflow.ExecutionRecord{record("1", 0, 10, 20)}}
	doneTok := jobToken(t, "dinner", "1", workflow.StateWaiting, done, "")
	require.NoError(t, store.CommitTokens(ctx, []*api.Token{doneTok}, nil))
	require.NoError(t, store.ArchiveTokens(ctx, []*api.Token{doneTok}))

	// Archived instance 9 of another workflow: failed.
	failed := workflow.Job{Name: "fetch", Command: "x", MaxAttempts: 1,
		History: []workflow.ExecutionRecord{record("9", 1, 10, 30)}}
	failedTok := jobToken(t, "report", "9", workflow.StateWaiting, failed, "")
	require.NoError(t, store.CommitTokens(ctx, []*api.Token{failedTok}, nil))
	require.NoError(t, store.ArchiveTokens(ctx, []*api.Token{failedTok}))

	return store
}

func TestWorkflows(t *testing.T) {
	store := seedStore(t)
	b := NewDataBuilder(store, store)

	workflows, err := b.Workflows(context.Background())
	require.NoError(t, err)
	require.Len(t, workflows, 2)

	assert.Equal(t, "dinner", workflows[0].Workflow)
	assert.Equal(t, StatusRunning, workflows[0].Status)
	assert.Equal(t, "2", workflows[0].LastInstance)
	assert.Equal(t, 2, workflows[0].Instances)

	assert.Equal(t, "report", workflows[1].Workflow)
	assert.Equal(t, StatusFailed, workflows[1].Status)
}

func TestInstances(t *testing.T) {
	store := seedStore(t)
	b := NewDataBuilder(store, store)

	instances, err := b.Instances(context.Background(), "dinner")
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, "2", instances[0].Instance)
	assert.Equal(t, StatusRunning, instances[0].Status)
	assert.False(t, instances[0].Archived)

	assert.Equal(t, "1", instances[1].Instance)
	assert.Equal(t, StatusSucceeded, instances[1].Status)
	assert.True(t, instances[1].Archived)
	assert.Equal(t, int64(10), instances[1].StartTime)
	assert.Equal(t, int64(20), instances[1].EndTime)
}

func TestJobs(t *testing.T) {
	store := seedStore(t)
	b := NewDataBuilder(store, store)

	jobs, err := b.Jobs(context.Background(), "dinner", "2")
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "cook", jobs[0].Job)
	assert.Equal(t, JobRunning, jobs[0].State, "an owned runnable token is a running job")
	assert.Equal(t, 1, jobs[0].Executions)

	assert.Equal(t, "eat", jobs[1].Job)
	assert.Equal(t, JobWaiting, jobs[1].State)
	assert.Zero(t, jobs[1].Executions)
}

func TestJobsOfArchivedInstance(t *testing.T) {
	store := seedStore(t)
	b := NewDataBuilder(store, store)

	jobs, err := b.Jobs(context.Background(), "dinner", "1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "cook", jobs[0].Job)
	assert.Equal(t, JobWaiting, jobs[0].State)
}

func TestExecutions(t *testing.T) {
	store := seedStore(t)
	b := NewDataBuilder(store, store)

	executions, err := b.Executions(context.Background(), "report", "9", "fetch")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, "fetch", executions[0].Job)
	assert.Equal(t, 1, executions[0].ExitCode)
}

func TestLastInstanceFailed(t *testing.T) {
	store := seedStore(t)
	b := NewDataBuilder(store, store)
	ctx := context.Background()

	failed, err := b.LastInstanceFailed(ctx, "report")
	require.NoError(t, err)
	assert.True(t, failed)

	failed, err = b.LastInstanceFailed(ctx, "dinner")
	require.NoError(t, err)
	assert.False(t, failed)

	failed, err = b.LastInstanceFailed(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, failed)
}
