package ui

import (
	"context"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/storage"
	"github.com/pinterest/pinball/pkg/workflow"
)

// archivedCacheSize bounds the number of archived instances kept in memory.
const archivedCacheSize = 1024

// DataBuilder derives workflow, instance, job, and execution views from raw
// tokens. Archived instances are immutable, so their token sets are cached.
type DataBuilder struct {
	store    storage.TokenReader
	archive  storage.ArchiveReader
	archived *lru.Cache[string, []*api.Token]
}

func NewDataBuilder(store storage.TokenReader, archive storage.ArchiveReader) *DataBuilder {
	cache, _ := lru.New[string, []*api.Token](archivedCacheSize)
	return &DataBuilder{store: store, archive: archive, archived: cache}
}

// Workflows lists every workflow with live or archived instances.
func (b *DataBuilder) Workflows(ctx context.Context) ([]WorkflowData, error) {
	workflows := make(map[string]*WorkflowData)

	collect := func(tokens []*api.Token, archived bool) {
		grouped := groupByInstance(tokens)
		for key, instanceTokens := range grouped {
			data := buildInstanceData(key.workflow, key.instance, instanceTokens, archived)
			wf, ok := workflows[key.workflow]
			if !ok {
				wf = &WorkflowData{Workflow: key.workflow}
				workflows[key.workflow] = wf
			}
			wf.Instances++
			if key.instance > wf.LastInstance {
				wf.LastInstance = key.instance
				wf.Status = data.Status
			}
		}
	}

	live, err := b.store.ReadActiveTokens(ctx, workflow.PrefixWorkflows)
	if err != nil {
		return nil, err
	}
	archivedTokens, err := b.archive.ReadArchivedTokens(ctx, api.ArchivePrefix+workflow.PrefixWorkflows)
	if err != nil {
		return nil, err
	}
	collect(stripArchivePrefix(archivedTokens), true)
	collect(live, false)

	res := make([]WorkflowData, 0, len(workflows))
	for _, wf := range workflows {
		res = append(res, *wf)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Workflow < res[j].Workflow })
	return res, nil
}

// Instances lists live and archived instances of one workflow, most recent
// first.
func (b *DataBuilder) Instances(ctx context.Context, workflowName string) ([]InstanceData, error) {
	prefix := workflow.Name{Workflow: workflowName}.WorkflowPrefix()
	live, err := b.store.ReadActiveTokens(ctx, prefix)
	if err != nil {
		return nil, err
	}
	archived, err := b.archive.ReadArchivedTokens(ctx, api.ArchivePrefix+prefix)
	if err != nil {
		return nil, err
	}

	res := make([]InstanceData, 0)
	for key, tokens := range groupByInstance(live) {
		res = append(res, *buildInstanceData(key.workflow, key.instance, tokens, false))
	}
	for key, tokens := range groupByInstance(stripArchivePrefix(archived)) {
		res = append(res, *buildInstanceData(key.workflow, key.instance, tokens, true))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Instance > res[j].Instance })
	return res, nil
}

// Jobs lists the jobs of one instance with their current lifecycle state.
func (b *DataBuilder) Jobs(ctx context.Context, workflowName, instance string) ([]JobData, error) {
	tokens, _, err := b.instanceTokens(ctx, workflowName, instance)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	res := make([]JobData, 0)
	for _, t := range tokens {
		name, ok := workflow.ParseJobToken(t.Name)
		if !ok {
			continue
		}
		job, err := workflow.JobFromToken(t)
		if err != nil {
			continue
		}
		data := JobData{
			Job:        name.Job,
			State:      JobState(name.JobState),
			Disabled:   job.Disabled,
			Priority:   t.Priority,
			Executions: len(job.History),
		}
		if name.JobState == workflow.StateRunnable && t.OwnedAt(now) {
			data.State = JobRunning
		}
		if len(job.History) > 0 {
			data.LastExitCode = job.History[len(job.History)-1].ExitCode
		}
		res = append(res, data)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Job < res[j].Job })
	return res, nil
}

// Executions returns the execution history of one job.
func (b *DataBuilder) Executions(ctx context.Context, workflowName, instance, jobName string) ([]ExecutionData, error) {
	tokens, _, err := b.instanceTokens(ctx, workflowName, instance)
	if err != nil {
		return nil, err
	}
	for _, t := range tokens {
		name, ok := workflow.ParseJobToken(t.Name)
		if !ok || name.Job != jobName {
			continue
		}
		job, err := workflow.JobFromToken(t)
		if err != nil {
			return nil, err
		}
		res := make([]ExecutionData, 0, len(job.History))
		for _, record := range job.History {
			res = append(res, ExecutionData{Job: jobName, ExecutionRecord: record})
		}
		return res, nil
	}
	return nil, storage.ErrNotFound
}

// LastInstanceFailed reports whether the most recent instance of the
// workflow failed. Satisfies the scheduler's status source.
func (b *DataBuilder) LastInstanceFailed(ctx context.Context, workflowName string) (bool, error) {
	instances, err := b.Instances(ctx, workflowName)
	if err != nil {
		return false, err
	}
	if len(instances) == 0 {
		return false, nil
	}
	return instances[0].Status == StatusFailed, nil
}

// instanceTokens reads one instance's tokens from the live namespace, then
// from the archive. Archived sets are cached; they never change.
func (b *DataBuilder) instanceTokens(ctx context.Context, workflowName, instance string) ([]*api.Token, bool, error) {
	prefix := workflow.Name{Workflow: workflowName, Instance: instance}.InstancePrefix()
	live, err := b.store.ReadActiveTokens(ctx, prefix)
	if err != nil {
		return nil, false, err
	}
	if len(live) > 0 {
		return live, false, nil
	}
	if cached, ok := b.archived.Get(prefix); ok {
		return cached, true, nil
	}
	archived, err := b.archive.ReadArchivedTokens(ctx, api.ArchivePrefix+prefix)
	if err != nil {
		return nil, false, err
	}
	tokens := stripArchivePrefix(archived)
	if len(tokens) > 0 {
		b.archived.Add(prefix, tokens)
	}
	return tokens, true, nil
}

type instanceKey struct {
	workflow string
	instance string
}

func groupByInstance(tokens []*api.Token) map[instanceKey][]*api.Token {
	res := make(map[instanceKey][]*api.Token)
	for _, t := range tokens {
		if name, ok := workflow.ParseJobToken(t.Name); ok {
			key := instanceKey{name.Workflow, name.Instance}
			res[key] = append(res[key], t)
			continue
		}
		if name, ok := workflow.ParseEventToken(t.Name); ok {
			key := instanceKey{name.Workflow, name.Instance}
			res[key] = append(res[key], t)
			continue
		}
		if name, ok := workflow.ParseSignalToken(t.Name); ok && name.Instance != "" {
			key := instanceKey{name.Workflow, name.Instance}
			res[key] = append(res[key], t)
		}
	}
	return res
}

func stripArchivePrefix(tokens []*api.Token) []*api.Token {
	res := make([]*api.Token, 0, len(tokens))
	for _, t := range tokens {
		stripped := t.Clone()
		stripped.Name = stripped.Name[len(api.ArchivePrefix):]
		res = append(res, stripped)
	}
	return res
}

// buildInstanceData derives the status of one instance from its tokens.
func buildInstanceData(workflowName, instance string, tokens []*api.Token, archived bool) *InstanceData {
	data := &InstanceData{
		Workflow: workflowName,
		Instance: instance,
		Archived: archived,
	}
	aborted := false
	running := false
	failed := false
	ranAll := true
	endTime := int64(0)
	for _, t := range tokens {
		if name, ok := workflow.ParseSignalToken(t.Name); ok {
			if name.Signal == workflow.SignalAbort {
				aborted = true
			}
			continue
		}
		name, ok := workflow.ParseJobToken(t.Name)
		if !ok {
			continue
		}
		job, err := workflow.JobFromToken(t)
		if err != nil {
			continue
		}
		data.Jobs++
		if name.JobState == workflow.StateRunnable {
			running = true
		}
		if len(job.History) == 0 {
			ranAll = false
			continue
		}
		first := job.History[0]
		last := job.History[len(job.History)-1]
		if data.StartTime == 0 || first.StartTime < data.StartTime {
			data.StartTime = first.StartTime
		}
		if last.EndTime > endTime {
			endTime = last.EndTime
		}
		if !last.Succeeded() {
			failed = true
		}
	}
	switch {
	case aborted:
		data.Status = StatusAborted
	case running && !archived:
		data.Status = StatusRunning
	case failed:
		data.Status = StatusFailed
	case ranAll:
		data.Status = StatusSucceeded
	case archived:
		data.Status = StatusAborted
	default:
		data.Status = StatusRunning
	}
	if data.Status != StatusRunning {
		data.EndTime = endTime
	}
	return data
}
