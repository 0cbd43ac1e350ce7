package workflow

import (
	"context"
	"strings"

	"github.com/pinterest/pinball/pkg/api"
)

// Inspector explores the live name hierarchy through group calls.
type Inspector struct {
	client api.Master
}

func NewInspector(client api.Master) *Inspector {
	return &Inspector{client: client}
}

// WorkflowNames lists workflows with live tokens.
func (i *Inspector) WorkflowNames(ctx context.Context) ([]string, error) {
	resp, err := i.client.Group(ctx, &api.GroupRequest{
		NamePrefix:  PrefixWorkflows,
		GroupSuffix: Delimiter,
	})
	if err != nil {
		return nil, err
	}
	return groupsToNames(resp.Counts), nil
}

// InstanceNames lists live instances of one workflow.
func (i *Inspector) InstanceNames(ctx context.Context, workflow string) ([]string, error) {
	resp, err := i.client.Group(ctx, &api.GroupRequest{
		NamePrefix:  Name{Workflow: workflow}.WorkflowPrefix(),
		GroupSuffix: Delimiter,
	})
	if err != nil {
		return nil, err
	}
	return groupsToNames(resp.Counts), nil
}

// InstanceCount counts live instances of one workflow, signals excluded.
func (i *Inspector) InstanceCount(ctx context.Context, workflow string) (int, error) {
	names, err := i.InstanceNames(ctx, workflow)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func groupsToNames(counts map[string]int64) []string {
	names := make([]string, 0, len(counts))
	for group := range counts {
		name := strings.TrimSuffix(group, Delimiter)
		if name == signalSegment {
			continue
		}
		names = append(names, name)
	}
	return names
}
