// Package parser turns user workflow definitions into the initial token sets
// the master is seeded with. It is an ordinary client of the master: the
// tokens it emits are inserted through a plain modify batch.
package parser

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/scheduler"
	"github.com/pinterest/pinball/pkg/workflow"
)

// Config is the root of a workflow definition file.
type Config struct {
	Workflows []WorkflowConfig `yaml:"workflows"`
}

type WorkflowConfig struct {
	Name     string         `yaml:"name"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Jobs     []JobConfig    `yaml:"jobs"`
}

type ScheduleConfig struct {
	// Start is the first run time, RFC 3339. Empty means "now".
	Start string `yaml:"start"`
	// Recurrence is an ISO-8601 duration, e.g. P1D.
	Recurrence          string   `yaml:"recurrence"`
	OverrunPolicy       string   `yaml:"overrunPolicy"`
	MaxRunningInstances int      `yaml:"maxRunningInstances"`
	Emails              []string `yaml:"emails"`
}

type JobConfig struct {
	Name          string   `yaml:"name"`
	Command       string   `yaml:"command"`
	DependsOn     []string `yaml:"dependsOn"`
	Priority      float64  `yaml:"priority"`
	MaxAttempts   int      `yaml:"maxAttempts"`
	RetryDelaySec int64    `yaml:"retryDelaySec"`
	Disabled      bool     `yaml:"disabled"`
	Emails        []string `yaml:"emails"`
}

// Parser emits tokens from a parsed workflow configuration.
type Parser struct {
	config Config
	byName map[string]*WorkflowConfig
}

var _ scheduler.TokenSource = &Parser{}

// Load reads and validates a workflow definition file.
func Load(path string) (*Parser, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse validates a workflow definition document.
func Parse(raw []byte) (*Parser, error) {
	config := Config{}
	if err := yaml.Unmarshal(raw, &config); err != nil {
		return nil, fmt.Errorf("parsing workflow config: %w", err)
	}
	p := &Parser{config: config, byName: make(map[string]*WorkflowConfig)}
	for i := range config.Workflows {
		wf := &config.Workflows[i]
		if wf.Name == "" {
			return nil, fmt.Errorf("workflow #%d has no name", i)
		}
		if _, dup := p.byName[wf.Name]; dup {
			return nil, fmt.Errorf("workflow %s defined twice", wf.Name)
		}
		if err := validateJobs(wf); err != nil {
			return nil, err
		}
		p.byName[wf.Name] = wf
	}
	return p, nil
}

func validateJobs(wf *WorkflowConfig) error {
	if len(wf.Jobs) == 0 {
		return fmt.Errorf("workflow %s has no jobs", wf.Name)
	}
	jobs := make(map[string]*JobConfig, len(wf.Jobs))
	for i := range wf.Jobs {
		job := &wf.Jobs[i]
		if job.Name == "" {
			return fmt.Errorf("workflow %s: job #%d has no name", wf.Name, i)
		}
		if _, dup := jobs[job.Name]; dup {
			return fmt.Errorf("workflow %s: job %s defined twice", wf.Name, job.Name)
		}
		jobs[job.Name] = job
	}
	for _, job := range wf.Jobs {
		for _, dep := range job.DependsOn {
			if _, ok := jobs[dep]; !ok {
				return fmt.Errorf("workflow %s: job %s depends on unknown job %s", wf.Name, job.Name, dep)
			}
		}
	}
	if cyclic(wf.Jobs) {
		return fmt.Errorf("workflow %s: job dependencies form a cycle", wf.Name)
	}
	if _, err := scheduler.ParseOverrunPolicy(wf.Schedule.OverrunPolicy); err != nil {
		return fmt.Errorf("workflow %s: %w", wf.Name, err)
	}
	return nil
}

func cyclic(jobs []JobConfig) bool {
	deps := make(map[string][]string, len(jobs))
	for _, job := range jobs {
		deps[job.Name] = job.DependsOn
	}
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(jobs))
	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case visiting:
			return true
		case done:
			return false
		}
		state[name] = visiting
		for _, dep := range deps[name] {
			if visit(dep) {
				return true
			}
		}
		state[name] = done
		return false
	}
	for _, job := range jobs {
		if visit(job.Name) {
			return true
		}
	}
	return false
}

// Workflows lists the configured workflow names.
func (p *Parser) Workflows() []string {
	names := make([]string, 0, len(p.config.Workflows))
	for _, wf := range p.config.Workflows {
		names = append(names, wf.Name)
	}
	return names
}

// WorkflowTokens emits the initial token set of a fresh instance. Jobs with
// no dependencies start under the runnable path; everything else waits for
// events. The job lifecycle state lives in the name hierarchy, never in the
// payload.
func (p *Parser) WorkflowTokens(workflowName string) ([]*api.Token, string, error) {
	wf, ok := p.byName[workflowName]
	if !ok {
		return nil, "", fmt.Errorf("workflow %s not found", workflowName)
	}
	instance := newInstanceID()

	outputs := make(map[string][]string)
	for _, job := range wf.Jobs {
		for _, dep := range job.DependsOn {
			outputs[dep] = append(outputs[dep], job.Name)
		}
	}

	tokens := make([]*api.Token, 0, len(wf.Jobs))
	for _, jc := range wf.Jobs {
		state := workflow.StateWaiting
		if len(jc.DependsOn) == 0 {
			state = workflow.StateRunnable
		}
		job := workflow.Job{
			Name:          jc.Name,
			Inputs:        jc.DependsOn,
			Outputs:       outputs[jc.Name],
			Command:       jc.Command,
			Emails:        jc.Emails,
			MaxAttempts:   jc.MaxAttempts,
			RetryDelaySec: jc.RetryDelaySec,
			Disabled:      jc.Disabled,
		}
		if job.MaxAttempts <= 0 {
			job.MaxAttempts = 1
		}
		data, err := job.Data()
		if err != nil {
			return nil, "", err
		}
		name := workflow.Name{
			Workflow: workflowName,
			Instance: instance,
			JobState: state,
			Job:      jc.Name,
		}
		tokens = append(tokens, &api.Token{
			Name:     name.JobTokenName(),
			Priority: jc.Priority,
			Data:     data,
		})
	}
	return tokens, instance, nil
}

// ScheduleTokens emits one schedule token per configured workflow that has a
// recurrence; workflows without one get no schedule token. The token
// stays leased until its next run time, which is what makes due schedules
// claimable.
func (p *Parser) ScheduleTokens(now time.Time) ([]*api.Token, error) {
	tokens := make([]*api.Token, 0, len(p.config.Workflows))
	for _, wf := range p.config.Workflows {
		if wf.Schedule.Recurrence == "" {
			continue
		}
		nextRun := now
		if wf.Schedule.Start != "" {
			start, err := time.Parse(time.RFC3339, wf.Schedule.Start)
			if err != nil {
				return nil, fmt.Errorf("workflow %s: parsing schedule start: %w", wf.Name, err)
			}
			nextRun = start
		}
		policy, err := scheduler.ParseOverrunPolicy(wf.Schedule.OverrunPolicy)
		if err != nil {
			return nil, err
		}
		schedule := scheduler.WorkflowSchedule{
			Workflow:            wf.Name,
			NextRunTime:         nextRun.Unix(),
			Recurrence:          wf.Schedule.Recurrence,
			OverrunPolicy:       policy,
			Emails:              wf.Schedule.Emails,
			MaxRunningInstances: wf.Schedule.MaxRunningInstances,
		}
		data, err := schedule.Data()
		if err != nil {
			return nil, err
		}
		name := workflow.Name{Workflow: wf.Name}
		tokens = append(tokens, &api.Token{
			Name:           name.ScheduleTokenName(),
			Owner:          "__schedule__",
			ExpirationTime: nextRun.Unix(),
			Data:           data,
		})
	}
	return tokens, nil
}

func newInstanceID() string {
	return fmt.Sprintf("%d_%s", time.Now().Unix(), uuid.NewString()[:8])
}
