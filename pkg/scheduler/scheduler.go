package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/pinterest/pinball/internal/log"
	"github.com/pinterest/pinball/pkg/api"
	"github.com/pinterest/pinball/pkg/workflow"
)

// TokenSource produces the initial token set of a new workflow instance.
// The workflow definition parser implements it.
type TokenSource interface {
	// WorkflowTokens returns the tokens bootstrapping one fresh instance of
	// the workflow, plus the instance id.
	WorkflowTokens(workflowName string) ([]*api.Token, string, error)
}

// StatusSource answers whether the most recent run of a workflow failed.
// Backed by the read-side data builder; nil disables the check.
type StatusSource interface {
	LastInstanceFailed(ctx context.Context, workflowName string) (bool, error)
}

// Config carries the knobs of one scheduler process.
type Config struct {
	// Name is the scheduler identity used as the schedule token owner.
	Name string
	// Lease is how long a claimed schedule token stays owned while being
	// manipulated.
	Lease time.Duration
	// PollInterval is the sleep when no schedule is due.
	PollInterval time.Duration
	// Delay postpones a run blocked by a DELAY-style overrun policy.
	Delay time.Duration
}

// SchedulerName builds a scheduler identity.
func SchedulerName(host string) string {
	return fmt.Sprintf("%s.scheduler.%s", host, uuid.NewString()[:8])
}

// Scheduler claims due schedule tokens and bootstraps workflow instances
// through the parser. Multiple schedulers coexist: claims are atomic, and a
// VERSION_CONFLICT just means another scheduler acted first.
type Scheduler struct {
	client    api.Master
	source    TokenSource
	status    StatusSource
	inspector *workflow.Inspector
	cfg       Config
}

func NewScheduler(client api.Master, source TokenSource, status StatusSource, cfg Config) *Scheduler {
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 5 * time.Minute
	}
	return &Scheduler{
		client:    client,
		source:    source,
		status:    status,
		inspector: workflow.NewInspector(client),
		cfg:       cfg,
	}
}

// Run is the scheduler loop. It returns when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info("running scheduler %s", s.cfg.Name)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		token := s.ownScheduleToken(ctx)
		if token == nil {
			jittered := time.Duration((1.0 + rand.Float64()) * float64(s.cfg.PollInterval))
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		s.runOrReschedule(ctx, token)
	}
}

// ownScheduleToken claims one schedule token. Only unowned tokens qualify,
// and unowned schedules are exactly the ones whose next run time has passed.
func (s *Scheduler) ownScheduleToken(ctx context.Context) *api.Token {
	resp, err := s.client.QueryAndOwn(ctx, &api.QueryAndOwnRequest{
		Owner:          s.cfg.Name,
		ExpirationTime: time.Now().Add(s.cfg.Lease).Unix(),
		Query:          &api.Query{NamePrefix: workflow.PrefixSchedules, MaxTokens: 1},
	})
	if err != nil {
		log.Error("scheduler %s: claiming schedule: %s", s.cfg.Name, err)
		return nil
	}
	if len(resp.Tokens) == 0 {
		return nil
	}
	return resp.Tokens[0]
}

// runOrReschedule runs the claimed schedule if the time is right and the
// overrun policy permits, otherwise pushes it to a later time. Everything,
// including the new instance's tokens, goes to the master in one batch.
func (s *Scheduler) runOrReschedule(ctx context.Context, token *api.Token) {
	schedule, err := ScheduleFromToken(token)
	if err != nil {
		log.Error("scheduler %s: %s", s.cfg.Name, err)
		return
	}
	now := time.Now()
	var instanceTokens []*api.Token

	switch {
	case schedule.NextRunTime > now.Unix():
		// Clock skew between schedulers can claim a token slightly early;
		// put it back to sleep until its run time.
		token.ExpirationTime = schedule.NextRunTime

	case s.mayRun(ctx, schedule):
		if schedule.OverrunPolicy == AbortRunning {
			if !s.abortRunning(ctx, schedule.Workflow) {
				return
			}
		}
		instanceTokens, _, err = s.source.WorkflowTokens(schedule.Workflow)
		if err != nil {
			log.Error("scheduler %s: parsing workflow %s: %s", s.cfg.Name, schedule.Workflow, err)
			return
		}
		if err := s.advance(schedule, token, now); err != nil {
			log.Error("scheduler %s: %s", s.cfg.Name, err)
			return
		}

	case schedule.OverrunPolicy == Skip:
		if err := s.advance(schedule, token, now); err != nil {
			log.Error("scheduler %s: %s", s.cfg.Name, err)
			return
		}

	default:
		// DELAY and DELAY_UNTIL_SUCCESS, and a full instance quota.
		token.ExpirationTime = now.Add(s.cfg.Delay).Unix()
	}

	req := &api.ModifyRequest{Updates: append(instanceTokens, token)}
	if _, err := s.client.Modify(ctx, req); err != nil {
		// A conflict means another actor got there first; that is fine.
		log.Error("scheduler %s: updating schedule for %s: %s", s.cfg.Name, schedule.Workflow, err)
	}
}

// mayRun consults the overrun policy against the currently running
// instances.
func (s *Scheduler) mayRun(ctx context.Context, schedule *WorkflowSchedule) bool {
	running, err := s.inspector.InstanceCount(ctx, schedule.Workflow)
	if err != nil {
		log.Error("scheduler %s: counting instances of %s: %s", s.cfg.Name, schedule.Workflow, err)
		return false
	}
	if schedule.MaxRunningInstances > 0 && running >= schedule.MaxRunningInstances {
		log.Warn("scheduler %s: too many (%d) instances running for workflow %s",
			s.cfg.Name, running, schedule.Workflow)
		return false
	}
	switch schedule.OverrunPolicy {
	case StartNew, AbortRunning:
		return true
	case DelayUntilSuccess:
		if s.status != nil {
			if failed, err := s.status.LastInstanceFailed(ctx, schedule.Workflow); err == nil && failed {
				return false
			}
		}
		return running == 0
	default:
		return running == 0
	}
}

// abortRunning posts the ABORT signal to every live instance.
func (s *Scheduler) abortRunning(ctx context.Context, workflowName string) bool {
	instances, err := s.inspector.InstanceNames(ctx, workflowName)
	if err != nil {
		log.Error("scheduler %s: listing instances of %s: %s", s.cfg.Name, workflowName, err)
		return false
	}
	for _, instance := range instances {
		sig, err := workflow.NewSignaller(ctx, s.client, workflowName, instance)
		if err != nil {
			return false
		}
		if err := sig.SetAction(ctx, workflow.SignalAbort); err != nil {
			log.Error("scheduler %s: aborting %s/%s: %s", s.cfg.Name, workflowName, instance, err)
			return false
		}
	}
	return true
}

// advance moves the schedule past now and parks the token until then.
func (s *Scheduler) advance(schedule *WorkflowSchedule, token *api.Token, now time.Time) error {
	if err := schedule.AdvanceNextRunTime(now); err != nil {
		return err
	}
	data, err := schedule.Data()
	if err != nil {
		return err
	}
	token.Data = data
	token.ExpirationTime = schedule.NextRunTime
	return nil
}
