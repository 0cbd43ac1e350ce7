package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pinterest/pinball/internal/log"
	"github.com/pinterest/pinball/pkg/api"
)

// WorkerConfig carries the knobs of one worker process.
type WorkerConfig struct {
	// Name is the worker's stable identity, used as the token owner string.
	Name string
	// Generation tags the worker cohort; EXIT signals carrying a lower or
	// equal generation are ignored.
	Generation int64
	// Lease is how long a claim lasts before it must be renewed.
	Lease time.Duration
	// PollInterval is the base delay between claim attempts; actual sleeps
	// are jittered to break up worker herds.
	PollInterval time.Duration
	// ArchiveDelay is how long a finished instance stays live before
	// workers archive it.
	ArchiveDelay time.Duration
}

// WorkerName builds a worker identity from host, nonce, and generation.
func WorkerName(host string, generation int64) string {
	return fmt.Sprintf("%s.%s.gen%d", host, uuid.NewString()[:8], generation)
}

// Worker continuously claims runnable job tokens, executes them, and posts
// completion events to downstream jobs. Workers share no state; all
// coordination goes through atomic master operations and version checks.
type Worker struct {
	client    api.Master
	executor  Executor
	inspector *Inspector
	cfg       WorkerConfig

	// mu synchronizes the owned token between the worker loop and the lease
	// renewer.
	mu        sync.Mutex
	owned     *api.Token
	execution Execution
	aborted   bool

	renewStop chan struct{}
	renewDone chan struct{}
}

func NewWorker(client api.Master, executor Executor, cfg WorkerConfig) *Worker {
	if cfg.Lease <= 0 {
		cfg.Lease = 20 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.ArchiveDelay < 0 {
		cfg.ArchiveDelay = 0
	}
	return &Worker{
		client:    client,
		executor:  executor,
		inspector: NewInspector(client),
		cfg:       cfg,
	}
}

// Run is the worker loop. It returns when ctx is cancelled or an applicable
// EXIT signal is observed.
func (w *Worker) Run(ctx context.Context) error {
	log.Info("running worker %s", w.cfg.Name)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sig, err := NewSignaller(ctx, w.client, "", "")
		if err != nil {
			log.Error("worker %s: reading signals: %s", w.cfg.Name, err)
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if sig.IsActionSet(SignalExit, w.cfg.Generation) {
			log.Info("worker %s: exit signal observed", w.cfg.Name)
			return nil
		}
		if !sig.IsActionSet(SignalDrain, w.cfg.Generation) {
			w.ownRunnableJobToken(ctx)
		}
		if w.owned != nil {
			w.executeJob(ctx)
		} else if !w.sleep(ctx) {
			return ctx.Err()
		}
	}
}

// sleep waits a jittered poll interval; false means ctx ended.
func (w *Worker) sleep(ctx context.Context) bool {
	jittered := time.Duration((1.0 + rand.Float64()) * float64(w.cfg.PollInterval))
	select {
	case <-time.After(jittered):
		return true
	case <-ctx.Done():
		return false
	}
}

// ownRunnableJobToken attempts to claim a runnable job token from any
// workflow instance. Workflows and instances are visited in random order to
// address starvation.
func (w *Worker) ownRunnableJobToken(ctx context.Context) {
	workflows, err := w.inspector.WorkflowNames(ctx)
	if err != nil {
		log.Error("worker %s: listing workflows: %s", w.cfg.Name, err)
		return
	}
	rand.Shuffle(len(workflows), func(i, j int) {
		workflows[i], workflows[j] = workflows[j], workflows[i]
	})
	for _, wf := range workflows {
		instances, err := w.inspector.InstanceNames(ctx, wf)
		if err != nil {
			log.Error("worker %s: listing instances of %s: %s", w.cfg.Name, wf, err)
			continue
		}
		rand.Shuffle(len(instances), func(i, j int) {
			instances[i], instances[j] = instances[j], instances[i]
		})
		for _, inst := range instances {
			if !w.processSignals(ctx, wf, inst) {
				continue
			}
			w.makeRunnable(ctx, wf, inst)
			w.claim(ctx, wf, inst)
			if w.owned != nil {
				return
			}
		}
	}
}

// processSignals honors the signals applying to one instance. It returns
// true when the worker may claim and run jobs there.
func (w *Worker) processSignals(ctx context.Context, wf, inst string) bool {
	sig, err := NewSignaller(ctx, w.client, wf, inst)
	if err != nil {
		log.Error("worker %s: reading signals of %s/%s: %s", w.cfg.Name, wf, inst, err)
		return false
	}
	archiver := NewArchiver(w.client, wf, inst)
	if sig.IsActionSet(SignalExit, w.cfg.Generation) {
		return false
	}
	if sig.IsActionSet(SignalArchive, w.cfg.Generation) && w.isDone(ctx, wf, inst) {
		if ts, ok := sig.GetAttribute(SignalArchive, AttrTimestamp); ok {
			if _, err := archiver.ArchiveIfExpired(ctx, ts); err != nil {
				log.Error("worker %s: archiving %s/%s: %s", w.cfg.Name, wf, inst, err)
			}
		} else {
			expiration := time.Now().Add(w.cfg.ArchiveDelay).Unix()
			if _, err := sig.SetAttributeIfMissing(ctx, SignalArchive, AttrTimestamp, expiration); err != nil {
				log.Error("worker %s: stamping archive signal of %s/%s: %s", w.cfg.Name, wf, inst, err)
			}
		}
		return false
	}
	if sig.IsActionSet(SignalAbort, w.cfg.Generation) {
		if _, err := archiver.ArchiveIfAborted(ctx); err != nil {
			log.Error("worker %s: archiving aborted %s/%s: %s", w.cfg.Name, wf, inst, err)
		}
		return false
	}
	return !sig.IsActionSet(SignalDrain, w.cfg.Generation)
}

// isDone reports whether the instance has no runnable jobs left after an
// arming sweep.
func (w *Worker) isDone(ctx context.Context, wf, inst string) bool {
	w.makeRunnable(ctx, wf, inst)
	prefix := Name{Workflow: wf, Instance: inst, JobState: StateRunnable}.JobStatePrefix()
	resp, err := w.client.Query(ctx, &api.QueryRequest{Queries: []*api.Query{
		{NamePrefix: prefix, MaxTokens: 1},
	}})
	if err != nil {
		return false
	}
	return len(resp.Lists[0].Tokens) == 0
}

// makeRunnable arms waiting jobs whose inputs all carry at least one event.
// The completion batch of an upstream job normally does this; the sweep
// covers re-posted events, which is how past executions are re-run.
func (w *Worker) makeRunnable(ctx context.Context, wf, inst string) {
	prefix := Name{Workflow: wf, Instance: inst, JobState: StateWaiting}.JobStatePrefix()
	resp, err := w.client.Query(ctx, &api.QueryRequest{Queries: []*api.Query{
		{NamePrefix: prefix},
	}})
	if err != nil {
		log.Error("worker %s: listing waiting jobs of %s/%s: %s", w.cfg.Name, wf, inst, err)
		return
	}
	for _, t := range resp.Lists[0].Tokens {
		name, ok := ParseJobToken(t.Name)
		if !ok {
			// Event tokens share the waiting prefix.
			continue
		}
		job, err := JobFromToken(t)
		if err != nil {
			log.Error("worker %s: %s", w.cfg.Name, err)
			continue
		}
		if len(job.Inputs) == 0 {
			continue
		}
		if !w.inputsArmed(ctx, name, job.Inputs, "") {
			continue
		}
		runnable := t.Clone()
		name.JobState = StateRunnable
		runnable.Name = name.JobTokenName()
		runnable.Version = 0
		runnable.Unown()
		_, err = w.client.Modify(ctx, &api.ModifyRequest{
			Updates: []*api.Token{runnable},
			Deletes: []*api.Token{t},
		})
		if err != nil && !isConflict(err) {
			log.Error("worker %s: arming %s: %s", w.cfg.Name, t.Name, err)
		}
	}
}

// inputsArmed checks that every listed input of a job has at least one
// event. satisfied names an input that is about to receive an event in the
// same batch and therefore counts as armed.
func (w *Worker) inputsArmed(ctx context.Context, name Name, inputs []string, satisfied string) bool {
	queries := make([]*api.Query, 0, len(inputs))
	for _, input := range inputs {
		if input == satisfied {
			continue
		}
		n := name
		n.Input = input
		queries = append(queries, &api.Query{NamePrefix: n.InputPrefix(), MaxTokens: 1})
	}
	if len(queries) == 0 {
		return true
	}
	resp, err := w.client.Query(ctx, &api.QueryRequest{Queries: queries})
	if err != nil {
		return false
	}
	for _, list := range resp.Lists {
		if len(list.Tokens) == 0 {
			return false
		}
	}
	return true
}

// claim attempts to own one runnable job token in the given instance.
func (w *Worker) claim(ctx context.Context, wf, inst string) {
	prefix := Name{Workflow: wf, Instance: inst, JobState: StateRunnable}.JobStatePrefix()
	resp, err := w.client.QueryAndOwn(ctx, &api.QueryAndOwnRequest{
		Owner:          w.cfg.Name,
		ExpirationTime: time.Now().Add(w.cfg.Lease).Unix(),
		Query:          &api.Query{NamePrefix: prefix, MaxTokens: 1},
	})
	if err != nil {
		log.Error("worker %s: claiming in %s/%s: %s", w.cfg.Name, wf, inst, err)
		return
	}
	if len(resp.Tokens) > 0 {
		w.owned = resp.Tokens[0]
	}
}

// triggeringEvents picks the first event of each job input. The set defines
// the execution's inputs deterministically.
func (w *Worker) triggeringEvents(ctx context.Context, name Name, job *Job) ([]*api.Token, []Event) {
	tokens := make([]*api.Token, 0, len(job.Inputs))
	events := make([]Event, 0, len(job.Inputs))
	for _, input := range job.Inputs {
		n := name
		n.Input = input
		resp, err := w.client.Query(ctx, &api.QueryRequest{Queries: []*api.Query{
			{NamePrefix: n.InputPrefix(), MaxTokens: 1},
		}})
		if err != nil {
			log.Error("worker %s: reading events of %s: %s", w.cfg.Name, name.Job, err)
			continue
		}
		if len(resp.Lists[0].Tokens) == 0 {
			continue
		}
		t := resp.Lists[0].Tokens[0]
		event, err := EventFromToken(t)
		if err != nil {
			log.Error("worker %s: dropping malformed event %s: %s", w.cfg.Name, t.Name, err)
			continue
		}
		tokens = append(tokens, t)
		events = append(events, *event)
	}
	return tokens, events
}

// executeJob runs the owned job token to completion and advances the
// workflow.
func (w *Worker) executeJob(ctx context.Context) {
	owned := w.owned
	defer func() {
		w.owned = nil
		w.execution = nil
		w.aborted = false
	}()

	name, ok := ParseJobToken(owned.Name)
	if !ok {
		log.Error("worker %s: claimed token %s is not a job token", w.cfg.Name, owned.Name)
		return
	}
	job, err := JobFromToken(owned)
	if err != nil {
		log.Error("worker %s: %s", w.cfg.Name, err)
		return
	}

	if job.Disabled {
		// Disabled jobs succeed without running, but their execution still
		// consumes one event per input like any other; leftover events
		// would re-arm the job on the next sweep. Downstream arming
		// proceeds as usual.
		consumed, events := w.triggeringEvents(ctx, name, job)
		job.History = append(job.History, ExecutionRecord{
			Instance:   name.Instance,
			StartTime:  time.Now().Unix(),
			EndTime:    time.Now().Unix(),
			Disabled:   true,
			Events:     events,
			Properties: map[string]string{"worker": w.cfg.Name},
		})
		w.moveJobTokenToWaiting(ctx, name, job, true, consumed)
		w.processSignals(ctx, name.Workflow, name.Instance)
		return
	}

	consumed, events := w.triggeringEvents(ctx, name, job)
	job.History = append(job.History, ExecutionRecord{
		Instance:   name.Instance,
		StartTime:  time.Now().Unix(),
		Events:     events,
		Properties: map[string]string{"worker": w.cfg.Name},
	})
	record := &job.History[len(job.History)-1]
	record.Command = job.CustomizeCommand()

	data, err := job.Data()
	if err != nil {
		log.Error("worker %s: encoding job %s: %s", w.cfg.Name, job.Name, err)
		return
	}
	owned.Data = data
	if !w.updateOwnedJobToken(ctx) {
		// Someone else took the token over; drop the claim.
		return
	}

	execution, err := w.executor.Start(ctx, record.Command)
	if err != nil {
		record.EndTime = time.Now().Unix()
		record.ExitCode = -1
		record.Error = err.Error()
		w.finishJob(ctx, name, job, false, consumed...)
		return
	}
	w.mu.Lock()
	w.execution = execution
	w.mu.Unlock()

	w.startRenewOwnership(name)
	code, waitErr := execution.Wait()
	w.stopRenewOwnership()

	record.EndTime = time.Now().Unix()
	record.ExitCode = code
	if waitErr != nil {
		record.Error = waitErr.Error()
	}
	w.mu.Lock()
	aborted := w.aborted
	w.mu.Unlock()
	if aborted && record.Error == "" {
		record.Error = "aborted"
	}

	succeeded := code == 0 && waitErr == nil && !aborted
	w.finishJob(ctx, name, job, succeeded, consumed...)
	w.processSignals(ctx, name.Workflow, name.Instance)
}

func (w *Worker) finishJob(ctx context.Context, name Name, job *Job, succeeded bool, consumed ...*api.Token) {
	switch {
	case succeeded:
		w.moveJobTokenToWaiting(ctx, name, job, true, consumed)
	case !w.wasAborted() && job.Retry():
		// The triggering events stay in place for the next attempt.
		w.keepJobTokenInRunnable(ctx, job)
	default:
		// A failed execution still consumes its triggering events, it just
		// posts none; re-running it later means re-posting the events
		// recorded in the history. The abort/retry policy of the wider
		// workflow lives in signal tokens checked by processSignals.
		w.moveJobTokenToWaiting(ctx, name, job, false, consumed)
	}
}

func (w *Worker) wasAborted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.aborted
}

// moveJobTokenToWaiting releases the owned job token back to the waiting
// group in one atomic batch together with everything the completion implies:
// consumed events disappear, output events post to each successor input, and
// successors whose inputs are now complete move to runnable. The final job
// of the instance (or a failed one) additionally raises the ARCHIVE signal.
func (w *Worker) moveJobTokenToWaiting(ctx context.Context, name Name, job *Job, succeeded bool, consumed []*api.Token) {
	data, err := job.Data()
	if err != nil {
		log.Error("worker %s: encoding job %s: %s", w.cfg.Name, job.Name, err)
		return
	}
	waiting := name
	waiting.JobState = StateWaiting
	req := &api.ModifyRequest{
		Updates: []*api.Token{{
			Name:     waiting.JobTokenName(),
			Priority: w.owned.Priority,
			Data:     data,
		}},
		Deletes: append([]*api.Token{w.owned}, consumed...),
	}
	if succeeded {
		w.appendOutputEvents(ctx, req, name, job)
	}
	if !succeeded || len(job.Outputs) == 0 {
		w.appendArchiveSignal(ctx, req, name)
	}
	if _, err := w.client.Modify(ctx, req); err != nil {
		if isConflict(err) {
			// The lease expired and someone else owns the result now.
			log.Warn("worker %s: discarding result of %s: %s", w.cfg.Name, w.owned.Name, err)
			return
		}
		log.Error("worker %s: completing %s: %s", w.cfg.Name, w.owned.Name, err)
	}
}

// appendOutputEvents adds one event per output edge and arms every successor
// whose inputs are complete once this batch applies.
func (w *Worker) appendOutputEvents(ctx context.Context, req *api.ModifyRequest, name Name, job *Job) {
	for _, successor := range job.Outputs {
		eventName := Name{
			Workflow: name.Workflow,
			Instance: name.Instance,
			Job:      successor,
			Input:    job.Name,
			Event:    uuid.NewString(),
		}
		event := &Event{Creator: w.cfg.Name}
		if len(job.History) > 0 {
			event.Attributes = job.History[len(job.History)-1].Properties
		}
		eventData, err := event.Data()
		if err != nil {
			log.Error("worker %s: encoding event for %s: %s", w.cfg.Name, successor, err)
			continue
		}
		req.Updates = append(req.Updates, &api.Token{
			Name: eventName.EventTokenName(),
			Data: eventData,
		})

		w.armSuccessor(ctx, req, name, job.Name, successor)
	}
}

// armSuccessor moves a waiting successor to runnable within the same batch
// when the event being posted completes its inputs.
func (w *Worker) armSuccessor(ctx context.Context, req *api.ModifyRequest, name Name, thisJob, successor string) {
	succName := Name{
		Workflow: name.Workflow,
		Instance: name.Instance,
		JobState: StateWaiting,
		Job:      successor,
	}
	resp, err := w.client.Query(ctx, &api.QueryRequest{Queries: []*api.Query{
		{NamePrefix: succName.JobTokenName(), MaxTokens: 1},
	}})
	if err != nil {
		log.Error("worker %s: reading successor %s: %s", w.cfg.Name, successor, err)
		return
	}
	tokens := resp.Lists[0].Tokens
	if len(tokens) == 0 || tokens[0].Name != succName.JobTokenName() {
		// Already runnable or running; the leftover event will arm it later.
		return
	}
	succToken := tokens[0]
	succJob, err := JobFromToken(succToken)
	if err != nil {
		log.Error("worker %s: %s", w.cfg.Name, err)
		return
	}
	if !w.inputsArmed(ctx, succName, succJob.Inputs, thisJob) {
		return
	}
	runnable := succToken.Clone()
	succName.JobState = StateRunnable
	runnable.Name = succName.JobTokenName()
	runnable.Version = 0
	runnable.Unown()
	req.Updates = append(req.Updates, runnable)
	req.Deletes = append(req.Deletes, succToken)
}

// appendArchiveSignal adds the instance ARCHIVE signal unless present.
func (w *Worker) appendArchiveSignal(ctx context.Context, req *api.ModifyRequest, name Name) {
	sig, err := NewSignaller(ctx, w.client, name.Workflow, name.Instance)
	if err != nil {
		log.Error("worker %s: reading signals of %s/%s: %s", w.cfg.Name, name.Workflow, name.Instance, err)
		return
	}
	if sig.IsSignalPresent(SignalArchive) {
		return
	}
	signal := &Signal{
		Action: SignalArchive,
		Attributes: map[string]int64{
			AttrTimestamp: time.Now().Add(w.cfg.ArchiveDelay).Unix(),
		},
	}
	signalName := Name{Workflow: name.Workflow, Instance: name.Instance, Signal: SignalArchive}
	req.Updates = append(req.Updates, &api.Token{
		Name: signalName.SignalTokenName(),
		Data: signal.data(),
	})
}

// keepJobTokenInRunnable records a failed attempt but leaves the token in
// the runnable group for a retry. A retry delay keeps the token leased so no
// worker picks it up early.
func (w *Worker) keepJobTokenInRunnable(ctx context.Context, job *Job) {
	data, err := job.Data()
	if err != nil {
		log.Error("worker %s: encoding job %s: %s", w.cfg.Name, job.Name, err)
		return
	}
	w.owned.Data = data
	if job.RetryDelaySec > 0 {
		w.owned.ExpirationTime = time.Now().Unix() + job.RetryDelaySec
	} else {
		w.owned.Unown()
	}
	if _, err := w.client.Modify(ctx, &api.ModifyRequest{Updates: []*api.Token{w.owned}}); err != nil {
		log.Error("worker %s: recording retry of %s: %s", w.cfg.Name, w.owned.Name, err)
	}
}

// updateOwnedJobToken writes the owned token back to the master, picking up
// the fresh version. false means the token was lost.
func (w *Worker) updateOwnedJobToken(ctx context.Context) bool {
	resp, err := w.client.Modify(ctx, &api.ModifyRequest{Updates: []*api.Token{w.owned}})
	if err != nil {
		log.Error("worker %s: updating %s: %s", w.cfg.Name, w.owned.Name, err)
		return false
	}
	w.mu.Lock()
	w.owned = resp.Updates[0]
	w.mu.Unlock()
	return true
}

// startRenewOwnership renews the lease at half-life and watches for the
// instance ABORT signal while the job runs.
func (w *Worker) startRenewOwnership(name Name) {
	w.renewStop = make(chan struct{})
	w.renewDone = make(chan struct{})
	go w.renewOwnership(name, w.renewStop, w.renewDone)
}

func (w *Worker) stopRenewOwnership() {
	close(w.renewStop)
	<-w.renewDone
}

func (w *Worker) renewOwnership(name Name, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ctx := context.Background()
	interval := time.Duration((1.0 + rand.Float64()) * float64(w.cfg.PollInterval))
	for {
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}

		sig, err := NewSignaller(ctx, w.client, name.Workflow, name.Instance)
		if err == nil && sig.IsActionSet(SignalAbort, w.cfg.Generation) {
			w.abortExecution()
			return
		}

		w.mu.Lock()
		expiring := w.owned.ExpirationTime < time.Now().Add(w.cfg.Lease/2).Unix()
		if expiring {
			w.owned.ExpirationTime = time.Now().Add(w.cfg.Lease).Unix()
		}
		w.mu.Unlock()
		if expiring && !w.updateOwnedJobToken(ctx) {
			// The lease is gone; the completion modify would conflict
			// anyway, so cut the run short.
			w.abortExecution()
			return
		}
	}
}

func (w *Worker) abortExecution() {
	w.mu.Lock()
	execution := w.execution
	w.aborted = true
	w.mu.Unlock()
	if execution != nil {
		execution.Abort()
	}
}

func isConflict(err error) bool {
	var merr *api.MasterError
	return errors.As(err, &merr) && merr.Code == api.ErrorVersionConflict
}
