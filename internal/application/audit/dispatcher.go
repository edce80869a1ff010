package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
	"github.com/williamsouzadelima/strati-audit/internal/domain/auditlog"
)

// DispatcherConfig carries the scheduling knobs.
type DispatcherConfig struct {
	MaxConcurrent int
	AuditTimeout  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	RetryDelayCap time.Duration
	Penalties     domain.PenaltyTable
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.AuditTimeout <= 0 {
		c.AuditTimeout = 300 * time.Second
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.RetryDelayCap <= 0 {
		c.RetryDelayCap = 30 * time.Second
	}
	if c.Penalties == nil {
		c.Penalties = domain.DefaultPenalties()
	}
	return c
}

// jobCtl is the dispatcher's live handle on one job.
type jobCtl struct {
	job    *domain.AuditJob
	fw     *domain.Firewall
	cancel context.CancelFunc // non-nil once launched
}

// runCtl tracks one run's children and completion signal.
type runCtl struct {
	run    *domain.AuditRun
	jobs   []domain.JobID
	states map[domain.JobID]domain.JobState
	status domain.RunStatus
	done   chan struct{} // closed when status turns terminal
}

func (rc *runCtl) derive() domain.RunStatus {
	states := make([]domain.JobState, 0, len(rc.states))
	for _, s := range rc.states {
		states = append(states, s)
	}
	return domain.DeriveRunStatusFromStates(states)
}

// Dispatcher owns all scheduler state: the FIFO queue, the running set,
// the per-firewall in-flight index and the slot counter, all behind one
// mutex. Callers only get Submit, Cancel*, Await and counters; the
// structures themselves never leak.
type Dispatcher struct {
	cfg      DispatcherConfig
	store    domain.StateStore
	executor domain.Executor
	resolver Resolver
	retrier  *Retrier
	clock    Clock
	trail    auditlog.Recorder
	log      *logrus.Logger

	mu       sync.Mutex
	queue    []domain.JobID
	jobs     map[domain.JobID]*jobCtl
	inflight map[domain.FirewallID]domain.JobID
	runs     map[domain.RunID]*runCtl
	running  int
	closed   bool

	onRunTerminal func(domain.RunID)
	wg            sync.WaitGroup
}

// NewDispatcher wires the scheduler. trail may be nil.
func NewDispatcher(cfg DispatcherConfig, store domain.StateStore, executor domain.Executor, clock Clock, trail auditlog.Recorder, log *logrus.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = SystemClock{}
	}
	if log == nil {
		log = logrus.New()
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    store,
		executor: executor,
		resolver: Resolver{DefaultPort: DefaultFirewallPort},
		retrier: &Retrier{
			Attempts: cfg.RetryAttempts,
			Delay:    cfg.RetryDelay,
			Cap:      cfg.RetryDelayCap,
		},
		clock:    clock,
		trail:    trail,
		log:      log,
		jobs:     make(map[domain.JobID]*jobCtl),
		inflight: make(map[domain.FirewallID]domain.JobID),
		runs:     make(map[domain.RunID]*runCtl),
	}
}

// SetRunTerminalHook registers the callback fired (in its own goroutine)
// when a run turns terminal. Must be set before the first Submit.
func (d *Dispatcher) SetRunTerminalHook(fn func(domain.RunID)) {
	d.onRunTerminal = fn
}

// Submit registers one run with one job per firewall and queues them
// FIFO. All-or-nothing: if any firewall already has a non-terminal job
// the whole submission is rejected with ErrDuplicateInFlight and nothing
// is created or queued.
func (d *Dispatcher) Submit(ctx context.Context, run *domain.AuditRun, firewalls []*domain.Firewall) error {
	if len(firewalls) == 0 {
		return domain.ErrNoActiveFirewalls
	}

	now := d.clock.Now()
	jobs := make([]*domain.AuditJob, 0, len(firewalls))
	for _, fw := range firewalls {
		jobs = append(jobs, &domain.AuditJob{
			ID:           domain.JobID(newID()),
			RunID:        run.ID,
			FirewallID:   fw.ID,
			FirewallName: fw.Name,
			State:        domain.StateQueued,
			QueuedAt:     now,
		})
	}

	// Reserve the in-flight slots atomically before any store write so
	// two racing submissions can never both pass the exclusivity check.
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.ErrShuttingDown
	}
	for _, fw := range firewalls {
		if held, ok := d.inflight[fw.ID]; ok {
			d.mu.Unlock()
			return fmt.Errorf("firewall %s (job %s): %w", fw.ID, held, domain.ErrDuplicateInFlight)
		}
	}
	for i, fw := range firewalls {
		d.inflight[fw.ID] = jobs[i].ID
	}
	d.mu.Unlock()

	release := func() {
		d.mu.Lock()
		for _, fw := range firewalls {
			delete(d.inflight, fw.ID)
		}
		d.mu.Unlock()
	}

	if err := d.store.CreateRun(ctx, run); err != nil {
		release()
		return fmt.Errorf("create run: %w", err)
	}
	for _, job := range jobs {
		if err := d.store.CreateJob(ctx, job); err != nil {
			release()
			return fmt.Errorf("create job for firewall %s: %w", job.FirewallID, err)
		}
	}

	rc := &runCtl{
		run:    run,
		states: make(map[domain.JobID]domain.JobState, len(jobs)),
		status: domain.RunPending,
		done:   make(chan struct{}),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		release()
		return domain.ErrShuttingDown
	}
	for i, job := range jobs {
		jc := &jobCtl{job: job, fw: firewalls[i]}
		d.jobs[job.ID] = jc
		rc.jobs = append(rc.jobs, job.ID)
		rc.states[job.ID] = domain.StateQueued
		d.queue = append(d.queue, job.ID)
	}
	d.runs[run.ID] = rc
	d.promoteLocked()
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{
		"run_id":    run.ID,
		"client_id": run.ClientID,
		"jobs":      len(jobs),
	}).Info("audit run queued")
	return nil
}

// promoteLocked moves queued jobs into running slots, FIFO, while slots
// remain. Caller holds d.mu.
func (d *Dispatcher) promoteLocked() {
	for d.running < d.cfg.MaxConcurrent && len(d.queue) > 0 {
		id := d.queue[0]
		d.queue = d.queue[1:]
		jc, ok := d.jobs[id]
		if !ok {
			continue
		}
		jobCtx, cancel := context.WithCancel(context.Background())
		jc.cancel = cancel
		d.running++
		d.wg.Add(1)
		go d.runJob(jobCtx, jc)
	}
}

// runJob drives one job through running to a terminal state. All store
// writes use a background context: the job's lifecycle is independent of
// the submitting request, and a terminal write must not be lost to the
// job's own cancellation.
func (d *Dispatcher) runJob(ctx context.Context, jc *jobCtl) {
	defer d.wg.Done()

	job := jc.job
	startedAt := d.clock.Now()
	if err := d.store.TransitionJob(context.Background(), job.ID, domain.StateRunning, domain.TransitionDetail{At: startedAt}); err != nil {
		d.log.WithError(err).WithField("job_id", job.ID).Error("running transition write failed")
		d.finalize(ctx, jc, domain.StateFailed, domain.TransitionDetail{
			Kind:    domain.KindInternal,
			Message: "state store rejected running transition",
			At:      d.clock.Now(),
		}, nil)
		return
	}

	d.mu.Lock()
	job.State = domain.StateRunning
	job.StartedAt = &startedAt
	if rc := d.runs[job.RunID]; rc != nil {
		rc.states[job.ID] = domain.StateRunning
	}
	d.mu.Unlock()

	d.event(auditlog.EventJobTransition, job, "running")
	d.log.WithFields(logrus.Fields{
		"run_id":      job.RunID,
		"job_id":      job.ID,
		"firewall_id": job.FirewallID,
	}).Info("audit job started")

	desc, err := d.resolver.Resolve(jc.fw)
	if err != nil {
		d.finalize(ctx, jc, domain.StateFailed, domain.TransitionDetail{
			Kind:     domain.KindResolution,
			Message:  err.Error(),
			Attempts: 0,
			At:       d.clock.Now(),
		}, nil)
		return
	}

	timeout := d.cfg.AuditTimeout
	if desc.Timeout > 0 {
		timeout = desc.Timeout
	}

	out, attempts, execErr := d.retrier.Do(ctx, func(attemptCtx context.Context) (*domain.RawOutput, error) {
		return d.executor.Execute(attemptCtx, desc, timeout)
	})

	if ctx.Err() != nil {
		d.finalize(ctx, jc, domain.StateFailed, domain.TransitionDetail{
			Kind:     domain.KindCancelled,
			Message:  "cancelled while running",
			Attempts: attempts,
			At:       d.clock.Now(),
		}, nil)
		return
	}
	if execErr != nil {
		kind := domain.KindOf(execErr)
		state := domain.StateFailed
		if kind == domain.KindTimeout {
			state = domain.StateTimedOut
		}
		d.finalize(ctx, jc, state, domain.TransitionDetail{
			Kind:     kind,
			Message:  execErr.Error(),
			Attempts: attempts,
			At:       d.clock.Now(),
		}, nil)
		return
	}

	findings, perr := domain.ParseReport(out.Stdout)
	if perr != nil {
		d.finalize(ctx, jc, domain.StateFailed, domain.TransitionDetail{
			Kind:     domain.KindOutputUnparseable,
			Message:  perr.Error(),
			Attempts: attempts,
			At:       d.clock.Now(),
		}, nil)
		return
	}

	result := domain.NewScoredResult(findings, d.cfg.Penalties, d.clock.Now())
	if err := d.store.AttachResult(context.Background(), job.ID, result); err != nil {
		d.log.WithError(err).WithField("job_id", job.ID).Error("result write failed")
		d.finalize(ctx, jc, domain.StateFailed, domain.TransitionDetail{
			Kind:     domain.KindInternal,
			Message:  "state store rejected result write",
			Attempts: attempts,
			At:       d.clock.Now(),
		}, nil)
		return
	}
	d.finalize(ctx, jc, domain.StateCompleted, domain.TransitionDetail{
		Attempts: attempts,
		At:       d.clock.Now(),
	}, result)
}

// finalize writes the terminal transition, releases the slot and the
// firewall, promotes the next queued job and recomputes the run status.
func (d *Dispatcher) finalize(ctx context.Context, jc *jobCtl, state domain.JobState, detail domain.TransitionDetail, result *domain.ScoredResult) {
	job := jc.job
	if err := d.store.TransitionJob(context.Background(), job.ID, state, detail); err != nil {
		// The slot must be released regardless, or the scheduler wedges.
		d.log.WithError(err).WithFields(logrus.Fields{
			"job_id": job.ID,
			"state":  state,
		}).Error("terminal transition write failed")
	}

	d.mu.Lock()
	job.State = state
	job.Attempts = detail.Attempts
	job.FailureKind = detail.Kind
	job.FailureDetail = detail.Message
	finished := detail.At
	job.FinishedAt = &finished
	job.Result = result
	if jc.cancel != nil {
		jc.cancel() // release the job context
		jc.cancel = nil
		d.running--
	}
	delete(d.inflight, job.FirewallID)
	delete(d.jobs, job.ID)

	rc := d.runs[job.RunID]
	var runDone bool
	if rc != nil {
		rc.states[job.ID] = state
		if status := rc.derive(); status.Terminal() && !rc.status.Terminal() {
			rc.status = status
			rc.run.Status = status
			runDone = true
		}
	}
	d.promoteLocked()
	d.mu.Unlock()

	fields := logrus.Fields{
		"run_id":      job.RunID,
		"job_id":      job.ID,
		"firewall_id": job.FirewallID,
		"state":       state,
		"attempts":    detail.Attempts,
	}
	if detail.Kind != "" {
		fields["failure_kind"] = detail.Kind
	}
	if result != nil {
		fields["score"] = result.Score
	}
	d.log.WithFields(fields).Info("audit job finished")
	d.event(auditlog.EventJobTransition, job, string(state))

	if runDone {
		d.finishRun(job.RunID)
	}
}

// finishRun marks the run terminal and fires the hook.
func (d *Dispatcher) finishRun(runID domain.RunID) {
	d.mu.Lock()
	rc := d.runs[runID]
	var status domain.RunStatus
	if rc != nil {
		status = rc.status
		close(rc.done)
	}
	hook := d.onRunTerminal
	d.mu.Unlock()
	if rc == nil {
		return
	}

	d.log.WithFields(logrus.Fields{"run_id": runID, "status": status}).Info("audit run finished")
	if d.trail != nil {
		e := &auditlog.Event{
			Type:      auditlog.EventRunFinished,
			RunID:     string(runID),
			ClientID:  string(rc.run.ClientID),
			Message:   fmt.Sprintf("run finished with status %s", status),
			CreatedAt: d.clock.Now(),
		}
		if err := d.trail.Append(context.Background(), e); err != nil {
			d.log.WithError(err).Warn("trail append failed")
		}
	}
	if hook != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			hook(runID)
		}()
	}
}

// CancelRun cancels every non-terminal job of a run. Queued jobs go
// terminal without starting; running jobs get their session torn down and
// finalize as failed/cancelled. Best-effort: terminal jobs are untouched.
func (d *Dispatcher) CancelRun(ctx context.Context, runID domain.RunID) error {
	d.mu.Lock()
	rc, ok := d.runs[runID]
	if !ok {
		d.mu.Unlock()
		return domain.ErrRunNotFound
	}
	var queued []*jobCtl
	for _, id := range rc.jobs {
		jc, live := d.jobs[id]
		if !live {
			continue
		}
		if jc.cancel != nil {
			jc.cancel()
			continue
		}
		d.removeFromQueueLocked(id)
		queued = append(queued, jc)
	}
	d.mu.Unlock()

	var errs *multierror.Error
	for _, jc := range queued {
		if err := d.cancelQueued(jc); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// CancelJob cancels a single job by id.
func (d *Dispatcher) CancelJob(ctx context.Context, jobID domain.JobID) error {
	d.mu.Lock()
	jc, ok := d.jobs[jobID]
	if !ok {
		d.mu.Unlock()
		return domain.ErrJobNotFound
	}
	if jc.cancel != nil {
		jc.cancel()
		d.mu.Unlock()
		return nil
	}
	d.removeFromQueueLocked(jobID)
	d.mu.Unlock()
	return d.cancelQueued(jc)
}

// cancelQueued finalizes a job that never started.
func (d *Dispatcher) cancelQueued(jc *jobCtl) error {
	err := d.store.TransitionJob(context.Background(), jc.job.ID, domain.StateFailed, domain.TransitionDetail{
		Kind:    domain.KindCancelled,
		Message: "cancelled before start",
		At:      d.clock.Now(),
	})
	if err != nil {
		d.log.WithError(err).WithField("job_id", jc.job.ID).Error("queued cancel write failed")
	}

	d.mu.Lock()
	jc.job.State = domain.StateFailed
	jc.job.FailureKind = domain.KindCancelled
	jc.job.FailureDetail = "cancelled before start"
	finished := d.clock.Now()
	jc.job.FinishedAt = &finished
	delete(d.inflight, jc.job.FirewallID)
	delete(d.jobs, jc.job.ID)
	rc := d.runs[jc.job.RunID]
	var runDone bool
	if rc != nil {
		rc.states[jc.job.ID] = domain.StateFailed
		if status := rc.derive(); status.Terminal() && !rc.status.Terminal() {
			rc.status = status
			rc.run.Status = status
			runDone = true
		}
	}
	d.mu.Unlock()

	d.event(auditlog.EventJobTransition, jc.job, "cancelled before start")
	if runDone {
		d.finishRun(jc.job.RunID)
	}
	return err
}

func (d *Dispatcher) removeFromQueueLocked(id domain.JobID) {
	for i, qid := range d.queue {
		if qid == id {
			d.queue = append(d.queue[:i], d.queue[i+1:]...)
			return
		}
	}
}

// AwaitRun blocks until the run turns terminal or ctx expires. Returns
// ErrRunNotFound for runs this dispatcher instance never saw.
func (d *Dispatcher) AwaitRun(ctx context.Context, runID domain.RunID) (domain.RunStatus, error) {
	d.mu.Lock()
	rc, ok := d.runs[runID]
	d.mu.Unlock()
	if !ok {
		return "", domain.ErrRunNotFound
	}
	select {
	case <-rc.done:
		d.mu.Lock()
		status := rc.status
		d.mu.Unlock()
		return status, nil
	case <-ctx.Done():
		return "", domain.ErrAwaitTimeout
	}
}

// RunStatusSnapshot returns the dispatcher's current view of a run, if
// it is tracking one. Non-blocking.
func (d *Dispatcher) RunStatusSnapshot(runID domain.RunID) (domain.RunStatus, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rc, ok := d.runs[runID]
	if !ok {
		return "", false
	}
	if rc.status.Terminal() {
		return rc.status, true
	}
	return rc.derive(), true
}

// InFlight reports whether a firewall has a non-terminal job.
func (d *Dispatcher) InFlight(fwID domain.FirewallID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[fwID]
	return ok
}

// Counts returns (running, queued) for metrics and stats.
func (d *Dispatcher) Counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running, len(d.queue)
}

// Ping reports whether the dispatcher still accepts work. Used by the
// readiness probe so traffic stops during drain.
func (d *Dispatcher) Ping() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return domain.ErrShuttingDown
	}
	return nil
}

// Close stops admission, cancels everything in flight and waits for the
// worker goroutines to drain. Cancel errors are aggregated.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var queued []*jobCtl
	for _, jc := range d.jobs {
		if jc.cancel != nil {
			jc.cancel()
			continue
		}
		d.removeFromQueueLocked(jc.job.ID)
		queued = append(queued, jc)
	}
	d.mu.Unlock()

	var errs *multierror.Error
	for _, jc := range queued {
		if err := d.cancelQueued(jc); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	d.wg.Wait()
	return errs.ErrorOrNil()
}

func (d *Dispatcher) event(t auditlog.EventType, job *domain.AuditJob, msg string) {
	if d.trail == nil {
		return
	}
	e := &auditlog.Event{
		Type:       t,
		RunID:      string(job.RunID),
		JobID:      string(job.ID),
		FirewallID: string(job.FirewallID),
		Message:    msg,
		CreatedAt:  d.clock.Now(),
	}
	if err := d.trail.Append(context.Background(), e); err != nil {
		d.log.WithError(err).Warn("trail append failed")
	}
}
