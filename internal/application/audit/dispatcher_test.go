package audit

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
	"github.com/williamsouzadelima/strati-audit/internal/infra/db/memory"
)

const passingReport = `{"categories":{"logging":{"checks":[
	{"name":"remote syslog","status":"passed","severity":"low"}]}}}`

// one critical failure plus one pass: scores 100-20 = 80
const criticalReport = `{"categories":
	{"security_policies":{"checks":[{"name":"default deny","status":"failed","severity":"critical"}]},
	 "logging":{"checks":[{"name":"remote syslog","status":"passed","severity":"low"}]}}}`

// scriptedExec returns whatever the script says for the given firewall
// and call number. started (when set) signals each attempt; release
// (when set) blocks attempts until closed.
type scriptedExec struct {
	mu      sync.Mutex
	calls   map[domain.FirewallID]int
	started chan domain.FirewallID
	release chan struct{}
	script  func(fw domain.FirewallID, call int) (*domain.RawOutput, error)
}

func newScriptedExec(script func(fw domain.FirewallID, call int) (*domain.RawOutput, error)) *scriptedExec {
	return &scriptedExec{
		calls:  make(map[domain.FirewallID]int),
		script: script,
	}
}

func (e *scriptedExec) Execute(ctx context.Context, desc domain.ConnDescriptor, timeout time.Duration) (*domain.RawOutput, error) {
	e.mu.Lock()
	e.calls[desc.FirewallID]++
	call := e.calls[desc.FirewallID]
	e.mu.Unlock()

	if e.started != nil {
		e.started <- desc.FirewallID
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.script(desc.FirewallID, call)
}

func (e *scriptedExec) count(fw domain.FirewallID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[fw]
}

func okOut(report string) (*domain.RawOutput, error) {
	return &domain.RawOutput{Stdout: []byte(report)}, nil
}

func alwaysPass(domain.FirewallID, int) (*domain.RawOutput, error) {
	return okOut(passingReport)
}

func newTestDispatcher(t *testing.T, store domain.StateStore, exec domain.Executor, maxConcurrent int) *Dispatcher {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	d := NewDispatcher(DispatcherConfig{
		MaxConcurrent: maxConcurrent,
		AuditTimeout:  5 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		RetryDelayCap: 5 * time.Millisecond,
	}, store, exec, SystemClock{}, nil, log)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func testFirewall(id string) *domain.Firewall {
	return &domain.Firewall{
		ID:         domain.FirewallID(id),
		ClientID:   "client-1",
		Name:       id,
		Host:       "10.0.0.1",
		Port:       4444,
		Username:   "auditor",
		Credential: "s3cret",
		Active:     true,
	}
}

func testRun(id string) *domain.AuditRun {
	return &domain.AuditRun{
		ID:          domain.RunID(id),
		ClientID:    "client-1",
		Status:      domain.RunPending,
		RequestedAt: time.Now(),
	}
}

func awaitTerminal(t *testing.T, d *Dispatcher, runID domain.RunID) domain.RunStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := d.AwaitRun(ctx, runID)
	require.NoError(t, err)
	return status
}

func jobByFirewall(t *testing.T, st domain.StateStore, runID domain.RunID, fwID domain.FirewallID) *domain.AuditJob {
	t.Helper()
	jobs, err := st.ListJobsForRun(context.Background(), runID)
	require.NoError(t, err)
	for _, j := range jobs {
		if j.FirewallID == fwID {
			return j
		}
	}
	t.Fatalf("no job for firewall %s", fwID)
	return nil
}

func waitStarted(t *testing.T, ch <-chan domain.FirewallID, n int) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("only %d of %d jobs started", i, n)
		}
	}
}

func TestDispatcherCompletesRun(t *testing.T) {
	st := memory.NewStore()
	exec := newScriptedExec(alwaysPass)
	d := newTestDispatcher(t, st, exec, 3)

	run := testRun("run-1")
	require.NoError(t, d.Submit(context.Background(), run, []*domain.Firewall{testFirewall("fw-1")}))

	require.Equal(t, domain.RunCompleted, awaitTerminal(t, d, run.ID))

	job := jobByFirewall(t, st, run.ID, "fw-1")
	require.Equal(t, domain.StateCompleted, job.State)
	require.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.Result)
	require.Equal(t, 100, job.Result.Score)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)
}

func TestDispatcherRejectsEmptySubmission(t *testing.T) {
	d := newTestDispatcher(t, memory.NewStore(), newScriptedExec(alwaysPass), 3)
	err := d.Submit(context.Background(), testRun("run-1"), nil)
	require.ErrorIs(t, err, domain.ErrNoActiveFirewalls)
}

func TestDuplicateInFlightAllOrNothing(t *testing.T) {
	st := memory.NewStore()
	exec := newScriptedExec(alwaysPass)
	exec.release = make(chan struct{})
	d := newTestDispatcher(t, st, exec, 3)
	exec.started = make(chan domain.FirewallID, 8)

	run1 := testRun("run-1")
	require.NoError(t, d.Submit(context.Background(), run1, []*domain.Firewall{testFirewall("fw-1")}))
	waitStarted(t, exec.started, 1)
	require.True(t, d.InFlight("fw-1"))

	// same firewall again: rejected outright
	err := d.Submit(context.Background(), testRun("run-2"), []*domain.Firewall{testFirewall("fw-1")})
	require.ErrorIs(t, err, domain.ErrDuplicateInFlight)

	// one busy target poisons the whole submission and reserves nothing
	err = d.Submit(context.Background(), testRun("run-3"), []*domain.Firewall{
		testFirewall("fw-1"), testFirewall("fw-2"),
	})
	require.ErrorIs(t, err, domain.ErrDuplicateInFlight)
	require.False(t, d.InFlight("fw-2"))
	_, err = st.GetRun(context.Background(), "run-3")
	require.ErrorIs(t, err, domain.ErrRunNotFound)

	// the untouched firewall stays available
	run4 := testRun("run-4")
	require.NoError(t, d.Submit(context.Background(), run4, []*domain.Firewall{testFirewall("fw-2")}))

	close(exec.release)
	require.Equal(t, domain.RunCompleted, awaitTerminal(t, d, run1.ID))
	require.Equal(t, domain.RunCompleted, awaitTerminal(t, d, run4.ID))
	require.False(t, d.InFlight("fw-1"))
}

func TestConcurrencyCeiling(t *testing.T) {
	st := memory.NewStore()
	exec := newScriptedExec(alwaysPass)
	exec.release = make(chan struct{})
	exec.started = make(chan domain.FirewallID, 8)
	d := newTestDispatcher(t, st, exec, 3)

	run := testRun("run-1")
	fws := []*domain.Firewall{
		testFirewall("fw-1"), testFirewall("fw-2"), testFirewall("fw-3"),
		testFirewall("fw-4"), testFirewall("fw-5"),
	}
	require.NoError(t, d.Submit(context.Background(), run, fws))

	// exactly the ceiling starts; the remainder waits in FIFO order
	waitStarted(t, exec.started, 3)
	running, queued := d.Counts()
	require.Equal(t, 3, running)
	require.Equal(t, 2, queued)

	close(exec.release)
	require.Equal(t, domain.RunCompleted, awaitTerminal(t, d, run.ID))

	running, queued = d.Counts()
	require.Zero(t, running)
	require.Zero(t, queued)

	jobs, err := st.ListJobsForRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 5)
	for _, j := range jobs {
		require.Equal(t, domain.StateCompleted, j.State)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	st := memory.NewStore()
	exec := newScriptedExec(func(fw domain.FirewallID, call int) (*domain.RawOutput, error) {
		if call < 3 {
			return nil, domain.NewExecError(domain.KindConnectionRefused, "dial refused", nil)
		}
		return okOut(passingReport)
	})
	d := newTestDispatcher(t, st, exec, 3)

	run := testRun("run-1")
	require.NoError(t, d.Submit(context.Background(), run, []*domain.Firewall{testFirewall("fw-1")}))
	require.Equal(t, domain.RunCompleted, awaitTerminal(t, d, run.ID))

	job := jobByFirewall(t, st, run.ID, "fw-1")
	require.Equal(t, domain.StateCompleted, job.State)
	require.Equal(t, 3, job.Attempts)
	require.Equal(t, 3, exec.count("fw-1"))
	require.Empty(t, job.FailureKind)
}

func TestRetryExhaustionKeepsLastKind(t *testing.T) {
	t.Run("timeout last", func(t *testing.T) {
		st := memory.NewStore()
		exec := newScriptedExec(func(fw domain.FirewallID, call int) (*domain.RawOutput, error) {
			if call < 3 {
				return nil, domain.NewExecError(domain.KindConnectionRefused, "dial refused", nil)
			}
			return nil, domain.NewExecError(domain.KindTimeout, "audit did not finish within 5s", context.DeadlineExceeded)
		})
		d := newTestDispatcher(t, st, exec, 3)

		run := testRun("run-1")
		require.NoError(t, d.Submit(context.Background(), run, []*domain.Firewall{testFirewall("fw-1")}))
		require.Equal(t, domain.RunFailed, awaitTerminal(t, d, run.ID))

		job := jobByFirewall(t, st, run.ID, "fw-1")
		require.Equal(t, domain.StateTimedOut, job.State)
		require.Equal(t, domain.KindTimeout, job.FailureKind)
		require.Equal(t, 3, job.Attempts)
	})

	t.Run("refused throughout", func(t *testing.T) {
		st := memory.NewStore()
		exec := newScriptedExec(func(domain.FirewallID, int) (*domain.RawOutput, error) {
			return nil, domain.NewExecError(domain.KindConnectionRefused, "dial refused", nil)
		})
		d := newTestDispatcher(t, st, exec, 3)

		run := testRun("run-1")
		require.NoError(t, d.Submit(context.Background(), run, []*domain.Firewall{testFirewall("fw-1")}))
		require.Equal(t, domain.RunFailed, awaitTerminal(t, d, run.ID))

		job := jobByFirewall(t, st, run.ID, "fw-1")
		require.Equal(t, domain.StateFailed, job.State)
		require.Equal(t, domain.KindConnectionRefused, job.FailureKind)
		require.Equal(t, 3, job.Attempts)
		require.Equal(t, 3, exec.count("fw-1"))
	})
}

func TestAuthFailureNotRetried(t *testing.T) {
	st := memory.NewStore()
	exec := newScriptedExec(func(domain.FirewallID, int) (*domain.RawOutput, error) {
		return nil, domain.NewExecError(domain.KindAuthenticationFail, "login failed", nil)
	})
	d := newTestDispatcher(t, st, exec, 3)

	run := testRun("run-1")
	require.NoError(t, d.Submit(context.Background(), run, []*domain.Firewall{testFirewall("fw-1")}))
	require.Equal(t, domain.RunFailed, awaitTerminal(t, d, run.ID))

	job := jobByFirewall(t, st, run.ID, "fw-1")
	require.Equal(t, domain.StateFailed, job.State)
	require.Equal(t, domain.KindAuthenticationFail, job.FailureKind)
	require.Equal(t, 1, job.Attempts)
	require.Equal(t, 1, exec.count("fw-1"))
}

func TestUnparseableOutputFailsJob(t *testing.T) {
	st := memory.NewStore()
	exec := newScriptedExec(func(domain.FirewallID, int) (*domain.RawOutput, error) {
		return &domain.RawOutput{Stdout: []byte("Traceback (most recent call last):")}, nil
	})
	d := newTestDispatcher(t, st, exec, 3)

	run := testRun("run-1")
	require.NoError(t, d.Submit(context.Background(), run, []*domain.Firewall{testFirewall("fw-1")}))
	require.Equal(t, domain.RunFailed, awaitTerminal(t, d, run.ID))

	job := jobByFirewall(t, st, run.ID, "fw-1")
	require.Equal(t, domain.StateFailed, job.State)
	require.Equal(t, domain.KindOutputUnparseable, job.FailureKind)
	require.Nil(t, job.Result)
}

// One firewall completes with findings, the other times out on every
// attempt: the run ends partial and the overall score reflects only the
// completed target.
func TestMixedRunPartial(t *testing.T) {
	st := memory.NewStore()
	exec := newScriptedExec(func(fw domain.FirewallID, call int) (*domain.RawOutput, error) {
		if fw == "fw-slow" {
			return nil, domain.NewExecError(domain.KindTimeout, "audit did not finish within 5s", context.DeadlineExceeded)
		}
		return okOut(criticalReport)
	})
	d := newTestDispatcher(t, st, exec, 3)

	run := testRun("run-1")
	require.NoError(t, d.Submit(context.Background(), run, []*domain.Firewall{
		testFirewall("fw-ok"), testFirewall("fw-slow"),
	}))
	require.Equal(t, domain.RunPartial, awaitTerminal(t, d, run.ID))

	ok := jobByFirewall(t, st, run.ID, "fw-ok")
	require.Equal(t, domain.StateCompleted, ok.State)
	require.NotNil(t, ok.Result)
	require.Equal(t, 80, ok.Result.Score)

	slow := jobByFirewall(t, st, run.ID, "fw-slow")
	require.Equal(t, domain.StateTimedOut, slow.State)
	require.Equal(t, domain.KindTimeout, slow.FailureKind)
	require.Equal(t, 3, slow.Attempts)

	jobs, err := st.ListJobsForRun(context.Background(), run.ID)
	require.NoError(t, err)
	score := domain.OverallScore(jobs)
	require.NotNil(t, score)
	require.InDelta(t, 80.0, *score, 0.001)
}

func TestCancelRunFreesFirewalls(t *testing.T) {
	st := memory.NewStore()
	exec := newScriptedExec(alwaysPass)
	exec.release = make(chan struct{})
	exec.started = make(chan domain.FirewallID, 8)
	d := newTestDispatcher(t, st, exec, 1)

	run1 := testRun("run-1")
	require.NoError(t, d.Submit(context.Background(), run1, []*domain.Firewall{
		testFirewall("fw-1"), testFirewall("fw-2"),
	}))
	waitStarted(t, exec.started, 1) // ceiling is 1, the second job queues

	require.NoError(t, d.CancelRun(context.Background(), run1.ID))
	require.Equal(t, domain.RunFailed, awaitTerminal(t, d, run1.ID))

	running := jobByFirewall(t, st, run1.ID, "fw-1")
	require.Equal(t, domain.StateFailed, running.State)
	require.Equal(t, domain.KindCancelled, running.FailureKind)

	queued := jobByFirewall(t, st, run1.ID, "fw-2")
	require.Equal(t, domain.StateFailed, queued.State)
	require.Equal(t, domain.KindCancelled, queued.FailureKind)
	require.Nil(t, queued.StartedAt)

	// both targets immediately available again
	close(exec.release)
	run2 := testRun("run-2")
	require.NoError(t, d.Submit(context.Background(), run2, []*domain.Firewall{
		testFirewall("fw-1"), testFirewall("fw-2"),
	}))
	require.Equal(t, domain.RunCompleted, awaitTerminal(t, d, run2.ID))
}

func TestCancelQueuedJobKeepsRunGoing(t *testing.T) {
	st := memory.NewStore()
	exec := newScriptedExec(alwaysPass)
	exec.release = make(chan struct{})
	exec.started = make(chan domain.FirewallID, 8)
	d := newTestDispatcher(t, st, exec, 1)

	run := testRun("run-1")
	require.NoError(t, d.Submit(context.Background(), run, []*domain.Firewall{
		testFirewall("fw-1"), testFirewall("fw-2"),
	}))
	waitStarted(t, exec.started, 1)

	queued := jobByFirewall(t, st, run.ID, "fw-2")
	require.Equal(t, domain.StateQueued, queued.State)
	require.NoError(t, d.CancelJob(context.Background(), queued.ID))
	require.False(t, d.InFlight("fw-2"))

	close(exec.release)
	require.Equal(t, domain.RunPartial, awaitTerminal(t, d, run.ID))

	require.Equal(t, domain.StateCompleted, jobByFirewall(t, st, run.ID, "fw-1").State)
	cancelled := jobByFirewall(t, st, run.ID, "fw-2")
	require.Equal(t, domain.StateFailed, cancelled.State)
	require.Equal(t, domain.KindCancelled, cancelled.FailureKind)
}

func TestAwaitRunTimeout(t *testing.T) {
	st := memory.NewStore()
	exec := newScriptedExec(alwaysPass)
	exec.release = make(chan struct{})
	d := newTestDispatcher(t, st, exec, 3)

	run := testRun("run-1")
	require.NoError(t, d.Submit(context.Background(), run, []*domain.Firewall{testFirewall("fw-1")}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.AwaitRun(ctx, run.ID)
	require.ErrorIs(t, err, domain.ErrAwaitTimeout)

	close(exec.release)
	require.Equal(t, domain.RunCompleted, awaitTerminal(t, d, run.ID))
}

func TestAwaitUnknownRun(t *testing.T) {
	d := newTestDispatcher(t, memory.NewStore(), newScriptedExec(alwaysPass), 3)
	_, err := d.AwaitRun(context.Background(), "no-such-run")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestSubmitAfterClose(t *testing.T) {
	d := newTestDispatcher(t, memory.NewStore(), newScriptedExec(alwaysPass), 3)
	require.NoError(t, d.Close())

	err := d.Submit(context.Background(), testRun("run-1"), []*domain.Firewall{testFirewall("fw-1")})
	require.ErrorIs(t, err, domain.ErrShuttingDown)
}

func TestTerminalHookFires(t *testing.T) {
	st := memory.NewStore()
	d := newTestDispatcher(t, st, newScriptedExec(alwaysPass), 3)

	fired := make(chan domain.RunID, 1)
	d.SetRunTerminalHook(func(id domain.RunID) { fired <- id })

	run := testRun("run-1")
	require.NoError(t, d.Submit(context.Background(), run, []*domain.Firewall{testFirewall("fw-1")}))
	require.Equal(t, domain.RunCompleted, awaitTerminal(t, d, run.ID))

	select {
	case id := <-fired:
		require.Equal(t, run.ID, id)
	case <-time.After(3 * time.Second):
		t.Fatal("terminal hook never fired")
	}
}

func TestPing(t *testing.T) {
	d := newTestDispatcher(t, memory.NewStore(), newScriptedExec(alwaysPass), 3)
	require.NoError(t, d.Ping())
	require.NoError(t, d.Close())
	require.ErrorIs(t, d.Ping(), domain.ErrShuttingDown)
}
