package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/williamsouzadelima/strati-audit/internal/domain/advisor"
	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
	"github.com/williamsouzadelima/strati-audit/internal/domain/auditlog"
)

func seedJob(t *testing.T, st *Store, id, runID string, queuedAt time.Time) *domain.AuditJob {
	t.Helper()
	job := &domain.AuditJob{
		ID:         domain.JobID(id),
		RunID:      domain.RunID(runID),
		FirewallID: domain.FirewallID("fw-" + id),
		State:      domain.StateQueued,
		QueuedAt:   queuedAt,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	return job
}

func seedRun(t *testing.T, st *Store, id, clientID string, requestedAt time.Time) *domain.AuditRun {
	t.Helper()
	run := &domain.AuditRun{
		ID:          domain.RunID(id),
		ClientID:    domain.ClientID(clientID),
		Status:      domain.RunPending,
		RequestedAt: requestedAt,
	}
	require.NoError(t, st.CreateRun(context.Background(), run))
	return run
}

func TestTransitionJobLifecycle(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	seedJob(t, st, "job-1", "run-1", time.Now())

	// queued may not skip straight to a result-bearing state
	err := st.TransitionJob(ctx, "job-1", domain.StateCompleted, domain.TransitionDetail{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.TransitionJob(ctx, "job-1", domain.StateRunning, domain.TransitionDetail{At: startedAt}))
	job, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateRunning, job.State)
	require.NotNil(t, job.StartedAt)
	require.True(t, job.StartedAt.Equal(startedAt))

	finishedAt := startedAt.Add(time.Minute)
	require.NoError(t, st.TransitionJob(ctx, "job-1", domain.StateCompleted, domain.TransitionDetail{Attempts: 2, At: finishedAt}))
	job, err = st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, job.State)
	require.Equal(t, 2, job.Attempts)
	require.NotNil(t, job.FinishedAt)
	require.True(t, job.FinishedAt.Equal(finishedAt))

	// terminal states are frozen
	err = st.TransitionJob(ctx, "job-1", domain.StateFailed, domain.TransitionDetail{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = st.TransitionJob(ctx, "missing", domain.StateRunning, domain.TransitionDetail{})
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestTransitionJobFailureFields(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	// pre-start cancellation goes queued -> failed directly
	seedJob(t, st, "job-1", "run-1", time.Now())
	require.NoError(t, st.TransitionJob(ctx, "job-1", domain.StateFailed, domain.TransitionDetail{
		Kind:    domain.KindCancelled,
		Message: "cancelled before start",
	}))
	job, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateFailed, job.State)
	require.Equal(t, domain.KindCancelled, job.FailureKind)
	require.Equal(t, "cancelled before start", job.FailureDetail)
	require.Zero(t, job.Attempts)
	require.Nil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)

	seedJob(t, st, "job-2", "run-1", time.Now())
	require.NoError(t, st.TransitionJob(ctx, "job-2", domain.StateRunning, domain.TransitionDetail{}))
	require.NoError(t, st.TransitionJob(ctx, "job-2", domain.StateTimedOut, domain.TransitionDetail{
		Kind:     domain.KindTimeout,
		Message:  "audit did not finish within 300s",
		Attempts: 3,
	}))
	job, err = st.GetJob(ctx, "job-2")
	require.NoError(t, err)
	require.Equal(t, domain.StateTimedOut, job.State)
	require.Equal(t, domain.KindTimeout, job.FailureKind)
	require.Equal(t, 3, job.Attempts)
}

func TestAttachResultCopies(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	seedJob(t, st, "job-1", "run-1", time.Now())

	findings := []domain.Finding{{
		Category: "logging",
		Name:     "remote syslog",
		Severity: domain.SeverityLow,
		Verdict:  domain.VerdictPass,
	}}
	result := domain.NewScoredResult(findings, domain.DefaultPenalties(), time.Now())
	require.NoError(t, st.AttachResult(ctx, "job-1", result))

	// mutating the caller's copy must not reach the store
	result.Score = 0
	result.Findings[0].Name = "tampered"

	job, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.Result)
	require.Equal(t, 100, job.Result.Score)
	require.Equal(t, "remote syslog", job.Result.Findings[0].Name)

	// nor may mutating a read copy
	job.Result.Findings[0].Name = "tampered again"
	fresh, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, "remote syslog", fresh.Result.Findings[0].Name)

	err = st.AttachResult(ctx, "missing", result)
	require.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestListJobsForRunOrdering(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	seedJob(t, st, "job-c", "run-1", base.Add(2*time.Second))
	seedJob(t, st, "job-a", "run-1", base)
	seedJob(t, st, "job-b", "run-1", base.Add(time.Second))
	seedJob(t, st, "job-x", "run-2", base)

	jobs, err := st.ListJobsForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	require.Equal(t, domain.JobID("job-a"), jobs[0].ID)
	require.Equal(t, domain.JobID("job-b"), jobs[1].ID)
	require.Equal(t, domain.JobID("job-c"), jobs[2].ID)
}

func TestListRunsPagination(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedRun(t, st, string(rune('a'+i)), "client-1", base.Add(time.Duration(i)*time.Minute))
	}

	page, err := st.ListRuns(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, int64(5), page.Total)
	require.Equal(t, 3, page.TotalPages)
	require.Len(t, page.Data, 2)
	// newest first
	require.Equal(t, domain.RunID("e"), page.Data[0].ID)
	require.Equal(t, domain.RunID("d"), page.Data[1].ID)

	page, err = st.ListRuns(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, domain.RunID("a"), page.Data[0].ID)

	page, err = st.ListRuns(ctx, 9, 2)
	require.NoError(t, err)
	require.Empty(t, page.Data)

	// out-of-range paging inputs fall back to defaults
	page, err = st.ListRuns(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, page.Page)
	require.Equal(t, 20, page.PageSize)
	require.Len(t, page.Data, 5)
}

func TestListRunsForClient(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedRun(t, st, "r1", "client-1", base)
	seedRun(t, st, "r2", "client-1", base.Add(time.Minute))
	seedRun(t, st, "r3", "client-2", base.Add(2*time.Minute))

	runs, err := st.ListRunsForClient(ctx, "client-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, domain.RunID("r2"), runs[0].ID)

	runs, err = st.ListRunsForClient(ctx, "client-1", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, domain.RunID("r2"), runs[0].ID)
}

func TestSetRunDerivedAndReport(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	seedRun(t, st, "run-1", "client-1", time.Now())

	finished := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	require.NoError(t, st.SetRunDerived(ctx, "run-1", domain.RunPartial, &finished))
	require.NoError(t, st.SetRunReport(ctx, "run-1", "reports/run-1/report.json", "reports/run-1/report.html"))

	run, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, domain.RunPartial, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.True(t, run.FinishedAt.Equal(finished))
	require.Equal(t, "reports/run-1/report.json", run.ReportJSONKey)
	require.Equal(t, "reports/run-1/report.html", run.ReportHTMLKey)

	require.ErrorIs(t, st.SetRunDerived(ctx, "missing", domain.RunFailed, nil), domain.ErrRunNotFound)
	require.ErrorIs(t, st.SetRunReport(ctx, "missing", "a", "b"), domain.ErrRunNotFound)
}

func TestClientDirectory(t *testing.T) {
	st := NewStore()
	ctx := context.Background()

	require.NoError(t, st.CreateClient(ctx, &domain.Client{ID: "c1", Name: "zeta"}))
	require.NoError(t, st.CreateClient(ctx, &domain.Client{ID: "c2", Name: "acme", ContactEmail: "noc@acme.example"}))

	got, err := st.GetClient(ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, "acme", got.Name)
	require.False(t, got.CreatedAt.IsZero())

	list, err := st.ListClients(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "acme", list[0].Name)
	require.Equal(t, "zeta", list[1].Name)

	_, err = st.GetClient(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrClientNotFound)
	require.ErrorIs(t, st.DeleteClient(ctx, "missing"), domain.ErrClientNotFound)
}

func TestDeleteClientCascadesFirewalls(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	require.NoError(t, st.CreateClient(ctx, &domain.Client{ID: "c1", Name: "acme"}))
	require.NoError(t, st.CreateFirewall(ctx, &domain.Firewall{ID: "f1", ClientID: "c1", Name: "edge", Active: true}))
	require.NoError(t, st.CreateFirewall(ctx, &domain.Firewall{ID: "f2", ClientID: "c2", Name: "other", Active: true}))

	require.NoError(t, st.DeleteClient(ctx, "c1"))

	_, err := st.GetFirewall(ctx, "f1")
	require.ErrorIs(t, err, domain.ErrFirewallNotFound)
	_, err = st.GetFirewall(ctx, "f2")
	require.NoError(t, err)
}

func TestFirewallInventory(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, st.CreateFirewall(ctx, &domain.Firewall{
		ID: "f1", ClientID: "c1", Name: "edge-1", Host: "10.0.0.1", Active: true, CreatedAt: base,
	}))
	require.NoError(t, st.CreateFirewall(ctx, &domain.Firewall{
		ID: "f2", ClientID: "c1", Name: "edge-2", Host: "10.0.0.2", Active: false, CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, st.CreateFirewall(ctx, &domain.Firewall{
		ID: "f3", ClientID: "c2", Name: "dmz", Host: "10.1.0.1", Active: true, CreatedAt: base,
	}))

	all, err := st.ListFirewalls(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, domain.FirewallID("f1"), all[0].ID)
	require.Equal(t, domain.FirewallID("f2"), all[1].ID)

	active, err := st.ListActiveFirewalls(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, domain.FirewallID("f1"), active[0].ID)

	f1, err := st.GetFirewall(ctx, "f1")
	require.NoError(t, err)
	f1.Active = false
	require.NoError(t, st.UpdateFirewall(ctx, f1))
	active, err = st.ListActiveFirewalls(ctx, "c1")
	require.NoError(t, err)
	require.Empty(t, active)

	require.ErrorIs(t, st.UpdateFirewall(ctx, &domain.Firewall{ID: "missing"}), domain.ErrFirewallNotFound)
	require.NoError(t, st.DeleteFirewall(ctx, "f1"))
	require.ErrorIs(t, st.DeleteFirewall(ctx, "f1"), domain.ErrFirewallNotFound)
}

func TestStatsCounters(t *testing.T) {
	st := NewStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.CreateClient(ctx, &domain.Client{ID: "c1", Name: "acme"}))
	require.NoError(t, st.CreateFirewall(ctx, &domain.Firewall{ID: "f1", ClientID: "c1", Active: true}))
	require.NoError(t, st.CreateFirewall(ctx, &domain.Firewall{ID: "f2", ClientID: "c1", Active: true}))

	seedRun(t, st, "run-1", "c1", now.Add(-time.Hour))
	earlier := now.Add(-time.Hour)
	require.NoError(t, st.SetRunDerived(ctx, "run-1", domain.RunCompleted, &earlier))
	require.NoError(t, st.SetRunReport(ctx, "run-1", "reports/run-1/report.json", "reports/run-1/report.html"))

	seedRun(t, st, "run-2", "c1", now)
	require.NoError(t, st.SetRunDerived(ctx, "run-2", domain.RunCompleted, &now))

	// run-1: one completed job scoring 60
	seedJob(t, st, "j1", "run-1", now.Add(-time.Hour))
	require.NoError(t, st.TransitionJob(ctx, "j1", domain.StateRunning, domain.TransitionDetail{}))
	require.NoError(t, st.AttachResult(ctx, "j1", &domain.ScoredResult{Score: 60}))
	require.NoError(t, st.TransitionJob(ctx, "j1", domain.StateCompleted, domain.TransitionDetail{Attempts: 1}))

	// run-2: one completed job scoring 100, one running, one queued
	seedJob(t, st, "j2", "run-2", now)
	require.NoError(t, st.TransitionJob(ctx, "j2", domain.StateRunning, domain.TransitionDetail{}))
	require.NoError(t, st.AttachResult(ctx, "j2", &domain.ScoredResult{Score: 100}))
	require.NoError(t, st.TransitionJob(ctx, "j2", domain.StateCompleted, domain.TransitionDetail{Attempts: 1}))
	seedJob(t, st, "j3", "run-2", now)
	require.NoError(t, st.TransitionJob(ctx, "j3", domain.StateRunning, domain.TransitionDetail{}))
	seedJob(t, st, "j4", "run-2", now)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Clients)
	require.Equal(t, 2, stats.Firewalls)
	require.Equal(t, 2, stats.Runs)
	require.Equal(t, 1, stats.JobsRunning)
	require.Equal(t, 1, stats.JobsQueued)
	require.Equal(t, 1, stats.ReportsStored)
	require.NotNil(t, stats.AverageScore)
	require.InDelta(t, 80.0, *stats.AverageScore, 0.001)
	// run-2 finished last, so its completed jobs back the last-run score
	require.NotNil(t, stats.LastRunScore)
	require.InDelta(t, 100.0, *stats.LastRunScore, 0.001)
}

func TestTrailOrderingAndFilter(t *testing.T) {
	tr := NewTrail()
	ctx := context.Background()

	for i, runID := range []string{"run-1", "run-2", "run-1"} {
		require.NoError(t, tr.Append(ctx, &auditlog.Event{
			Type:    auditlog.EventJobTransition,
			RunID:   runID,
			Message: string(rune('a' + i)),
		}))
	}

	recent, err := tr.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// newest first, ids assigned in append order
	require.Equal(t, int64(3), recent[0].ID)
	require.Equal(t, int64(2), recent[1].ID)
	require.False(t, recent[0].CreatedAt.IsZero())

	byRun, err := tr.ListByRun(ctx, "run-1", 10)
	require.NoError(t, err)
	require.Len(t, byRun, 2)
	require.Equal(t, int64(1), byRun[0].ID)
	require.Equal(t, int64(3), byRun[1].ID)
}

func TestAdviceRepoReplacesPerRun(t *testing.T) {
	repo := NewAdviceRepo()
	ctx := context.Background()

	_, err := repo.LatestByRun(ctx, "run-1")
	require.ErrorIs(t, err, advisor.ErrNotFound)

	first := &advisor.Advice{
		RunID:   "run-1",
		Summary: "tighten the rulebase",
		Recommendations: []advisor.Recommendation{
			{Category: "security_policies", Severity: "critical", Action: "add a default deny rule"},
		},
	}
	require.NoError(t, repo.Save(ctx, first))

	// mutating the saved value must not reach the repo
	first.Recommendations[0].Action = "tampered"
	got, err := repo.LatestByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "add a default deny rule", got.Recommendations[0].Action)

	require.NoError(t, repo.Save(ctx, &advisor.Advice{RunID: "run-1", Summary: "second pass"}))
	got, err = repo.LatestByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "second pass", got.Summary)
	require.Empty(t, got.Recommendations)
}
