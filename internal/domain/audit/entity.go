package audit

import (
	"time"
)

// ID types
type ClientID string
type FirewallID string
type RunID string
type JobID string

// JobState enum, transitions are one-directional:
// queued -> running -> {completed | failed | timed_out}
// (queued -> failed is allowed for cancellation before start).
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateTimedOut  JobState = "timed_out"
)

// Terminal reports whether no further transition may leave the state.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut:
		return true
	}
	return false
}

// CanTransition validates the state machine edge from s to next.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case StateQueued:
		return next == StateRunning || next == StateFailed
	case StateRunning:
		return next == StateCompleted || next == StateFailed || next == StateTimedOut
	}
	return false
}

// RunStatus enum, derived from child jobs, never mutated independently.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunCompleted RunStatus = "completed"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool { return s != RunPending }

// FailureKind enum
type FailureKind string

const (
	KindConnectionRefused  FailureKind = "connection_refused"
	KindAuthenticationFail FailureKind = "authentication_failed"
	KindTimeout            FailureKind = "timeout"
	KindProcessExitNonZero FailureKind = "process_exit_nonzero"
	KindOutputUnparseable  FailureKind = "output_unparseable"
	KindCancelled          FailureKind = "cancelled"
	KindResolution         FailureKind = "resolution_failed"
	KindInternal           FailureKind = "internal_error"
)

// Transient reports whether retrying the same attempt could succeed.
// Only network-level refusals and timeouts qualify.
func (k FailureKind) Transient() bool {
	return k == KindConnectionRefused || k == KindTimeout
}

// Severity enum
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank orders severities for report sorting, highest first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// Verdict enum
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictUnknown Verdict = "unknown"
)

// Category of an audit check, open set with canonical defaults.
type Category string

// Client owns firewalls; created and removed by admin actions only.
type Client struct {
	ID           ClientID  `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	ContactEmail string    `json:"contact_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Firewall is one audit target. Credential is opaque to the engine and
// must never appear in logs or API responses.
type Firewall struct {
	ID         FirewallID `json:"id"`
	ClientID   ClientID   `json:"client_id"`
	Name       string     `json:"name"`
	Host       string     `json:"host"`
	Port       int        `json:"port"`
	Username   string     `json:"username"`
	Credential string     `json:"-"`
	Active     bool       `json:"active"`
	// TimeoutSeconds overrides the global audit timeout when > 0.
	TimeoutSeconds int       `json:"timeout_seconds,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditRun spans all active firewalls of one client at submission time.
type AuditRun struct {
	ID            RunID      `json:"id"`
	ClientID      ClientID   `json:"client_id"`
	Status        RunStatus  `json:"status"`
	RequestedAt   time.Time  `json:"requested_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ReportJSONKey string     `json:"report_json_key,omitempty"`
	ReportHTMLKey string     `json:"report_html_key,omitempty"`
}

// AuditJob is one execution against one firewall within a run.
type AuditJob struct {
	ID            JobID         `json:"id"`
	RunID         RunID         `json:"run_id"`
	FirewallID    FirewallID    `json:"firewall_id"`
	FirewallName  string        `json:"firewall_name,omitempty"`
	State         JobState      `json:"state"`
	Attempts      int           `json:"attempts"`
	QueuedAt      time.Time     `json:"queued_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	FailureKind   FailureKind   `json:"failure_kind,omitempty"`
	FailureDetail string        `json:"failure_detail,omitempty"`
	Result        *ScoredResult `json:"result,omitempty"`
}

// Finding is one normalized check outcome from the audit tool.
type Finding struct {
	Category    Category `json:"category"`
	Name        string   `json:"name"`
	Severity    Severity `json:"severity"`
	Verdict     Verdict  `json:"verdict"`
	Description string   `json:"description,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
}

// SeverityCounts value object; counts fail-verdict findings only.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"total"`
}

// VerdictCounts value object over all findings of a result.
type VerdictCounts struct {
	Pass    int `json:"pass"`
	Fail    int `json:"fail"`
	Unknown int `json:"unknown"`
	Total   int `json:"total"`
}

// ScoredResult aggregates one job's findings; immutable once computed.
type ScoredResult struct {
	Score      int            `json:"score"`
	Verdicts   VerdictCounts  `json:"verdicts"`
	Severities SeverityCounts `json:"severities"`
	Findings   []Finding      `json:"findings"`
	ComputedAt time.Time      `json:"computed_at"`
}

// TransitionDetail travels with every state change into the store.
type TransitionDetail struct {
	Kind     FailureKind
	Message  string
	Attempts int
	At       time.Time
}

// JobSummary is the per-firewall view exposed by run status reads.
type JobSummary struct {
	JobID         JobID       `json:"job_id"`
	FirewallID    FirewallID  `json:"firewall_id"`
	FirewallName  string      `json:"firewall_name,omitempty"`
	State         JobState    `json:"state"`
	Attempts      int         `json:"attempts"`
	Score         *int        `json:"score,omitempty"`
	FailureKind   FailureKind `json:"failure_kind,omitempty"`
	FailureDetail string      `json:"failure_detail,omitempty"`
}

// RunResult is the aggregate view returned by status and await reads.
type RunResult struct {
	RunID        RunID        `json:"run_id"`
	ClientID     ClientID     `json:"client_id"`
	Status       RunStatus    `json:"status"`
	RequestedAt  time.Time    `json:"requested_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	OverallScore *float64     `json:"overall_score,omitempty"`
	Jobs         []JobSummary `json:"jobs"`
}

// DeriveRunStatus is the pure aggregation over child job states.
func DeriveRunStatus(jobs []*AuditJob) RunStatus {
	states := make([]JobState, 0, len(jobs))
	for _, j := range jobs {
		states = append(states, j.State)
	}
	return DeriveRunStatusFromStates(states)
}

// DeriveRunStatusFromStates aggregates bare states: pending until all
// terminal, then completed / partial / failed by completed count.
func DeriveRunStatusFromStates(states []JobState) RunStatus {
	if len(states) == 0 {
		return RunPending
	}
	completed, terminal := 0, 0
	for _, s := range states {
		if s.Terminal() {
			terminal++
		}
		if s == StateCompleted {
			completed++
		}
	}
	if terminal < len(states) {
		return RunPending
	}
	switch completed {
	case len(states):
		return RunCompleted
	case 0:
		return RunFailed
	}
	return RunPartial
}

// OverallScore averages completed-job scores; nil when none completed.
func OverallScore(jobs []*AuditJob) *float64 {
	sum, n := 0, 0
	for _, j := range jobs {
		if j.State == StateCompleted && j.Result != nil {
			sum += j.Result.Score
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := float64(sum) / float64(n)
	return &avg
}

// Summarize maps a job to its status view.
func (j *AuditJob) Summarize() JobSummary {
	s := JobSummary{
		JobID:         j.ID,
		FirewallID:    j.FirewallID,
		FirewallName:  j.FirewallName,
		State:         j.State,
		Attempts:      j.Attempts,
		FailureKind:   j.FailureKind,
		FailureDetail: j.FailureDetail,
	}
	if j.Result != nil {
		score := j.Result.Score
		s.Score = &score
	}
	return s
}
