package audit

import (
	"context"
	"time"
)

// StateStore is the narrow persistence contract the engine depends on.
// A transition has not happened until the corresponding write returns nil.
type StateStore interface {
	CreateRun(ctx context.Context, run *AuditRun) error
	CreateJob(ctx context.Context, job *AuditJob) error
	// TransitionJob enforces the state machine: writes fail with
	// ErrInvalidTransition when the stored state does not admit newState.
	TransitionJob(ctx context.Context, id JobID, newState JobState, detail TransitionDetail) error
	AttachResult(ctx context.Context, id JobID, result *ScoredResult) error
	GetJob(ctx context.Context, id JobID) (*AuditJob, error)
	GetRun(ctx context.Context, id RunID) (*AuditRun, error)
	ListJobsForRun(ctx context.Context, id RunID) ([]*AuditJob, error)
}

// Directory is the wider read/write surface the service layer uses on top
// of the core contract: listings, report keys, dashboard counts.
type Directory interface {
	ListRuns(ctx context.Context, page, pageSize int) (*PaginatedRuns, error)
	ListRunsForClient(ctx context.Context, clientID ClientID, limit int) ([]*AuditRun, error)
	SetRunReport(ctx context.Context, id RunID, jsonKey, htmlKey string) error
	// SetRunDerived records a snapshot of the derived status for listings;
	// authoritative status is always recomputed from child jobs.
	SetRunDerived(ctx context.Context, id RunID, status RunStatus, finishedAt *time.Time) error
	Stats(ctx context.Context) (*Stats, error)
}

// Executor runs the external audit procedure against one target.
// Implementations must observe ctx during session establishment and while
// waiting on the remote process, tearing the session down on cancellation.
type Executor interface {
	Execute(ctx context.Context, desc ConnDescriptor, timeout time.Duration) (*RawOutput, error)
}

// Inventory manages clients and firewalls.
type Inventory interface {
	CreateClient(ctx context.Context, c *Client) error
	GetClient(ctx context.Context, id ClientID) (*Client, error)
	ListClients(ctx context.Context) ([]*Client, error)
	DeleteClient(ctx context.Context, id ClientID) error

	CreateFirewall(ctx context.Context, f *Firewall) error
	GetFirewall(ctx context.Context, id FirewallID) (*Firewall, error)
	UpdateFirewall(ctx context.Context, f *Firewall) error
	DeleteFirewall(ctx context.Context, id FirewallID) error
	ListFirewalls(ctx context.Context, clientID ClientID) ([]*Firewall, error)
	ListActiveFirewalls(ctx context.Context, clientID ClientID) ([]*Firewall, error)
}

// ArtifactStore persists rendered reports.
type ArtifactStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	UploadAndCleanup(ctx context.Context, localPath, key string) (string, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
