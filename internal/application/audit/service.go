package audit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
	"github.com/williamsouzadelima/strati-audit/internal/domain/auditlog"
)

func newID() string { return uuid.NewString() }

// Renderer turns a finished run into report files inside dir.
type Renderer interface {
	Render(ctx context.Context, dir string, in *ReportInput) (jsonPath, htmlPath string, err error)
}

// ReportInput is everything the renderer needs for one run.
type ReportInput struct {
	Client *domain.Client
	Result *domain.RunResult
	Jobs   []*domain.AuditJob
}

// ReportLinks are presigned download URLs for a rendered report.
type ReportLinks struct {
	JSONURL string `json:"json_url"`
	HTMLURL string `json:"html_url"`
}

// Service implements the boundary operations on top of the dispatcher,
// plus the inventory and reporting surface. Safe for concurrent use.
type Service struct {
	Inventory  domain.Inventory
	Store      domain.StateStore
	Directory  domain.Directory
	Dispatcher *Dispatcher
	Artifacts  domain.ArtifactStore
	Renderer   Renderer
	Trail      auditlog.Recorder
	Clock      Clock
	Log        *logrus.Logger
}

//
// ==== AUDIT RUNS ====
//

// SubmitAuditRun creates a run spanning the client's active firewalls and
// hands it to the dispatcher. Fails with ErrNoActiveFirewalls when the
// client has none and ErrDuplicateInFlight when any target is busy.
func (s *Service) SubmitAuditRun(ctx context.Context, clientID domain.ClientID) (domain.RunID, error) {
	client, err := s.Inventory.GetClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	firewalls, err := s.Inventory.ListActiveFirewalls(ctx, client.ID)
	if err != nil {
		return "", fmt.Errorf("list active firewalls: %w", err)
	}
	if len(firewalls) == 0 {
		return "", domain.ErrNoActiveFirewalls
	}

	run := &domain.AuditRun{
		ID:          domain.RunID(newID()),
		ClientID:    client.ID,
		Status:      domain.RunPending,
		RequestedAt: s.Clock.Now(),
	}
	if err := s.Dispatcher.Submit(ctx, run, firewalls); err != nil {
		return "", err
	}

	s.record(ctx, &auditlog.Event{
		Type:     auditlog.EventRunSubmitted,
		RunID:    string(run.ID),
		ClientID: string(client.ID),
		Message:  fmt.Sprintf("audit submitted for %d firewall(s)", len(firewalls)),
	})
	return run.ID, nil
}

// GetRunStatus is the non-blocking aggregate read. Status is always
// recomputed from the child jobs, never trusted from the run row.
func (s *Service) GetRunStatus(ctx context.Context, runID domain.RunID) (*domain.RunResult, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.Store.ListJobsForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	rr := &domain.RunResult{
		RunID:        run.ID,
		ClientID:     run.ClientID,
		Status:       domain.DeriveRunStatus(jobs),
		RequestedAt:  run.RequestedAt,
		FinishedAt:   run.FinishedAt,
		OverallScore: domain.OverallScore(jobs),
	}
	for _, j := range jobs {
		rr.Jobs = append(rr.Jobs, j.Summarize())
	}
	return rr, nil
}

// ListRuns pages through run history, newest first.
func (s *Service) ListRuns(ctx context.Context, page, pageSize int) (*domain.PaginatedRuns, error) {
	return s.Directory.ListRuns(ctx, page, pageSize)
}

// CancelRun is best-effort: terminal jobs are untouched, queued jobs are
// dropped, running jobs get their sessions torn down.
func (s *Service) CancelRun(ctx context.Context, runID domain.RunID) error {
	err := s.Dispatcher.CancelRun(ctx, runID)
	if errors.Is(err, domain.ErrRunNotFound) {
		// Not tracked by this process; a terminal or recovered run in the
		// store still makes the cancel a no-op success.
		if _, serr := s.Store.GetRun(ctx, runID); serr != nil {
			return serr
		}
		err = nil
	}
	if err != nil {
		return err
	}
	s.record(ctx, &auditlog.Event{
		Type:    auditlog.EventRunCancelled,
		RunID:   string(runID),
		Message: "run cancelled",
	})
	return nil
}

// AwaitRunCompletion blocks until the run is terminal or wait elapses.
func (s *Service) AwaitRunCompletion(ctx context.Context, runID domain.RunID, wait time.Duration) (*domain.RunResult, error) {
	if _, err := s.Store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	_, err := s.Dispatcher.AwaitRun(waitCtx, runID)
	if errors.Is(err, domain.ErrRunNotFound) {
		// run predates this process; fall back to polling the store
		err = s.pollUntilTerminal(waitCtx, runID)
	}
	if err != nil {
		return nil, err
	}
	return s.GetRunStatus(ctx, runID)
}

func (s *Service) pollUntilTerminal(ctx context.Context, runID domain.RunID) error {
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		rr, err := s.GetRunStatus(ctx, runID)
		if err != nil {
			return err
		}
		if rr.Status.Terminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return domain.ErrAwaitTimeout
		case <-tick.C:
		}
	}
}

// FinalizeRun runs after a run turns terminal: persist the derived
// snapshot, render the report, upload it, record the keys. Failures are
// logged, never propagated; the run outcome itself is already durable.
func (s *Service) FinalizeRun(runID domain.RunID) {
	ctx := context.Background()
	rr, err := s.GetRunStatus(ctx, runID)
	if err != nil {
		s.Log.WithError(err).WithField("run_id", runID).Error("finalize: status read failed")
		return
	}
	finishedAt := s.Clock.Now()
	if err := s.Directory.SetRunDerived(ctx, runID, rr.Status, &finishedAt); err != nil {
		s.Log.WithError(err).WithField("run_id", runID).Warn("finalize: snapshot write failed")
	}
	rr.FinishedAt = &finishedAt

	if s.Renderer == nil || s.Artifacts == nil {
		return
	}
	jobs, err := s.Store.ListJobsForRun(ctx, runID)
	if err != nil {
		s.Log.WithError(err).WithField("run_id", runID).Error("finalize: job read failed")
		return
	}
	client, err := s.Inventory.GetClient(ctx, rr.ClientID)
	if err != nil {
		s.Log.WithError(err).WithField("run_id", runID).Error("finalize: client read failed")
		return
	}

	dir, err := os.MkdirTemp("", "strati-report-")
	if err != nil {
		s.Log.WithError(err).Error("finalize: temp dir failed")
		return
	}
	defer os.RemoveAll(dir)

	jsonPath, htmlPath, err := s.Renderer.Render(ctx, dir, &ReportInput{
		Client: client,
		Result: rr,
		Jobs:   jobs,
	})
	if err != nil {
		s.Log.WithError(err).WithField("run_id", runID).Error("finalize: render failed")
		return
	}

	prefix := fmt.Sprintf("reports/%s/%s", rr.ClientID, runID)
	jsonKey := prefix + "/report.json"
	htmlKey := prefix + "/report.html"
	if _, err := s.Artifacts.UploadAndCleanup(ctx, jsonPath, jsonKey); err != nil {
		s.Log.WithError(err).WithField("run_id", runID).Error("finalize: json upload failed")
		return
	}
	if _, err := s.Artifacts.UploadAndCleanup(ctx, htmlPath, htmlKey); err != nil {
		s.Log.WithError(err).WithField("run_id", runID).Error("finalize: html upload failed")
		return
	}
	if err := s.Directory.SetRunReport(ctx, runID, jsonKey, htmlKey); err != nil {
		s.Log.WithError(err).WithField("run_id", runID).Error("finalize: report key write failed")
		return
	}
	s.record(ctx, &auditlog.Event{
		Type:    auditlog.EventReportRendered,
		RunID:   string(runID),
		Message: "report rendered and stored",
	})
	s.Log.WithFields(logrus.Fields{"run_id": runID, "html_key": htmlKey}).Info("report stored")
}

// ReportURLs returns presigned download links for a rendered report.
func (s *Service) ReportURLs(ctx context.Context, runID domain.RunID, expiry time.Duration) (*ReportLinks, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.ReportJSONKey == "" || run.ReportHTMLKey == "" {
		return nil, domain.ErrReportNotReady
	}
	if s.Artifacts == nil {
		return nil, domain.ErrReportNotReady
	}
	jsonURL, err := s.Artifacts.PresignGet(ctx, run.ReportJSONKey, expiry)
	if err != nil {
		return nil, fmt.Errorf("presign json: %w", err)
	}
	htmlURL, err := s.Artifacts.PresignGet(ctx, run.ReportHTMLKey, expiry)
	if err != nil {
		return nil, fmt.Errorf("presign html: %w", err)
	}
	return &ReportLinks{JSONURL: jsonURL, HTMLURL: htmlURL}, nil
}

//
// ==== INVENTORY ====
//

type CreateClientCommand struct {
	Name         string
	Description  string
	ContactEmail string
}

type CreateFirewallCommand struct {
	ClientID       domain.ClientID
	Name           string
	Host           string
	Port           int
	Username       string
	Credential     string
	Active         *bool
	TimeoutSeconds int
}

// UpdateFirewallCommand patches fields; nil pointers leave them alone.
type UpdateFirewallCommand struct {
	Name           *string
	Host           *string
	Port           *int
	Username       *string
	Credential     *string
	Active         *bool
	TimeoutSeconds *int
}

func (s *Service) CreateClient(ctx context.Context, cmd CreateClientCommand) (*domain.Client, error) {
	if strings.TrimSpace(cmd.Name) == "" {
		return nil, fmt.Errorf("client name is required")
	}
	c := &domain.Client{
		ID:           domain.ClientID(newID()),
		Name:         strings.TrimSpace(cmd.Name),
		Description:  cmd.Description,
		ContactEmail: cmd.ContactEmail,
		CreatedAt:    s.Clock.Now(),
	}
	if err := s.Inventory.CreateClient(ctx, c); err != nil {
		return nil, err
	}
	s.record(ctx, &auditlog.Event{
		Type:     auditlog.EventInventory,
		ClientID: string(c.ID),
		Message:  fmt.Sprintf("client %q created", c.Name),
	})
	return c, nil
}

func (s *Service) GetClient(ctx context.Context, id domain.ClientID) (*domain.Client, error) {
	return s.Inventory.GetClient(ctx, id)
}

func (s *Service) ListClients(ctx context.Context) ([]*domain.Client, error) {
	return s.Inventory.ListClients(ctx)
}

// DeleteClient refuses while any of the client's firewalls has a
// non-terminal job.
func (s *Service) DeleteClient(ctx context.Context, id domain.ClientID) error {
	firewalls, err := s.Inventory.ListFirewalls(ctx, id)
	if err != nil {
		return err
	}
	for _, fw := range firewalls {
		if s.Dispatcher.InFlight(fw.ID) {
			return domain.ErrClientBusy
		}
	}
	if err := s.Inventory.DeleteClient(ctx, id); err != nil {
		return err
	}
	s.record(ctx, &auditlog.Event{
		Type:     auditlog.EventInventory,
		ClientID: string(id),
		Message:  "client deleted",
	})
	return nil
}

func (s *Service) CreateFirewall(ctx context.Context, cmd CreateFirewallCommand) (*domain.Firewall, error) {
	if _, err := s.Inventory.GetClient(ctx, cmd.ClientID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cmd.Host) == "" {
		return nil, fmt.Errorf("firewall host is required")
	}
	if strings.TrimSpace(cmd.Username) == "" {
		return nil, fmt.Errorf("firewall username is required")
	}
	active := true
	if cmd.Active != nil {
		active = *cmd.Active
	}
	port := cmd.Port
	if port <= 0 {
		port = DefaultFirewallPort
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		name = cmd.Host
	}
	fw := &domain.Firewall{
		ID:             domain.FirewallID(newID()),
		ClientID:       cmd.ClientID,
		Name:           name,
		Host:           strings.TrimSpace(cmd.Host),
		Port:           port,
		Username:       cmd.Username,
		Credential:     cmd.Credential,
		Active:         active,
		TimeoutSeconds: cmd.TimeoutSeconds,
		CreatedAt:      s.Clock.Now(),
	}
	if err := s.Inventory.CreateFirewall(ctx, fw); err != nil {
		return nil, err
	}
	s.record(ctx, &auditlog.Event{
		Type:       auditlog.EventInventory,
		ClientID:   string(fw.ClientID),
		FirewallID: string(fw.ID),
		Message:    fmt.Sprintf("firewall %q registered", fw.Name),
	})
	return fw, nil
}

func (s *Service) ListFirewalls(ctx context.Context, clientID domain.ClientID) ([]*domain.Firewall, error) {
	if _, err := s.Inventory.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.Inventory.ListFirewalls(ctx, clientID)
}

func (s *Service) UpdateFirewall(ctx context.Context, id domain.FirewallID, cmd UpdateFirewallCommand) (*domain.Firewall, error) {
	fw, err := s.Inventory.GetFirewall(ctx, id)
	if err != nil {
		return nil, err
	}
	if cmd.Name != nil {
		fw.Name = *cmd.Name
	}
	if cmd.Host != nil {
		fw.Host = *cmd.Host
	}
	if cmd.Port != nil {
		fw.Port = *cmd.Port
	}
	if cmd.Username != nil {
		fw.Username = *cmd.Username
	}
	if cmd.Credential != nil {
		fw.Credential = *cmd.Credential
	}
	if cmd.Active != nil {
		fw.Active = *cmd.Active
	}
	if cmd.TimeoutSeconds != nil {
		fw.TimeoutSeconds = *cmd.TimeoutSeconds
	}
	if err := s.Inventory.UpdateFirewall(ctx, fw); err != nil {
		return nil, err
	}
	return fw, nil
}

// DeleteFirewall refuses while the target has a non-terminal job.
func (s *Service) DeleteFirewall(ctx context.Context, id domain.FirewallID) error {
	if s.Dispatcher.InFlight(id) {
		return domain.ErrDuplicateInFlight
	}
	return s.Inventory.DeleteFirewall(ctx, id)
}

//
// ==== OBSERVATION ====
//

// Overview merges stored stats with live scheduler counters.
func (s *Service) Overview(ctx context.Context) (*domain.Stats, error) {
	stats, err := s.Directory.Stats(ctx)
	if err != nil {
		return nil, err
	}
	stats.JobsRunning, stats.JobsQueued = s.Dispatcher.Counts()
	return stats, nil
}

// RecentEvents exposes the audit trail tail.
func (s *Service) RecentEvents(ctx context.Context, limit int) ([]*auditlog.Event, error) {
	if s.Trail == nil {
		return nil, nil
	}
	return s.Trail.ListRecent(ctx, limit)
}

// Close drains the dispatcher.
func (s *Service) Close() error {
	return s.Dispatcher.Close()
}

func (s *Service) record(ctx context.Context, e *auditlog.Event) {
	if s.Trail == nil {
		return
	}
	e.CreatedAt = s.Clock.Now()
	if err := s.Trail.Append(ctx, e); err != nil {
		s.Log.WithError(err).Warn("trail append failed")
	}
}
