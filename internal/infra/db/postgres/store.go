package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

// Store persists runs and jobs and serves the directory queries on top.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateRun inserts the run row in its initial state
func (r *Store) CreateRun(ctx context.Context, run *domain.AuditRun) error {
	const q = `
INSERT INTO audit_runs
(id, client_id, status, requested_at, finished_at, report_json_key, report_html_key)
VALUES ($1,$2,$3,$4,$5,$6,$7);
`
	status := run.Status
	if status == "" {
		status = domain.RunPending
	}
	requested := run.RequestedAt
	if requested.IsZero() {
		requested = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		run.ID, run.ClientID, status, requested,
		nullTime(run.FinishedAt), run.ReportJSONKey, run.ReportHTMLKey,
	)
	return err
}

// CreateJob inserts the job row; score and result stay NULL until attached
func (r *Store) CreateJob(ctx context.Context, job *domain.AuditJob) error {
	const q = `
INSERT INTO audit_jobs
(id, run_id, firewall_id, firewall_name, state, attempts, queued_at,
 started_at, finished_at, failure_kind, failure_detail)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);
`
	state := job.State
	if state == "" {
		state = domain.StateQueued
	}
	queued := job.QueuedAt
	if queued.IsZero() {
		queued = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		job.ID, job.RunID, job.FirewallID, job.FirewallName, state, job.Attempts, queued,
		nullTime(job.StartedAt), nullTime(job.FinishedAt), job.FailureKind, job.FailureDetail,
	)
	return err
}

// TransitionJob applies a state change as a guarded UPDATE; see the mysql
// adapter for the reasoning, only the placeholders differ.
func (r *Store) TransitionJob(ctx context.Context, id domain.JobID, newState domain.JobState, detail domain.TransitionDetail) error {
	at := detail.At
	if at.IsZero() {
		at = time.Now()
	}

	var q string
	var args []interface{}
	switch newState {
	case domain.StateRunning:
		q = `UPDATE audit_jobs SET state=$1, started_at=$2 WHERE id=$3 AND state='queued';`
		args = []interface{}{newState, at, id}
	case domain.StateCompleted:
		q = `UPDATE audit_jobs SET state=$1, attempts=$2, finished_at=$3 WHERE id=$4 AND state='running';`
		args = []interface{}{newState, detail.Attempts, at, id}
	case domain.StateTimedOut:
		q = `UPDATE audit_jobs SET state=$1, attempts=$2, finished_at=$3, failure_kind=$4, failure_detail=$5 WHERE id=$6 AND state='running';`
		args = []interface{}{newState, detail.Attempts, at, detail.Kind, detail.Message, id}
	case domain.StateFailed:
		q = `UPDATE audit_jobs SET state=$1, attempts=$2, finished_at=$3, failure_kind=$4, failure_detail=$5 WHERE id=$6 AND state IN ('queued','running');`
		args = []interface{}{newState, detail.Attempts, at, detail.Kind, detail.Message, id}
	default:
		return fmt.Errorf("%w: no edge into %s", domain.ErrInvalidTransition, newState)
	}

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var current string
		err := r.db.QueryRowContext(ctx, `SELECT state FROM audit_jobs WHERE id=$1 LIMIT 1;`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return domain.ErrJobNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current, newState)
	}
	return nil
}

// AttachResult stores the scored result document and its score column
func (r *Store) AttachResult(ctx context.Context, id domain.JobID, result *domain.ScoredResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	const q = `UPDATE audit_jobs SET score=$1, result_json=$2 WHERE id=$3;`
	res, err := r.db.ExecContext(ctx, q, result.Score, payload, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// GetJob by ID
func (r *Store) GetJob(ctx context.Context, id domain.JobID) (*domain.AuditJob, error) {
	const q = `
SELECT id, run_id, firewall_id, firewall_name, state, attempts, queued_at,
       started_at, finished_at, failure_kind, failure_detail, result_json
FROM audit_jobs
WHERE id=$1 LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, id)

	var j domain.AuditJob
	var started, finished sql.NullTime
	var failDetail, resJSON sql.NullString
	if err := row.Scan(
		&j.ID, &j.RunID, &j.FirewallID, &j.FirewallName, &j.State, &j.Attempts, &j.QueuedAt,
		&started, &finished, &j.FailureKind, &failDetail, &resJSON,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	j.StartedAt = timePtr(started)
	j.FinishedAt = timePtr(finished)
	j.FailureDetail = failDetail.String
	if resJSON.Valid && resJSON.String != "" {
		var res domain.ScoredResult
		if err := json.Unmarshal([]byte(resJSON.String), &res); err != nil {
			return nil, fmt.Errorf("decoding result for job %s: %w", j.ID, err)
		}
		j.Result = &res
	}
	return &j, nil
}

// GetRun by ID
func (r *Store) GetRun(ctx context.Context, id domain.RunID) (*domain.AuditRun, error) {
	const q = `
SELECT id, client_id, status, requested_at, finished_at, report_json_key, report_html_key
FROM audit_runs
WHERE id=$1 LIMIT 1;
`
	row := r.db.QueryRowContext(ctx, q, id)

	var run domain.AuditRun
	var finished sql.NullTime
	if err := row.Scan(
		&run.ID, &run.ClientID, &run.Status, &run.RequestedAt,
		&finished, &run.ReportJSONKey, &run.ReportHTMLKey,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrRunNotFound
		}
		return nil, err
	}
	run.FinishedAt = timePtr(finished)
	return &run, nil
}

// ListJobsForRun in submission order
func (r *Store) ListJobsForRun(ctx context.Context, id domain.RunID) ([]*domain.AuditJob, error) {
	const q = `
SELECT id, run_id, firewall_id, firewall_name, state, attempts, queued_at,
       started_at, finished_at, failure_kind, failure_detail, result_json
FROM audit_jobs
WHERE run_id=$1 ORDER BY queued_at ASC, id ASC;
`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditJob
	for rows.Next() {
		var j domain.AuditJob
		var started, finished sql.NullTime
		var failDetail, resJSON sql.NullString
		if err := rows.Scan(
			&j.ID, &j.RunID, &j.FirewallID, &j.FirewallName, &j.State, &j.Attempts, &j.QueuedAt,
			&started, &finished, &j.FailureKind, &failDetail, &resJSON,
		); err != nil {
			return nil, err
		}
		j.StartedAt = timePtr(started)
		j.FinishedAt = timePtr(finished)
		j.FailureDetail = failDetail.String
		if resJSON.Valid && resJSON.String != "" {
			var res domain.ScoredResult
			if err := json.Unmarshal([]byte(resJSON.String), &res); err != nil {
				return nil, fmt.Errorf("decoding result for job %s: %w", j.ID, err)
			}
			j.Result = &res
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

// ListRuns with offset + limit (classic pagination)
func (r *Store) ListRuns(ctx context.Context, page, pageSize int) (*domain.PaginatedRuns, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	const q = `
SELECT id, client_id, status, requested_at, finished_at, report_json_key, report_html_key
FROM audit_runs
ORDER BY requested_at DESC, id DESC
LIMIT $1 OFFSET $2;
`
	rows, err := r.db.QueryContext(ctx, q, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.AuditRun
	for rows.Next() {
		var run domain.AuditRun
		var finished sql.NullTime
		if err := rows.Scan(
			&run.ID, &run.ClientID, &run.Status, &run.RequestedAt,
			&finished, &run.ReportJSONKey, &run.ReportHTMLKey,
		); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		run.FinishedAt = timePtr(finished)
		runs = append(runs, &run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_runs;`).Scan(&total); err != nil {
		return nil, fmt.Errorf("getting total count: %w", err)
	}

	return &domain.PaginatedRuns{
		Data:       runs,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

// ListRunsForClient returns the newest runs of one client
func (r *Store) ListRunsForClient(ctx context.Context, clientID domain.ClientID, limit int) ([]*domain.AuditRun, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, client_id, status, requested_at, finished_at, report_json_key, report_html_key
FROM audit_runs
WHERE client_id=$1 ORDER BY requested_at DESC LIMIT $2;
`
	rows, err := r.db.QueryContext(ctx, q, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditRun
	for rows.Next() {
		var run domain.AuditRun
		var finished sql.NullTime
		if err := rows.Scan(
			&run.ID, &run.ClientID, &run.Status, &run.RequestedAt,
			&finished, &run.ReportJSONKey, &run.ReportHTMLKey,
		); err != nil {
			return nil, err
		}
		run.FinishedAt = timePtr(finished)
		out = append(out, &run)
	}
	return out, rows.Err()
}

// SetRunReport records where the rendered artifacts were stored
func (r *Store) SetRunReport(ctx context.Context, id domain.RunID, jsonKey, htmlKey string) error {
	const q = `UPDATE audit_runs SET report_json_key=$1, report_html_key=$2 WHERE id=$3;`
	_, err := r.db.ExecContext(ctx, q, jsonKey, htmlKey, id)
	return err
}

// SetRunDerived snapshots the derived status for listings
func (r *Store) SetRunDerived(ctx context.Context, id domain.RunID, status domain.RunStatus, finishedAt *time.Time) error {
	const q = `UPDATE audit_runs SET status=$1, finished_at=$2 WHERE id=$3;`
	_, err := r.db.ExecContext(ctx, q, status, nullTime(finishedAt), id)
	return err
}

// Stats aggregates the dashboard counters.
func (r *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	const q = `
SELECT
  (SELECT COUNT(*) FROM clients),
  (SELECT COUNT(*) FROM firewalls),
  (SELECT COUNT(*) FROM audit_runs),
  (SELECT COUNT(*) FROM audit_runs WHERE requested_at >= $1),
  (SELECT COUNT(*) FROM audit_jobs WHERE state='running'),
  (SELECT COUNT(*) FROM audit_jobs WHERE state='queued'),
  (SELECT COUNT(*) FROM audit_runs WHERE report_html_key <> '');
`
	var st domain.Stats
	if err := r.db.QueryRowContext(ctx, q, dayStart).Scan(
		&st.Clients, &st.Firewalls, &st.Runs, &st.RunsToday,
		&st.JobsRunning, &st.JobsQueued, &st.ReportsStored,
	); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := r.db.QueryRowContext(ctx,
		`SELECT AVG(score) FROM audit_jobs WHERE state='completed';`,
	).Scan(&avg); err != nil {
		return nil, err
	}
	if avg.Valid {
		v := avg.Float64
		st.AverageScore = &v
	}

	const lastQ = `
SELECT AVG(score) FROM audit_jobs
WHERE state='completed' AND run_id = (
  SELECT id FROM audit_runs WHERE finished_at IS NOT NULL
  ORDER BY finished_at DESC LIMIT 1
);
`
	var last sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, lastQ).Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		v := last.Float64
		st.LastRunScore = &v
	}
	return &st, nil
}
