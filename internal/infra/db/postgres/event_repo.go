package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/williamsouzadelima/strati-audit/internal/domain/auditlog"
)

// EventRepo appends and reads the audit trail.
type EventRepo struct {
	db *sql.DB
}

func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{db: db}
}

func (r *EventRepo) Append(ctx context.Context, e *auditlog.Event) error {
	const q = `
INSERT INTO audit_events (type, run_id, job_id, client_id, firewall_id, message, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7);
`
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		e.Type, e.RunID, e.JobID, e.ClientID, e.FirewallID, stringOrDash(e.Message), created,
	)
	return err
}

func (r *EventRepo) ListRecent(ctx context.Context, limit int) ([]*auditlog.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, type, run_id, job_id, client_id, firewall_id, message, created_at
FROM audit_events
ORDER BY created_at DESC, id DESC
LIMIT $1;
`
	return r.query(ctx, q, limit)
}

func (r *EventRepo) ListByRun(ctx context.Context, runID string, limit int) ([]*auditlog.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, type, run_id, job_id, client_id, firewall_id, message, created_at
FROM audit_events
WHERE run_id=$1
ORDER BY created_at ASC, id ASC
LIMIT $2;
`
	return r.query(ctx, q, runID, limit)
}

func (r *EventRepo) query(ctx context.Context, q string, args ...interface{}) ([]*auditlog.Event, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auditlog.Event
	for rows.Next() {
		var e auditlog.Event
		if err := rows.Scan(
			&e.ID, &e.Type, &e.RunID, &e.JobID, &e.ClientID, &e.FirewallID, &e.Message, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
