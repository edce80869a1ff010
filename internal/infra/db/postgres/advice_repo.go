package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/williamsouzadelima/strati-audit/internal/domain/advisor"
)

// AdviceRepo stores model-generated remediation guidance per run.
type AdviceRepo struct {
	db *sql.DB
}

func NewAdviceRepo(db *sql.DB) *AdviceRepo {
	return &AdviceRepo{db: db}
}

// Save insert/update advice record
func (r *AdviceRepo) Save(ctx context.Context, a *advisor.Advice) error {
	const q = `
INSERT INTO run_advice
(id, run_id, summary, risk, recommendations_json, model, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
 summary = EXCLUDED.summary,
 risk = EXCLUDED.risk,
 recommendations_json = EXCLUDED.recommendations_json,
 model = EXCLUDED.model;
`
	recs, err := json.Marshal(a.Recommendations)
	if err != nil {
		return fmt.Errorf("encoding recommendations: %w", err)
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = r.db.ExecContext(ctx, q,
		a.ID, a.RunID, stringOrDash(a.Summary), stringOrDash(a.Risk), recs, a.Model, created,
	)
	return err
}

// LatestByRun returns the newest advice for a run
func (r *AdviceRepo) LatestByRun(ctx context.Context, runID string) (*advisor.Advice, error) {
	const q = `
SELECT id, run_id, summary, risk, recommendations_json, model, created_at
FROM run_advice
WHERE run_id=$1
ORDER BY created_at DESC
LIMIT 1;
`
	var a advisor.Advice
	var summary, recs sql.NullString
	err := r.db.QueryRowContext(ctx, q, runID).Scan(
		&a.ID, &a.RunID, &summary, &a.Risk, &recs, &a.Model, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, advisor.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Summary = summary.String
	if recs.Valid && recs.String != "" {
		if err := json.Unmarshal([]byte(recs.String), &a.Recommendations); err != nil {
			return nil, fmt.Errorf("decoding recommendations: %w", err)
		}
	}
	return &a, nil
}
