package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates every table the engine needs when it is missing.
// Safe to run on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS clients (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			contact_email VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS firewalls (
			id VARCHAR(64) PRIMARY KEY,
			client_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			host VARCHAR(255) NOT NULL,
			port INTEGER NOT NULL DEFAULT 4444,
			username VARCHAR(128) NOT NULL,
			credential TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			timeout_seconds INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_firewalls_client ON firewalls (client_id)`,
		`CREATE TABLE IF NOT EXISTS audit_runs (
			id VARCHAR(64) PRIMARY KEY,
			client_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			requested_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			report_json_key VARCHAR(512) NOT NULL DEFAULT '',
			report_html_key VARCHAR(512) NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_client ON audit_runs (client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_requested ON audit_runs (requested_at)`,
		`CREATE TABLE IF NOT EXISTS audit_jobs (
			id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			firewall_id VARCHAR(64) NOT NULL,
			firewall_name VARCHAR(255) NOT NULL DEFAULT '',
			state VARCHAR(16) NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			queued_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			failure_kind VARCHAR(32) NOT NULL DEFAULT '',
			failure_detail TEXT,
			score INTEGER,
			result_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_run ON audit_jobs (run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_firewall ON audit_jobs (firewall_id)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id BIGSERIAL PRIMARY KEY,
			type VARCHAR(32) NOT NULL,
			run_id VARCHAR(64) NOT NULL DEFAULT '',
			job_id VARCHAR(64) NOT NULL DEFAULT '',
			client_id VARCHAR(64) NOT NULL DEFAULT '',
			firewall_id VARCHAR(64) NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON audit_events (run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON audit_events (created_at)`,
		`CREATE TABLE IF NOT EXISTS run_advice (
			id VARCHAR(80) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			summary TEXT,
			risk VARCHAR(32) NOT NULL DEFAULT '',
			recommendations_json TEXT,
			model VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_advice_run ON run_advice (run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
