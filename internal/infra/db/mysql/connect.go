package mysql

import (
	"context"
	"database/sql"
	_ "github.com/go-sql-driver/mysql"
	"time"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
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
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS firewalls (
			id VARCHAR(64) PRIMARY KEY,
			client_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			host VARCHAR(255) NOT NULL,
			port INT NOT NULL DEFAULT 4444,
			username VARCHAR(128) NOT NULL,
			credential TEXT,
			active TINYINT(1) NOT NULL DEFAULT 1,
			timeout_seconds INT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			INDEX idx_firewalls_client (client_id)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_runs (
			id VARCHAR(64) PRIMARY KEY,
			client_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			requested_at DATETIME NOT NULL,
			finished_at DATETIME NULL,
			report_json_key VARCHAR(512) NOT NULL DEFAULT '',
			report_html_key VARCHAR(512) NOT NULL DEFAULT '',
			INDEX idx_runs_client (client_id),
			INDEX idx_runs_requested (requested_at)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_jobs (
			id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			firewall_id VARCHAR(64) NOT NULL,
			firewall_name VARCHAR(255) NOT NULL DEFAULT '',
			state VARCHAR(16) NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			queued_at DATETIME NOT NULL,
			started_at DATETIME NULL,
			finished_at DATETIME NULL,
			failure_kind VARCHAR(32) NOT NULL DEFAULT '',
			failure_detail TEXT,
			score INT NULL,
			result_json MEDIUMTEXT,
			INDEX idx_jobs_run (run_id),
			INDEX idx_jobs_firewall (firewall_id)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			type VARCHAR(32) NOT NULL,
			run_id VARCHAR(64) NOT NULL DEFAULT '',
			job_id VARCHAR(64) NOT NULL DEFAULT '',
			client_id VARCHAR(64) NOT NULL DEFAULT '',
			firewall_id VARCHAR(64) NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			INDEX idx_events_run (run_id),
			INDEX idx_events_created (created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS run_advice (
			id VARCHAR(80) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			summary TEXT,
			risk VARCHAR(32) NOT NULL DEFAULT '',
			recommendations_json MEDIUMTEXT,
			model VARCHAR(64) NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			INDEX idx_advice_run (run_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
