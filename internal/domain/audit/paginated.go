package audit

// PaginatedRuns is the run-listing page with metadata.
type PaginatedRuns struct {
	Data       []*AuditRun `json:"data"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	Total      int64       `json:"totalItems"`
	TotalPages int         `json:"totalPages"`
}

// Stats backs the dashboard endpoint.
type Stats struct {
	Clients       int      `json:"clients"`
	Firewalls     int      `json:"firewalls"`
	Runs          int      `json:"runs"`
	RunsToday     int      `json:"runs_today"`
	JobsRunning   int      `json:"jobs_running"`
	JobsQueued    int      `json:"jobs_queued"`
	AverageScore  *float64 `json:"average_score,omitempty"`
	LastRunScore  *float64 `json:"last_run_score,omitempty"`
	ReportsStored int      `json:"reports_stored"`
}
