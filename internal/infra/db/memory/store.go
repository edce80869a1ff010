package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

// Store is the in-memory adapter used by the dev profile and tests. It
// carries the state store, the directory and the inventory on one struct,
// the way the SQL adapters share one database handle. All methods copy on
// the way in and out so callers never alias internal state.
type Store struct {
	mu      sync.RWMutex
	clients map[domain.ClientID]*domain.Client
	fws     map[domain.FirewallID]*domain.Firewall
	runs    map[domain.RunID]*domain.AuditRun
	jobs    map[domain.JobID]*domain.AuditJob
}

func NewStore() *Store {
	return &Store{
		clients: make(map[domain.ClientID]*domain.Client),
		fws:     make(map[domain.FirewallID]*domain.Firewall),
		runs:    make(map[domain.RunID]*domain.AuditRun),
		jobs:    make(map[domain.JobID]*domain.AuditJob),
	}
}

func (s *Store) CreateRun(ctx context.Context, run *domain.AuditRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	if cp.Status == "" {
		cp.Status = domain.RunPending
	}
	if cp.RequestedAt.IsZero() {
		cp.RequestedAt = time.Now()
	}
	s.runs[cp.ID] = &cp
	return nil
}

func (s *Store) CreateJob(ctx context.Context, job *domain.AuditJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	if cp.State == "" {
		cp.State = domain.StateQueued
	}
	if cp.QueuedAt.IsZero() {
		cp.QueuedAt = time.Now()
	}
	s.jobs[cp.ID] = &cp
	return nil
}

func (s *Store) TransitionJob(ctx context.Context, id domain.JobID, newState domain.JobState, detail domain.TransitionDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !j.State.CanTransition(newState) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, j.State, newState)
	}
	at := detail.At
	if at.IsZero() {
		at = time.Now()
	}
	switch newState {
	case domain.StateRunning:
		j.StartedAt = &at
	case domain.StateCompleted:
		j.Attempts = detail.Attempts
		j.FinishedAt = &at
	case domain.StateFailed, domain.StateTimedOut:
		j.Attempts = detail.Attempts
		j.FinishedAt = &at
		j.FailureKind = detail.Kind
		j.FailureDetail = detail.Message
	}
	j.State = newState
	return nil
}

func (s *Store) AttachResult(ctx context.Context, id domain.JobID, result *domain.ScoredResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	res := *result
	res.Findings = append([]domain.Finding(nil), result.Findings...)
	j.Result = &res
	return nil
}

func (s *Store) GetJob(ctx context.Context, id domain.JobID) (*domain.AuditJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return copyJob(j), nil
}

func (s *Store) GetRun(ctx context.Context, id domain.RunID) (*domain.AuditRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *Store) ListJobsForRun(ctx context.Context, id domain.RunID) ([]*domain.AuditJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.AuditJob
	for _, j := range s.jobs {
		if j.RunID == id {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].QueuedAt.Equal(out[k].QueuedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].QueuedAt.Before(out[k].QueuedAt)
	})
	return out, nil
}

func (s *Store) ListRuns(ctx context.Context, page, pageSize int) (*domain.PaginatedRuns, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	s.mu.RLock()
	all := make([]*domain.AuditRun, 0, len(s.runs))
	for _, run := range s.runs {
		cp := *run
		all = append(all, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, k int) bool {
		if all[i].RequestedAt.Equal(all[k].RequestedAt) {
			return all[i].ID > all[k].ID
		}
		return all[i].RequestedAt.After(all[k].RequestedAt)
	})

	total := int64(len(all))
	offset := (page - 1) * pageSize
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	return &domain.PaginatedRuns{
		Data:       all[offset:end],
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
	}, nil
}

func (s *Store) ListRunsForClient(ctx context.Context, clientID domain.ClientID, limit int) ([]*domain.AuditRun, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	var out []*domain.AuditRun
	for _, run := range s.runs {
		if run.ClientID == clientID {
			cp := *run
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool {
		return out[i].RequestedAt.After(out[k].RequestedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SetRunReport(ctx context.Context, id domain.RunID, jsonKey, htmlKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.ErrRunNotFound
	}
	run.ReportJSONKey = jsonKey
	run.ReportHTMLKey = htmlKey
	return nil
}

func (s *Store) SetRunDerived(ctx context.Context, id domain.RunID, status domain.RunStatus, finishedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.ErrRunNotFound
	}
	run.Status = status
	if finishedAt != nil {
		at := *finishedAt
		run.FinishedAt = &at
	} else {
		run.FinishedAt = nil
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (*domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	st := domain.Stats{
		Clients:   len(s.clients),
		Firewalls: len(s.fws),
		Runs:      len(s.runs),
	}
	var latestFinished *domain.AuditRun
	for _, run := range s.runs {
		if !run.RequestedAt.Before(dayStart) {
			st.RunsToday++
		}
		if run.ReportHTMLKey != "" {
			st.ReportsStored++
		}
		if run.FinishedAt != nil {
			if latestFinished == nil || run.FinishedAt.After(*latestFinished.FinishedAt) {
				latestFinished = run
			}
		}
	}

	sum, n := 0, 0
	lastSum, lastN := 0, 0
	for _, j := range s.jobs {
		switch j.State {
		case domain.StateRunning:
			st.JobsRunning++
		case domain.StateQueued:
			st.JobsQueued++
		case domain.StateCompleted:
			if j.Result != nil {
				sum += j.Result.Score
				n++
				if latestFinished != nil && j.RunID == latestFinished.ID {
					lastSum += j.Result.Score
					lastN++
				}
			}
		}
	}
	if n > 0 {
		avg := float64(sum) / float64(n)
		st.AverageScore = &avg
	}
	if lastN > 0 {
		avg := float64(lastSum) / float64(lastN)
		st.LastRunScore = &avg
	}
	return &st, nil
}

func copyJob(j *domain.AuditJob) *domain.AuditJob {
	cp := *j
	if j.Result != nil {
		res := *j.Result
		res.Findings = append([]domain.Finding(nil), j.Result.Findings...)
		cp.Result = &res
	}
	return &cp
}
