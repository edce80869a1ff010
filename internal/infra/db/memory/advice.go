package memory

import (
	"context"
	"sync"

	"github.com/williamsouzadelima/strati-audit/internal/domain/advisor"
)

// AdviceRepo keeps the latest advice per run in memory.
type AdviceRepo struct {
	mu    sync.RWMutex
	byRun map[string]*advisor.Advice
}

func NewAdviceRepo() *AdviceRepo {
	return &AdviceRepo{byRun: make(map[string]*advisor.Advice)}
}

func (r *AdviceRepo) Save(ctx context.Context, a *advisor.Advice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	cp.Recommendations = append([]advisor.Recommendation(nil), a.Recommendations...)
	r.byRun[cp.RunID] = &cp
	return nil
}

func (r *AdviceRepo) LatestByRun(ctx context.Context, runID string) (*advisor.Advice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byRun[runID]
	if !ok {
		return nil, advisor.ErrNotFound
	}
	cp := *a
	cp.Recommendations = append([]advisor.Recommendation(nil), a.Recommendations...)
	return &cp, nil
}
