package memory

import (
	"context"
	"sync"
	"time"

	"github.com/williamsouzadelima/strati-audit/internal/domain/auditlog"
)

// Trail is the in-memory audit trail recorder.
type Trail struct {
	mu     sync.RWMutex
	events []*auditlog.Event
	nextID int64
}

func NewTrail() *Trail {
	return &Trail{nextID: 1}
}

func (t *Trail) Append(ctx context.Context, e *auditlog.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *e
	cp.ID = t.nextID
	t.nextID++
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	t.events = append(t.events, &cp)
	return nil
}

func (t *Trail) ListRecent(ctx context.Context, limit int) ([]*auditlog.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*auditlog.Event, 0, limit)
	for i := len(t.events) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *t.events[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (t *Trail) ListByRun(ctx context.Context, runID string, limit int) ([]*auditlog.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*auditlog.Event
	for _, e := range t.events {
		if e.RunID != runID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
