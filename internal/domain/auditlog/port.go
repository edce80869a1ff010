package auditlog

import "context"

// Recorder persists trail events. Append failures must never fail the
// operation being recorded; callers log and move on.
type Recorder interface {
	Append(ctx context.Context, e *Event) error
	ListRecent(ctx context.Context, limit int) ([]*Event, error)
	ListByRun(ctx context.Context, runID string, limit int) ([]*Event, error)
}
