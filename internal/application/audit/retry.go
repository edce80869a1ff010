package audit

import (
	"context"
	"time"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

// AttemptFunc is one executor attempt against a target.
type AttemptFunc func(ctx context.Context) (*domain.RawOutput, error)

// Retrier re-runs an attempt on transient failures only, with a linearly
// growing, capped delay between attempts. Non-transient failures return
// immediately; exhaustion returns the last error observed.
type Retrier struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delay is the base wait after the first failure; attempt n waits
	// n*Delay, capped at Cap.
	Delay time.Duration
	Cap   time.Duration
	// Sleep is injectable for tests; nil means a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs fn until success, a non-transient failure, exhaustion, or
// context cancellation. It returns the output, the number of attempts
// actually made, and the final error.
func (r *Retrier) Do(ctx context.Context, fn AttemptFunc) (*domain.RawOutput, int, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = ctxSleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err
		if !domain.KindOf(err).Transient() {
			return nil, attempt, err
		}
		if attempt == attempts {
			return nil, attempt, lastErr
		}
		if serr := sleep(ctx, r.delayFor(attempt)); serr != nil {
			// cancelled while waiting; surface the transient error,
			// the caller inspects ctx for the cancellation
			return nil, attempt, lastErr
		}
	}
	return nil, attempts, lastErr
}

func (r *Retrier) delayFor(attempt int) time.Duration {
	d := r.Delay * time.Duration(attempt)
	if r.Cap > 0 && d > r.Cap {
		d = r.Cap
	}
	if d < 0 {
		d = 0
	}
	return d
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		// never spin: yield at least one timer tick
		d = time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
