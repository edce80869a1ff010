package advisor

import (
	"context"
	"errors"
)

// ErrDisabled means no generator is configured (missing API key).
var ErrDisabled = errors.New("advisor disabled")

// ErrQuotaExceeded maps provider rate/quota responses.
var ErrQuotaExceeded = errors.New("advisor quota exceeded")

// ErrNotFound means no stored advice exists for the run.
var ErrNotFound = errors.New("advice not found")

// Generator produces advice from a rendered findings prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Repository persists generated advice.
type Repository interface {
	Save(ctx context.Context, a *Advice) error
	LatestByRun(ctx context.Context, runID string) (*Advice, error)
}
