package syncer

import (
	"context"
	"time"
)

// RetryPolicy controls the wait between failed attempts within a pass.
// Isolated so the fixed delay can be swapped for exponential backoff
// without touching the processor's control flow.
type RetryPolicy interface {
	// Wait blocks before the pass continues past a failed operation.
	// attempt is the operation's retry count after the failure.
	Wait(ctx context.Context, attempt int) error
}

// FixedDelay waits the same interval regardless of attempt.
type FixedDelay struct {
	Delay time.Duration
}

// Wait sleeps for the fixed delay or until the context ends.
func (p FixedDelay) Wait(ctx context.Context, attempt int) error {
	return sleep(ctx, p.Delay)
}

// ExponentialBackoff doubles the wait per attempt up to Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Wait sleeps for Initial<<(attempt-1), capped at Max.
func (p ExponentialBackoff) Wait(ctx context.Context, attempt int) error {
	delay := p.Initial
	for i := 1; i < attempt && delay < p.Max; i++ {
		delay *= 2
	}
	if delay > p.Max {
		delay = p.Max
	}
	return sleep(ctx, delay)
}

// NoDelay skips waiting entirely. Used in tests.
type NoDelay struct{}

// Wait returns immediately.
func (NoDelay) Wait(ctx context.Context, attempt int) error {
	return ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
