package resilience

import (
	"context"
	"time"
)

// Timeout bounds the wrapped operation with its own deadline.
type Timeout struct {
	Duration time.Duration
}

// NewTimeout creates a Timeout policy. A non-positive duration disables the deadline.
func NewTimeout(d time.Duration) *Timeout {
	return &Timeout{Duration: d}
}

// Execute runs op under a context that is done when either the caller's ctx is done or
// the timeout elapses. Only an expiry of the timeout itself is reported as
// DeadlineExceededError; caller cancellation is returned untouched.
func (t *Timeout) Execute(ctx context.Context, op Operation) error {
	if t.Duration <= 0 {
		return op(ctx)
	}

	tctx, cancel := context.WithTimeoutCause(ctx, t.Duration, ErrDeadlineExceeded)
	defer cancel()

	err := op(tctx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && tctx.Err() != nil && context.Cause(tctx) == ErrDeadlineExceeded {
		return &DeadlineExceededError{Timeout: t.Duration, Err: err}
	}
	return err
}
