package resilience

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: DefaultMaxAttempts,
	BaseDelay:   DefaultBaseDelay,
	MaxDelay:    DefaultMaxDelay,
}

// Retry re-runs a failing operation while the failure is transient and the attempt
// budget is not spent.
type Retry struct {
	MaxAttempts int
	Backoff     BackoffFactory
	ShouldRetry func(err error) bool
	// OnRetry is called before waiting for the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
	Logger  *slog.Logger
}

// RetryOption configures a Retry policy.
type RetryOption func(*Retry)

func WithMaxAttempts(n int) RetryOption {
	return func(r *Retry) { r.MaxAttempts = n }
}

func WithBackoff(f BackoffFactory) RetryOption {
	return func(r *Retry) { r.Backoff = f }
}

func WithShouldRetry(fn func(error) bool) RetryOption {
	return func(r *Retry) { r.ShouldRetry = fn }
}

func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) RetryOption {
	return func(r *Retry) { r.OnRetry = fn }
}

func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(r *Retry) { r.Logger = l }
}

// NewRetry creates a Retry policy: 3 attempts, decorrelated jitter from 200ms, IsTransient gating.
func NewRetry(opts ...RetryOption) *Retry {
	r := &Retry{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DecorrelatedJitterFactory(DefaultBaseDelay, DefaultMaxDelay),
		ShouldRetry: IsTransient,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRetryFromConfig creates a Retry policy from configuration, filling zero fields with defaults.
func NewRetryFromConfig(cfg RetryConfig, opts ...RetryOption) *Retry {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	base := []RetryOption{
		WithMaxAttempts(cfg.MaxAttempts),
		WithBackoff(DecorrelatedJitterFactory(cfg.BaseDelay, cfg.MaxDelay)),
	}
	return NewRetry(append(base, opts...)...)
}

// Execute runs op until it succeeds, fails permanently, or the attempt budget is spent.
// The last failure is returned unchanged.
func (r *Retry) Execute(ctx context.Context, op Operation) error {
	maxAttempts := max(r.MaxAttempts, 1)
	shouldRetry := r.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = IsTransient
	}
	var backoff Backoff = ConstantBackoff(0)
	if r.Backoff != nil {
		backoff = r.Backoff()
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		// Caller gave up: never retry past its signal.
		if ctx.Err() != nil {
			return err
		}
		if !shouldRetry(err) || attempt >= maxAttempts {
			return err
		}

		delay := backoff.Delay(attempt, err)
		if r.OnRetry != nil {
			r.OnRetry(attempt, err, delay)
		}
		if r.Logger != nil {
			r.Logger.Debug("Retrying operation", "attempt", attempt, "delay", delay, "error", err)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
