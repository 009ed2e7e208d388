package resilience

import (
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// Backoff computes the wait before the next attempt. attempt starts at 1 for the
// delay after the first failure. Implementations may keep state between calls, so
// Retry asks its BackoffFactory for a fresh one on every Execute.
type Backoff interface {
	Delay(attempt int, err error) time.Duration
}

// BackoffFactory creates a Backoff for one retry loop.
type BackoffFactory func() Backoff

// DecorrelatedJitter spreads retries of many callers apart: each delay is drawn
// uniformly from [Base, previous*3] and clamped to Cap.
type DecorrelatedJitter struct {
	Base time.Duration
	Cap  time.Duration

	prev time.Duration
	rng  *rand.Rand
}

var jitterSeq atomic.Uint64

// NewDecorrelatedJitter returns a backoff with its own randomness source.
// A non-positive base means DefaultBaseDelay; use ConstantBackoff(0) for no backoff.
func NewDecorrelatedJitter(base, maxDelay time.Duration) *DecorrelatedJitter {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	seed := uint64(time.Now().UnixNano())
	return &DecorrelatedJitter{
		Base: base,
		Cap:  maxDelay,
		rng:  rand.New(rand.NewPCG(seed, jitterSeq.Add(1))),
	}
}

// DecorrelatedJitterFactory returns a factory for Retry.
func DecorrelatedJitterFactory(base, maxDelay time.Duration) BackoffFactory {
	return func() Backoff { return NewDecorrelatedJitter(base, maxDelay) }
}

// Delay returns the next delay. The first call is seeded with Base.
func (b *DecorrelatedJitter) Delay(attempt int, _ error) time.Duration {
	if b.Base <= 0 {
		b.Base = DefaultBaseDelay
	}
	if b.rng == nil {
		b.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), jitterSeq.Add(1)))
	}
	if attempt <= 1 || b.prev <= 0 {
		b.prev = b.Base
	}
	d := DecorrelatedJitterDelay(b.Base, b.Cap, b.prev, b.rng.Int64N)
	b.prev = d
	return d
}

// DecorrelatedJitterDelay computes min(maxDelay, uniform[base, prev*3]).
// rnd(n) must return a value in [0, n). A maxDelay <= 0 disables clamping.
func DecorrelatedJitterDelay(base, maxDelay, prev time.Duration, rnd func(n int64) int64) time.Duration {
	if base < 0 {
		base = 0
	}
	if prev < base {
		prev = base
	}

	upper := prev * 3
	if upper/3 != prev { // overflow
		upper = math.MaxInt64
	}

	d := base
	if span := int64(upper - base); span > 0 {
		if span < math.MaxInt64 {
			span++
		}
		d = base + time.Duration(rnd(span))
	}
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	return d
}

// ConstantBackoff always waits the same duration.
type ConstantBackoff time.Duration

func (c ConstantBackoff) Delay(int, error) time.Duration { return time.Duration(c) }
