// Package resilience implements composable resilience policies (timeout, retry),
// the transient-error classifier, decorrelated-jitter backoff and a reentrancy guard.
//
// Policies are stored as an ordered list and folded around the operation at call time.
// The first policy in the list is the outermost wrapper:
//
//	Pipeline{p1, p2, p3}.Execute(ctx, op) == p1(p2(p3(op)))
//
// so Pipeline{NewTimeout(d), NewRetry()} applies one deadline to all retry attempts,
// while Pipeline{NewRetry(), NewTimeout(d)} gives every attempt its own deadline.
package resilience

import (
	"context"
	"errors"
	"io"
)

// Operation is the unit of work a policy wraps. It must honor ctx.
type Operation func(ctx context.Context) error

// Policy wraps an operation with resilience behavior.
// A policy that holds resources may also implement io.Closer.
type Policy interface {
	Execute(ctx context.Context, op Operation) error
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, op Operation) error

func (f PolicyFunc) Execute(ctx context.Context, op Operation) error { return f(ctx, op) }

// Pipeline is an ordered list of policies, outermost first.
type Pipeline []Policy

// Execute runs op wrapped by every policy of the pipeline.
func (p Pipeline) Execute(ctx context.Context, op Operation) error {
	wrapped := op
	for i := len(p) - 1; i >= 0; i-- {
		policy, inner := p[i], wrapped
		if policy == nil {
			continue
		}
		wrapped = func(ctx context.Context) error {
			return policy.Execute(ctx, inner)
		}
	}
	return wrapped(ctx)
}

// Close releases every policy implementing io.Closer.
func (p Pipeline) Close() error {
	var errs []error
	for _, policy := range p {
		if c, ok := policy.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Do runs fn under the pipeline and returns its value.
func Do[T any](ctx context.Context, p Pipeline, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
