package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrDeadlineExceeded is the cause of a Timeout policy expiry. It is distinct from
	// context.Canceled so callers can tell "I gave up" from "it gave up on me".
	ErrDeadlineExceeded = errors.New("policy deadline exceeded")

	// ErrCanceled is the cancellation cause used when a task is canceled by its owner.
	ErrCanceled = errors.New("canceled by caller")
)

// TransientError marks a failure as retryable.
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so IsTransient reports true.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PermanentError marks a failure as fatal (auth, validation).
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so IsTransient reports false.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// DeadlineExceededError is returned by Timeout when its own deadline, not the caller's, fired.
type DeadlineExceededError struct {
	Timeout time.Duration
	Err     error
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("deadline of %s exceeded: %v", e.Timeout, e.Err)
}

func (e *DeadlineExceededError) Unwrap() error { return e.Err }

func (e *DeadlineExceededError) Is(target error) bool { return target == ErrDeadlineExceeded }

// IsDeadlineExceeded reports whether err came from a Timeout policy expiry.
func IsDeadlineExceeded(err error) bool {
	return errors.Is(err, ErrDeadlineExceeded)
}

// statusCoder is implemented by transport errors carrying an HTTP-like status code.
type statusCoder interface {
	HTTPStatus() int
}

// IsTransient reports whether err is worth retrying.
// Network failures, timeouts and 5xx/408/429 responses are transient. Auth and validation
// failures, other 4xx responses and explicit cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// Explicit markers win.
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var trans *TransientError
	if errors.As(err, &trans) {
		return true
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCanceled) {
		return false
	}
	if errors.Is(err, ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return isTransientStatus(sc.HTTPStatus())
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return classifyMessage(err.Error())
}

func isTransientStatus(code int) bool {
	switch {
	case code == 408, code == 429:
		return true
	case code >= 500 && code <= 599:
		// 501 Not Implemented will not change on retry.
		return code != 501
	default:
		return false
	}
}

// classifyMessage is the last resort for errors that lost their type on the way up.
func classifyMessage(s string) bool {
	s = strings.ToLower(s)

	for _, fatal := range []string{"unauthorized", "forbidden", "invalid", "malformed", "bad request"} {
		if strings.Contains(s, fatal) {
			return false
		}
	}

	for _, retry := range []string{
		"connection reset", "connection refused", "broken pipe", "timeout", "timed out",
		"temporarily unavailable", "service unavailable", "no such host", "unexpected eof",
	} {
		if strings.Contains(s, retry) {
			return true
		}
	}
	return false
}
