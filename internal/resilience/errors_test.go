package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("http %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expect bool
	}{
		{"nil", nil, false},
		{"connection reset", syscall.ECONNRESET, true},
		{"wrapped connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"dns failure", &net.DNSError{Err: "no such host", Name: "example.invalid"}, true},
		{"op error", &net.OpError{Op: "read", Err: errors.New("boom")}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"500", statusErr(500), true},
		{"503 wrapped", fmt.Errorf("fetch: %w", statusErr(503)), true},
		{"501", statusErr(501), false},
		{"408 request timeout", statusErr(408), true},
		{"429", statusErr(429), true},
		{"401 unauthorized", statusErr(401), false},
		{"403 forbidden", statusErr(403), false},
		{"400 malformed", statusErr(400), false},
		{"404", statusErr(404), false},
		{"caller cancel", context.Canceled, false},
		{"task cancel", fmt.Errorf("run: %w", ErrCanceled), false},
		{"policy deadline", &DeadlineExceededError{Err: context.DeadlineExceeded}, true},
		{"context deadline", context.DeadlineExceeded, true},
		{"marked transient", Transient(errors.New("whatever")), true},
		{"marked permanent over status", Permanent(statusErr(503)), false},
		{"message timeout", errors.New("i/o timeout"), true},
		{"message unauthorized", errors.New("token unauthorized"), false},
		{"unknown", errors.New("something odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.expect {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.expect)
			}
		})
	}
}

func TestDeadlineExceededError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &DeadlineExceededError{Err: context.DeadlineExceeded})
	if !IsDeadlineExceeded(err) {
		t.Fatal("expected ErrDeadlineExceeded match")
	}
	if errors.Is(err, context.Canceled) {
		t.Fatal("deadline must not look like caller cancellation")
	}
	if IsDeadlineExceeded(context.Canceled) {
		t.Fatal("caller cancellation must not look like a deadline")
	}
}
