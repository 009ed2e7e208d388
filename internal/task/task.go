// Package task wraps an operation in an observable, reentrancy-guarded lifecycle.
//
// A Task runs its operation through a resilience pipeline, tracks status and
// progress, emits exactly one telemetry event per invocation and then notifies
// dependent notifiers through a dispatcher.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/fetchkit/internal/core/domain"
	"github.com/vietddude/fetchkit/internal/dispatch"
	"github.com/vietddude/fetchkit/internal/metrics"
	"github.com/vietddude/fetchkit/internal/resilience"
	"github.com/vietddude/fetchkit/internal/telemetry"
)

var (
	// ErrNoFactory is returned when a task has no operation to run.
	ErrNoFactory = errors.New("task has no operation factory")

	// ErrClosed is returned when running a closed task.
	ErrClosed = errors.New("task is closed")
)

// Factory is the operation wrapped by a task.
type Factory func(ctx context.Context, rc *RunContext) error

// Notifier is re-evaluated after every completed invocation.
type Notifier interface {
	NotifyCanExecuteChanged()
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func()

func (f NotifierFunc) NotifyCanExecuteChanged() { f() }

// RunContext is created fresh for every invocation and owned by it.
type RunContext struct {
	RunID        string
	IsRefreshing bool

	progress func(float64)
}

// ReportProgress publishes a progress value in [0, 1].
func (rc *RunContext) ReportProgress(p float64) {
	if rc.progress != nil {
		rc.progress(p)
	}
}

// Options configures a Task.
type Options struct {
	Name                   string
	AutoStart              bool
	UseBackgroundExecution bool
	Policies               resilience.Pipeline
	Telemetry              telemetry.Sink
	Dispatcher             dispatch.Dispatcher
	Logger                 *slog.Logger
}

// Task is an observable, single-flight wrapper around one operation.
type Task struct {
	opts  Options
	guard resilience.Guard
	log   *slog.Logger

	mu             sync.Mutex
	factory        Factory
	notifiers      []Notifier
	status         domain.TaskStatus
	progress       float64
	lastEvent      *domain.TaskEvent
	lastErr        error
	running        bool
	cancel         context.CancelCauseFunc
	done           chan struct{}
	closed         bool
	policiesClosed bool
}

type invocation struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	rc     *RunContext
	done   chan struct{}
}

// New creates an idle task. Use Configure to bind its operation.
func New(opts Options) *Task {
	if opts.Name == "" {
		opts.Name = "task"
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.Immediate{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Task{
		opts:   opts,
		log:    opts.Logger.With("task", opts.Name),
		status: domain.TaskStatusIdle,
	}
}

// Configure binds the operation and the notifiers re-evaluated after each completion.
func (t *Task) Configure(factory Factory, notifiers ...Notifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.factory = factory
	t.notifiers = append([]Notifier(nil), notifiers...)
}

// Name returns the telemetry label.
func (t *Task) Name() string { return t.opts.Name }

// Run executes a new invocation and waits for it. started is false when another
// invocation is in flight; the call then has no side effects.
func (t *Task) Run(ctx context.Context) (started bool, err error) {
	return t.runSync(ctx, false)
}

// Refresh is Run with IsRefreshing set. It never interleaves with an ongoing run.
func (t *Task) Refresh(ctx context.Context) (started bool, err error) {
	return t.runSync(ctx, true)
}

// Start begins a new invocation in the background. It reports whether the
// invocation was started; use Wait for its result.
func (t *Task) Start(ctx context.Context) bool {
	return t.runAsync(ctx, false)
}

// StartRefresh is Start with IsRefreshing set.
func (t *Task) StartRefresh(ctx context.Context) bool {
	return t.runAsync(ctx, true)
}

// Wait blocks until the current invocation finishes and returns its error.
// Without an invocation in flight it returns the error of the last one.
func (t *Task) Wait(ctx context.Context) error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return t.Err()
}

// Cancel requests cancellation of the in-flight invocation, if any.
func (t *Task) Cancel() {
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel(resilience.ErrCanceled)
	}
}

// Close cancels the in-flight invocation and releases closable policies. When an
// invocation is still running, the policies are released once it has unwound.
func (t *Task) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel, running := t.cancel, t.running
	if !running {
		t.policiesClosed = true
	}
	t.mu.Unlock()

	if cancel != nil {
		cancel(resilience.ErrCanceled)
	}
	if running {
		return nil
	}
	return t.opts.Policies.Close()
}

// Status returns the current lifecycle status.
func (t *Task) Status() domain.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Progress returns the last reported progress of the current or last invocation.
func (t *Task) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// Err returns the failure of the last completed invocation.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// LastEvent returns the event of the last completed invocation.
func (t *Task) LastEvent() (domain.TaskEvent, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastEvent == nil {
		return domain.TaskEvent{}, false
	}
	return *t.lastEvent, true
}

// IsBusy reports whether an invocation is in flight.
func (t *Task) IsBusy() bool {
	return t.guard.IsBusy()
}

func (t *Task) runSync(ctx context.Context, refreshing bool) (bool, error) {
	inv, factory, err := t.begin(ctx, refreshing)
	if inv == nil {
		return false, err
	}
	return true, t.invoke(inv, factory)
}

func (t *Task) runAsync(ctx context.Context, refreshing bool) bool {
	inv, factory, err := t.begin(ctx, refreshing)
	if inv == nil {
		if err != nil {
			t.log.Warn("Task not started", "error", err)
		}
		return false
	}
	go func() {
		_ = t.invoke(inv, factory)
	}()
	return true
}

// begin acquires the guard and moves the task to Running.
func (t *Task) begin(ctx context.Context, refreshing bool) (*invocation, Factory, error) {
	if !t.guard.TryAcquire() {
		metrics.TaskRejectedTotal.WithLabelValues(t.opts.Name).Inc()
		t.log.Debug("Task busy, run rejected", "refresh", refreshing)
		return nil, nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		t.guard.Release()
		return nil, nil, ErrClosed
	}
	if t.factory == nil {
		t.guard.Release()
		return nil, nil, ErrNoFactory
	}

	invCtx, cancel := context.WithCancelCause(ctx)
	inv := &invocation{
		ctx:    invCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		rc: &RunContext{
			RunID:        uuid.New().String(),
			IsRefreshing: refreshing,
		},
	}
	inv.rc.progress = t.setProgress

	t.setStatusLocked(domain.TaskStatusRunning)
	t.progress = 0
	t.running = true
	t.cancel = cancel
	t.done = inv.done

	return inv, t.factory, nil
}

// invoke runs the pipeline, records the outcome and notifies dependents.
func (t *Task) invoke(inv *invocation, factory Factory) error {
	op := func(ctx context.Context) error {
		return callFactory(ctx, inv.rc, factory)
	}
	if t.opts.UseBackgroundExecution {
		// The invocation unwinds on ctx even when the factory ignores it.
		foreground := op
		op = func(ctx context.Context) error {
			result := make(chan error, 1)
			go func() { result <- foreground(ctx) }()
			select {
			case err := <-result:
				return err
			case <-ctx.Done():
				return context.Cause(ctx)
			}
		}
	}

	startedAt := time.Now()
	err := t.opts.Policies.Execute(inv.ctx, op)
	elapsed := time.Since(startedAt)

	status := domain.TaskStatusSucceeded
	switch {
	case err == nil:
	case inv.ctx.Err() != nil && !resilience.IsDeadlineExceeded(err):
		status = domain.TaskStatusCanceled
	default:
		status = domain.TaskStatusFailed
	}

	ev := domain.TaskEvent{
		RunID:     inv.rc.RunID,
		Name:      t.opts.Name,
		Status:    status,
		StartedAt: startedAt,
		Elapsed:   elapsed,
		Err:       err,
		IsRefresh: inv.rc.IsRefreshing,
	}

	t.mu.Lock()
	t.setStatusLocked(status)
	if status == domain.TaskStatusSucceeded {
		t.progress = 1
	}
	t.lastErr = err
	t.lastEvent = &ev
	t.running = false
	t.cancel = nil
	closePolicies := t.closed && !t.policiesClosed
	if closePolicies {
		t.policiesClosed = true
	}
	notifiers := t.notifiers
	t.mu.Unlock()

	inv.cancel(nil)
	telemetry.Emit(context.WithoutCancel(inv.ctx), t.log, t.opts.Telemetry, ev)

	if closePolicies {
		if cerr := t.opts.Policies.Close(); cerr != nil {
			t.log.Warn("Failed to release task policies", "error", cerr)
		}
	}

	t.guard.Release()
	close(inv.done)

	for _, n := range notifiers {
		t.opts.Dispatcher.Post(n.NotifyCanExecuteChanged)
	}

	return err
}

func (t *Task) setProgress(p float64) {
	p = min(max(p, 0), 1)
	t.mu.Lock()
	t.progress = p
	t.mu.Unlock()
}

func (t *Task) setStatusLocked(next domain.TaskStatus) {
	if !CanTransition(t.status, next) {
		t.log.Warn("Unexpected task status transition", "from", t.status, "to", next,
			"error", ErrInvalidTransition)
	}
	t.status = next
}

func callFactory(ctx context.Context, rc *RunContext, factory Factory) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task operation panicked: %v", r)
		}
	}()
	return factory(ctx, rc)
}
