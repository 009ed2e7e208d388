package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/fetchkit/internal/core/domain"
	"github.com/vietddude/fetchkit/internal/dispatch"
	"github.com/vietddude/fetchkit/internal/resilience"
	"github.com/vietddude/fetchkit/internal/telemetry"
)

// recordingSink collects events.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.TaskEvent
}

func (s *recordingSink) OnEvent(_ context.Context, ev domain.TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) all() []domain.TaskEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.TaskEvent(nil), s.events...)
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) NotifyCanExecuteChanged() { c.n.Add(1) }

func TestTask_SucceededEmitsOneEvent(t *testing.T) {
	sink := &recordingSink{}
	notifier := &countingNotifier{}
	tk := New(Options{Name: "ok", Telemetry: sink})
	tk.Configure(func(ctx context.Context, rc *RunContext) error {
		time.Sleep(20 * time.Millisecond)
		rc.ReportProgress(0.5)
		return nil
	}, notifier)

	started, err := tk.Run(context.Background())
	if !started || err != nil {
		t.Fatalf("Run() = %v, %v", started, err)
	}

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Status != domain.TaskStatusSucceeded || ev.Name != "ok" || ev.IsRefresh {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Elapsed < 20*time.Millisecond || ev.Elapsed > time.Second {
		t.Errorf("elapsed %v does not match wall-clock duration", ev.Elapsed)
	}
	if ev.RunID == "" {
		t.Error("expected a run id")
	}
	if tk.Status() != domain.TaskStatusSucceeded {
		t.Errorf("status = %s", tk.Status())
	}
	if tk.Progress() != 1 {
		t.Errorf("progress = %v, want 1", tk.Progress())
	}
	if notifier.n.Load() != 1 {
		t.Errorf("expected notifier to be called once, got %d", notifier.n.Load())
	}
}

func TestTask_FailedReturnsErrorUnchanged(t *testing.T) {
	sink := &recordingSink{}
	boom := resilience.Permanent(errors.New("boom"))
	tk := New(Options{Name: "fail", Telemetry: sink})
	tk.Configure(func(context.Context, *RunContext) error { return boom })

	_, err := tk.Run(context.Background())
	if err != boom {
		t.Fatalf("expected original error, got %v", err)
	}

	events := sink.all()
	if len(events) != 1 || events[0].Status != domain.TaskStatusFailed || events[0].Err != boom {
		t.Fatalf("unexpected events: %+v", events)
	}
	if !errors.Is(tk.Err(), boom) {
		t.Errorf("Err() = %v", tk.Err())
	}
}

func TestTask_CallerCancelIsCanceled(t *testing.T) {
	sink := &recordingSink{}
	tk := New(Options{Telemetry: sink})
	tk.Configure(func(ctx context.Context, _ *RunContext) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := tk.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if ev := sink.all(); len(ev) != 1 || ev[0].Status != domain.TaskStatusCanceled {
		t.Fatalf("unexpected events: %+v", ev)
	}
}

func TestTask_TimeoutIsFailedNotCanceled(t *testing.T) {
	sink := &recordingSink{}
	tk := New(Options{
		Telemetry: sink,
		Policies:  resilience.Pipeline{resilience.NewTimeout(10 * time.Millisecond)},
	})
	tk.Configure(func(ctx context.Context, _ *RunContext) error {
		<-ctx.Done()
		return ctx.Err()
	})

	_, err := tk.Run(context.Background())
	if !resilience.IsDeadlineExceeded(err) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if ev := sink.all(); len(ev) != 1 || ev[0].Status != domain.TaskStatusFailed {
		t.Fatalf("unexpected events: %+v", ev)
	}
}

func TestTask_BackgroundUnwindsWhenFactoryIgnoresContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	t.Run("timeout", func(t *testing.T) {
		sink := &recordingSink{}
		tk := New(Options{
			Telemetry:              sink,
			UseBackgroundExecution: true,
			Policies:               resilience.Pipeline{resilience.NewTimeout(20 * time.Millisecond)},
		})
		tk.Configure(func(context.Context, *RunContext) error {
			<-release
			return nil
		})

		start := time.Now()
		_, err := tk.Run(context.Background())
		if !resilience.IsDeadlineExceeded(err) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Fatalf("run returned after %v", elapsed)
		}
		if ev := sink.all(); len(ev) != 1 || ev[0].Status != domain.TaskStatusFailed {
			t.Fatalf("unexpected events: %+v", ev)
		}
	})

	t.Run("close", func(t *testing.T) {
		sink := &recordingSink{}
		entered := make(chan struct{})
		tk := New(Options{Telemetry: sink, UseBackgroundExecution: true})
		tk.Configure(func(context.Context, *RunContext) error {
			close(entered)
			<-release
			return nil
		})

		tk.Start(context.Background())
		<-entered
		if err := tk.Close(); err != nil {
			t.Fatalf("Close() = %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := tk.Wait(ctx); !errors.Is(err, resilience.ErrCanceled) {
			t.Fatalf("expected ErrCanceled, got %v", err)
		}
		if ev := sink.all(); len(ev) != 1 || ev[0].Status != domain.TaskStatusCanceled {
			t.Fatalf("unexpected events: %+v", ev)
		}
	})
}

func TestTask_RejectsOverlappingRun(t *testing.T) {
	sink := &recordingSink{}
	release := make(chan struct{})
	var calls atomic.Int32

	tk := New(Options{Telemetry: sink})
	tk.Configure(func(ctx context.Context, _ *RunContext) error {
		calls.Add(1)
		<-release
		return nil
	})

	if !tk.Start(context.Background()) {
		t.Fatal("expected first start to succeed")
	}
	if !tk.IsBusy() {
		t.Fatal("expected task to be busy")
	}

	started, err := tk.Refresh(context.Background())
	if started || err != nil {
		t.Fatalf("refresh during run should be rejected, got %v, %v", started, err)
	}

	close(release)
	if err := tk.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}

	started, err = tk.Refresh(context.Background())
	if !started || err != nil {
		t.Fatalf("refresh after completion should run, got %v, %v", started, err)
	}
	events := sink.all()
	if len(events) != 2 || !events[1].IsRefresh {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestTask_FreshRunContextPerInvocation(t *testing.T) {
	var ids []string
	var refreshing []bool
	tk := New(Options{})
	tk.Configure(func(_ context.Context, rc *RunContext) error {
		ids = append(ids, rc.RunID)
		refreshing = append(refreshing, rc.IsRefreshing)
		return nil
	})

	_, _ = tk.Run(context.Background())
	_, _ = tk.Refresh(context.Background())

	if len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("expected two distinct run ids, got %v", ids)
	}
	if refreshing[0] || !refreshing[1] {
		t.Fatalf("unexpected refreshing flags %v", refreshing)
	}
}

func TestTask_NotifiersRunOnDispatcher(t *testing.T) {
	loop := dispatch.NewLoop(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	notified := make(chan struct{}, 1)
	tk := New(Options{Dispatcher: loop})
	tk.Configure(func(context.Context, *RunContext) error {
		return errors.New("fails too")
	}, NotifierFunc(func() { notified <- struct{}{} }))

	_, _ = tk.Run(context.Background())

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("notifier was not dispatched after a failed run")
	}
}

func TestTask_TelemetryFailureDoesNotAbort(t *testing.T) {
	tk := New(Options{Telemetry: telemetry.SinkFunc(func(context.Context, domain.TaskEvent) error {
		panic("telemetry down")
	})})
	tk.Configure(func(context.Context, *RunContext) error { return nil })

	started, err := tk.Run(context.Background())
	if !started || err != nil {
		t.Fatalf("Run() = %v, %v", started, err)
	}
	if tk.Status() != domain.TaskStatusSucceeded {
		t.Fatalf("status = %s", tk.Status())
	}
}

func TestTask_PanicBecomesFailure(t *testing.T) {
	tk := New(Options{UseBackgroundExecution: true})
	tk.Configure(func(context.Context, *RunContext) error { panic("oops") })

	_, err := tk.Run(context.Background())
	if err == nil {
		t.Fatal("expected error from panicking operation")
	}
	if tk.Status() != domain.TaskStatusFailed {
		t.Fatalf("status = %s", tk.Status())
	}
}

type closingPolicy struct{ closed atomic.Bool }

func (p *closingPolicy) Execute(ctx context.Context, op resilience.Operation) error { return op(ctx) }
func (p *closingPolicy) Close() error {
	p.closed.Store(true)
	return nil
}

func TestTask_CloseCancelsInFlight(t *testing.T) {
	sink := &recordingSink{}
	policy := &closingPolicy{}
	entered := make(chan struct{})

	tk := New(Options{Telemetry: sink, Policies: resilience.Pipeline{policy}})
	tk.Configure(func(ctx context.Context, _ *RunContext) error {
		close(entered)
		<-ctx.Done()
		return context.Cause(ctx)
	})

	tk.Start(context.Background())
	<-entered

	if err := tk.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	err := tk.Wait(context.Background())
	if !errors.Is(err, resilience.ErrCanceled) {
		t.Fatalf("expected in-flight run to observe cancellation, got %v", err)
	}
	if ev := sink.all(); len(ev) != 1 || ev[0].Status != domain.TaskStatusCanceled {
		t.Fatalf("unexpected events: %+v", ev)
	}
	if !policy.closed.Load() {
		t.Fatal("expected policy to be released after the run unwound")
	}

	started, err := tk.Run(context.Background())
	if started || !errors.Is(err, ErrClosed) {
		t.Fatalf("run after close: %v, %v", started, err)
	}
}

func TestTask_CloseIdleReleasesPolicies(t *testing.T) {
	policy := &closingPolicy{}
	tk := New(Options{Policies: resilience.Pipeline{policy}})
	if err := tk.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if !policy.closed.Load() {
		t.Fatal("expected policy to be closed")
	}
	_ = tk.Close()
}

func TestTask_NoFactory(t *testing.T) {
	tk := New(Options{})
	started, err := tk.Run(context.Background())
	if started || !errors.Is(err, ErrNoFactory) {
		t.Fatalf("got %v, %v", started, err)
	}
	if tk.IsBusy() {
		t.Fatal("guard must be released")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.TaskStatus
		ok       bool
	}{
		{domain.TaskStatusIdle, domain.TaskStatusRunning, true},
		{domain.TaskStatusIdle, domain.TaskStatusSucceeded, false},
		{domain.TaskStatusRunning, domain.TaskStatusCanceled, true},
		{domain.TaskStatusSucceeded, domain.TaskStatusRunning, true},
		{domain.TaskStatusFailed, domain.TaskStatusSucceeded, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}
