// Package telemetry receives task lifecycle events.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/vietddude/fetchkit/internal/core/domain"
	"github.com/vietddude/fetchkit/internal/metrics"
)

// Sink consumes task events.
type Sink interface {
	OnEvent(ctx context.Context, ev domain.TaskEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev domain.TaskEvent) error

func (f SinkFunc) OnEvent(ctx context.Context, ev domain.TaskEvent) error { return f(ctx, ev) }

// Emit delivers ev to sink. Errors and panics inside the sink are logged and
// swallowed so telemetry can never abort the caller.
func Emit(ctx context.Context, logger *slog.Logger, sink Sink, ev domain.TaskEvent) {
	if sink == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("telemetry sink panicked: %v", r)
			}
		}()
		return sink.OnEvent(ctx, ev)
	}()
	if err != nil {
		logger.Warn("Telemetry failure", "task", ev.Name, "run_id", ev.RunID, "error", err)
	}
}

// Multi fans an event out to every sink. All sinks are called even if some fail.
type Multi []Sink

func (m Multi) OnEvent(ctx context.Context, ev domain.TaskEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.OnEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes one structured log line per event.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) OnEvent(ctx context.Context, ev domain.TaskEvent) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{
		"task", ev.Name,
		"run_id", ev.RunID,
		"status", ev.Status,
		"elapsed", ev.Elapsed,
		"refresh", ev.IsRefresh,
	}
	switch ev.Status {
	case domain.TaskStatusFailed:
		logger.ErrorContext(ctx, "Task failed", append(attrs, "error", ev.Err)...)
	case domain.TaskStatusCanceled:
		logger.InfoContext(ctx, "Task canceled", attrs...)
	default:
		logger.DebugContext(ctx, "Task completed", attrs...)
	}
	return nil
}

// PrometheusSink records run counts and durations.
type PrometheusSink struct{}

func (PrometheusSink) OnEvent(_ context.Context, ev domain.TaskEvent) error {
	metrics.TaskRunsTotal.WithLabelValues(ev.Name, string(ev.Status), strconv.FormatBool(ev.IsRefresh)).Inc()
	metrics.TaskDuration.WithLabelValues(ev.Name, string(ev.Status)).Observe(ev.Elapsed.Seconds())
	return nil
}
