package task

import (
	"context"
	"log/slog"

	"github.com/vietddude/fetchkit/internal/dispatch"
	"github.com/vietddude/fetchkit/internal/resilience"
	"github.com/vietddude/fetchkit/internal/telemetry"
)

// Builder assembles a Task fluently.
//
//	t, err := task.NewBuilder().
//		Named("avatar").
//		WithPolicy(resilience.NewTimeout(10 * time.Second)).
//		WithPolicy(resilience.NewRetry()).
//		Run(load).
//		Build(ctx, saveButton)
type Builder struct {
	opts    Options
	factory Factory
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Named(name string) *Builder {
	b.opts.Name = name
	return b
}

// AutoStart makes Build start the first invocation before returning.
func (b *Builder) AutoStart() *Builder {
	b.opts.AutoStart = true
	return b
}

// UseBackgroundExecution runs the operation on its own goroutine.
func (b *Builder) UseBackgroundExecution() *Builder {
	b.opts.UseBackgroundExecution = true
	return b
}

// WithPolicy appends policies. The first policy added is the outermost.
func (b *Builder) WithPolicy(policies ...resilience.Policy) *Builder {
	b.opts.Policies = append(b.opts.Policies, policies...)
	return b
}

func (b *Builder) WithTelemetry(sink telemetry.Sink) *Builder {
	b.opts.Telemetry = sink
	return b
}

func (b *Builder) WithDispatcher(d dispatch.Dispatcher) *Builder {
	b.opts.Dispatcher = d
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.opts.Logger = l
	return b
}

// Run sets the operation factory.
func (b *Builder) Run(factory Factory) *Builder {
	b.factory = factory
	return b
}

// Build creates the task. With AutoStart the first invocation is started under ctx,
// so ctx should live as long as that invocation is meant to.
func (b *Builder) Build(ctx context.Context, notifiers ...Notifier) (*Task, error) {
	if b.factory == nil {
		return nil, ErrNoFactory
	}

	opts := b.opts
	opts.Policies = append(resilience.Pipeline(nil), b.opts.Policies...)

	t := New(opts)
	t.Configure(b.factory, notifiers...)

	if opts.AutoStart {
		t.Start(ctx)
	}
	return t, nil
}
