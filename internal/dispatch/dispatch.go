// Package dispatch marshals callbacks onto an execution context.
//
// Immediate runs callbacks on the calling goroutine. Loop owns a single goroutine and
// runs callbacks one at a time in FIFO order, so state touched only from posted
// callbacks needs no further locking.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher runs actions on its execution context.
type Dispatcher interface {
	Post(action func())
}

// Immediate runs posted actions synchronously.
type Immediate struct{}

func (Immediate) Post(action func()) { action() }

// Loop runs posted actions serially on one goroutine.
type Loop struct {
	queue  chan func()
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewLoop creates a loop with the given queue capacity. Call Run to start processing.
func NewLoop(capacity int, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		queue:  make(chan func(), max(capacity, 1)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post enqueues action. It blocks while the queue is full and drops the action once
// the loop is closed.
func (l *Loop) Post(action func()) {
	select {
	case <-l.stop:
		l.logger.Warn("Dispatcher closed, dropping action")
		return
	default:
	}

	select {
	case l.queue <- action:
	case <-l.stop:
		l.logger.Warn("Dispatcher closed, dropping action")
	}
}

// Run processes actions until ctx is done or Close is called. Queued actions are
// drained before Run returns.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			l.Close()
			l.drain()
			return
		case <-l.stop:
			l.drain()
			return
		case action := <-l.queue:
			l.invoke(action)
		}
	}
}

// Close stops the loop. Safe to call multiple times.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.stop) })
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) drain() {
	for {
		select {
		case action := <-l.queue:
			l.invoke(action)
		default:
			return
		}
	}
}

func (l *Loop) invoke(action func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Dispatched action panicked", "panic", r)
		}
	}()
	action()
}
