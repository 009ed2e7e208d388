// Package bus is an in-process publish/subscribe bus. Subscribers hold an explicit
// Subscription handle and close it to stop receiving messages.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Handler receives a published message.
type Handler[T any] func(ctx context.Context, msg T)

// Bus delivers messages of type T to its subscribers.
type Bus[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]Handler[T]
	order  []uint64
	logger *slog.Logger
}

// New creates an empty bus.
func New[T any](logger *slog.Logger) *Bus[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus[T]{
		subs:   make(map[uint64]Handler[T]),
		logger: logger,
	}
}

// Subscription is owned by the subscriber. Close unregisters it.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Close unregisters the handler. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe registers handler until the returned subscription is closed.
func (b *Bus[T]) Subscribe(handler Handler[T]) *Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = handler
	b.order = append(b.order, id)
	b.mu.Unlock()

	return &Subscription{cancel: func() { b.unsubscribe(id) }}
}

func (b *Bus[T]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Send delivers msg synchronously to every current subscriber in registration order.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus[T]) Send(ctx context.Context, msg T) {
	b.mu.RLock()
	handlers := make([]Handler[T], 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(ctx, h, msg)
	}
}

// Len returns the number of active subscriptions.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus[T]) deliver(ctx context.Context, h Handler[T], msg T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Bus handler panicked", "panic", r)
		}
	}()
	h(ctx, msg)
}
