// Package invalidation removes cache entries and broadcasts what was invalidated.
package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/fetchkit/internal/core/domain"
	"github.com/vietddude/fetchkit/internal/infra/bus"
	"github.com/vietddude/fetchkit/internal/metrics"
)

// Remover is the part of the content cache the service mutates.
type Remover interface {
	Remove(ctx context.Context, uri string) (bool, error)
	RemoveByParentID(ctx context.Context, parentID string) (int, error)
}

// Publisher broadcasts invalidation messages.
type Publisher interface {
	Publish(ctx context.Context, msg domain.CacheInvalidated) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, msg domain.CacheInvalidated) error

func (f PublisherFunc) Publish(ctx context.Context, msg domain.CacheInvalidated) error { return f(ctx, msg) }

// Local publishes onto an in-process bus.
func Local(b *bus.Bus[domain.CacheInvalidated]) Publisher {
	return PublisherFunc(func(ctx context.Context, msg domain.CacheInvalidated) error {
		b.Send(ctx, msg)
		return nil
	})
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, msg domain.CacheInvalidated) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Service mutates the cache, then publishes exactly one message per call.
type Service struct {
	cache     Remover
	publisher Publisher
	logger    *slog.Logger
}

// NewService creates an invalidation service.
func NewService(cache Remover, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:     cache,
		publisher: publisher,
		logger:    logger.With("component", "invalidation"),
	}
}

// InvalidateByParentID removes every entry grouped under parentID and publishes
// {scope, parentID, no keys}. The message is published even when nothing was removed
// and even when the removal failed; the removal error is returned afterwards.
func (s *Service) InvalidateByParentID(ctx context.Context, parentID, scope string) (int, error) {
	removed, removeErr := s.cache.RemoveByParentID(ctx, parentID)

	pid := parentID
	pubErr := s.publish(ctx, domain.CacheInvalidated{Scope: scope, ParentID: &pid}, "parent")

	s.logger.Info("Invalidated by parent", "scope", scope, "parent_id", parentID, "removed", removed)
	return removed, errors.Join(removeErr, pubErr)
}

// InvalidateByKeys removes each key and publishes {scope, no parent, keys} with the full
// requested set. Only keys that were actually present are counted.
func (s *Service) InvalidateByKeys(ctx context.Context, keys []string, scope string) (int, error) {
	removed := 0
	var errs []error
	for _, key := range keys {
		ok, err := s.cache.Remove(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}

	published := append([]string{}, keys...)
	errs = append(errs, s.publish(ctx, domain.CacheInvalidated{Scope: scope, Keys: published}, "keys"))

	s.logger.Info("Invalidated by keys", "scope", scope, "requested", len(keys), "removed", removed)
	return removed, errors.Join(errs...)
}

func (s *Service) publish(ctx context.Context, msg domain.CacheInvalidated, kind string) error {
	metrics.InvalidationsTotal.WithLabelValues(msg.Scope, kind).Inc()
	if s.publisher == nil {
		return nil
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}
