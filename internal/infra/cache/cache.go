// Package cache is the content cache: a Store fronted by a Downloader.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vietddude/fetchkit/internal/infra/storage"
	"github.com/vietddude/fetchkit/internal/metrics"
)

// Downloader fetches resource bytes from the network.
type Downloader interface {
	Download(ctx context.Context, uri string) (data []byte, contentType string, err error)
}

// DownloaderFunc adapts a function to Downloader.
type DownloaderFunc func(ctx context.Context, uri string) ([]byte, string, error)

func (f DownloaderFunc) Download(ctx context.Context, uri string) ([]byte, string, error) {
	return f(ctx, uri)
}

// Entry is what a cache lookup yields.
type Entry struct {
	Data        []byte
	ContentType string
}

// DefaultDownloadTimeout bounds a shared download when no timeout is configured.
const DefaultDownloadTimeout = 30 * time.Second

// Cache stores downloaded resources keyed by URI.
type Cache struct {
	store           storage.Store
	downloader      Downloader
	backend         string
	logger          *slog.Logger
	group           singleflight.Group
	downloadTimeout time.Duration
}

// Option configures a Cache.
type Option func(*Cache)

// WithDownloadTimeout bounds each shared download. Non-positive values keep the default.
func WithDownloadTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.downloadTimeout = d
		}
	}
}

// New creates a cache. backend labels metrics.
func New(store storage.Store, downloader Downloader, backend string, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		store:           store,
		downloader:      downloader,
		backend:         backend,
		logger:          logger.With("component", "cache", "backend", backend),
		downloadTimeout: DefaultDownloadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TryGet returns the cached entry without touching the network.
// Store errors are logged and reported as a miss.
func (c *Cache) TryGet(ctx context.Context, uri string) (*Entry, bool) {
	e, err := c.store.Get(ctx, uri)
	if err != nil {
		c.logger.Warn("Cache read failed, treating as miss", "uri", uri, "error", err)
		metrics.CacheLookupsTotal.WithLabelValues(c.backend, "error").Inc()
		return nil, false
	}
	if e == nil {
		metrics.CacheLookupsTotal.WithLabelValues(c.backend, "miss").Inc()
		return nil, false
	}
	metrics.CacheLookupsTotal.WithLabelValues(c.backend, "hit").Inc()
	return &Entry{Data: e.Data, ContentType: e.ContentType}, true
}

// GetOrFetch returns the cached entry or downloads and stores it. Concurrent misses for
// the same URI share one download. A failed store write is logged; the data is still returned.
//
// The shared download runs detached from every caller, bounded by the download timeout, so
// one caller leaving never fails the others. Each caller still returns as soon as its own
// ctx is done, with context.Cause(ctx).
func (c *Cache) GetOrFetch(ctx context.Context, uri, parentID string, permanent bool) (*Entry, error) {
	if e, ok := c.TryGet(ctx, uri); ok {
		return e, nil
	}

	ch := c.group.DoChan(uri, func() (any, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.downloadTimeout)
		defer cancel()
		return c.download(dctx, uri, parentID, permanent)
	})

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("Shared in-flight download", "uri", uri)
		}
		return res.Val.(*Entry), nil
	}
}

func (c *Cache) download(ctx context.Context, uri, parentID string, permanent bool) (*Entry, error) {
	data, contentType, err := c.downloader.Download(ctx, uri)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}

	entry := &storage.Entry{
		URI:         uri,
		ParentID:    parentID,
		Permanent:   permanent,
		ContentType: contentType,
		Data:        data,
		StoredAt:    time.Now(),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		c.logger.Warn("Cache write failed", "uri", uri, "error", err)
	}
	return &Entry{Data: data, ContentType: contentType}, nil
}

// Remove deletes one entry and reports whether it existed.
func (c *Cache) Remove(ctx context.Context, uri string) (bool, error) {
	removed, err := c.store.Delete(ctx, uri)
	if err != nil {
		return false, fmt.Errorf("remove %q: %w", uri, err)
	}
	if removed {
		metrics.CacheRemovedTotal.WithLabelValues(c.backend, "key").Inc()
	}
	return removed, nil
}

// RemoveByParentID deletes every entry of the parent and returns how many were removed.
func (c *Cache) RemoveByParentID(ctx context.Context, parentID string) (int, error) {
	if parentID == "" {
		return 0, errors.New("remove by parent: empty parent id")
	}
	n, err := c.store.DeleteByParent(ctx, parentID)
	if n > 0 {
		metrics.CacheRemovedTotal.WithLabelValues(c.backend, "parent").Add(float64(n))
	}
	if err != nil {
		return n, fmt.Errorf("remove by parent %q: %w", parentID, err)
	}
	return n, nil
}

// Prune removes non-permanent entries stored before the given time.
func (c *Cache) Prune(ctx context.Context, before time.Time) (int, error) {
	n, err := c.store.Prune(ctx, before)
	if n > 0 {
		metrics.CacheRemovedTotal.WithLabelValues(c.backend, "expired").Add(float64(n))
	}
	return n, err
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
