// Package fetch implements cache-first resource retrieval.
package fetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/fetchkit/internal/core/domain"
	"github.com/vietddude/fetchkit/internal/infra/cache"
	"github.com/vietddude/fetchkit/internal/metrics"
	"github.com/vietddude/fetchkit/internal/resilience"
)

// DefaultTimeout bounds a network fetch across all of its attempts.
const DefaultTimeout = 30 * time.Second

// ContentCache is the subset of the content cache the fetcher uses.
type ContentCache interface {
	TryGet(ctx context.Context, uri string) (*cache.Entry, bool)
	GetOrFetch(ctx context.Context, uri, parentID string, permanent bool) (*cache.Entry, error)
}

// Config holds fetcher configuration.
type Config struct {
	Timeout time.Duration
	Retry   resilience.RetryConfig
}

// Fetcher returns resource bytes from the cache, falling back to the network.
type Fetcher struct {
	cache  ContentCache
	cfg    Config
	logger *slog.Logger
}

// New creates a fetcher. Zero config fields take their defaults.
func New(c ContentCache, cfg Config, logger *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		cache:  c,
		cfg:    cfg,
		logger: logger.With("component", "fetcher"),
	}
}

// DefaultPolicies returns the pipeline used for network fetches: one deadline spanning
// every retry attempt.
func (f *Fetcher) DefaultPolicies() resilience.Pipeline {
	return resilience.Pipeline{
		resilience.NewTimeout(f.cfg.Timeout),
		resilience.NewRetryFromConfig(f.cfg.Retry,
			resilience.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				metrics.FetchRetriesTotal.Inc()
				f.logger.Debug("Retrying fetch", "attempt", attempt, "delay", delay, "error", err)
			}),
		),
	}
}

// GetBytes returns the bytes for uri. A cache hit is returned with OriginDisk and never
// touches the network. On a miss the cache is populated under the default pipeline, or
// under custom when given, which replaces the defaults. Failures are returned unchanged.
func (f *Fetcher) GetBytes(
	ctx context.Context,
	uri string,
	opts domain.FetchOptions,
	custom ...resilience.Policy,
) (domain.ResourceResult, error) {
	if e, ok := f.cache.TryGet(ctx, uri); ok {
		return domain.ResourceResult{Data: e.Data, Origin: domain.OriginDisk, ContentType: e.ContentType}, nil
	}

	policies := resilience.Pipeline(custom)
	if len(custom) == 0 {
		policies = f.DefaultPolicies()
	}

	e, err := resilience.Do(ctx, policies, func(ctx context.Context) (*cache.Entry, error) {
		return f.cache.GetOrFetch(ctx, uri, opts.ParentID, opts.Permanent)
	})
	if err != nil {
		return domain.ResourceResult{}, err
	}
	return domain.ResourceResult{Data: e.Data, Origin: domain.OriginNetwork, ContentType: e.ContentType}, nil
}

// Lookup is GetBytes for callers that prefer absence over an error: a failure is logged
// and reported as a Fallback result without data. Caller cancellation is still returned.
func (f *Fetcher) Lookup(
	ctx context.Context,
	uri string,
	opts domain.FetchOptions,
	custom ...resilience.Policy,
) (domain.ResourceResult, error) {
	res, err := f.GetBytes(ctx, uri, opts, custom...)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return domain.ResourceResult{}, err
	}
	f.logger.Warn("Fetch failed, using fallback", "uri", uri, "error", err)
	return domain.ResourceResult{Origin: domain.OriginFallback}, nil
}
