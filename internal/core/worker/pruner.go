package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/fetchkit/internal/core/config"
)

// Prunable removes expired, non-permanent entries.
type Prunable interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Pruner deletes cache entries older than the configured TTL.
type Pruner struct {
	cfg    config.CacheConfig
	target Prunable
	logger *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(cfg config.CacheConfig, target Prunable, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		cfg:    cfg,
		target: target,
		logger: logger.With("component", "pruner"),
	}
}

// Interval returns how often the pruner runs.
func (p *Pruner) Interval() time.Duration {
	if p.cfg.PruneInterval > 0 {
		return p.cfg.PruneInterval
	}
	// 10% of the TTL, between 1 minute and 1 hour
	interval := min(p.cfg.TTL/10, 1*time.Hour)
	return max(interval, 1*time.Minute)
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.cfg.TTL <= 0 {
		return // TTL disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	// Initial prune
	p.PruneOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce removes entries stored more than TTL ago.
func (p *Pruner) PruneOnce(ctx context.Context) int {
	threshold := time.Now().Add(-p.cfg.TTL)

	n, err := p.target.Prune(ctx, threshold)
	if err != nil {
		p.logger.Error("Failed to prune cache", "threshold", threshold, "error", err)
	}
	if n > 0 {
		p.logger.Info("Pruned expired cache entries", "count", n)
	}
	return n
}
