// Package reaper returns jobs orphaned in processing by crashed workers to
// the pool once their lease expires.
package reaper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
	"github.com/JakeFAU/entity-enricher/internal/metrics"
)

const (
	defaultLeaseTimeout = 10 * time.Minute
	defaultInterval     = time.Minute
)

// Config controls the reaper.
type Config struct {
	// LeaseTimeout is how long a job may stay processing before it is
	// considered abandoned.
	LeaseTimeout time.Duration
	Interval     time.Duration
}

// Reaper periodically expires stale leases.
type Reaper struct {
	queue  enrichment.LeaseReaper
	cfg    Config
	logger *zap.Logger
}

// New constructs a Reaper.
func New(queue enrichment.LeaseReaper, cfg Config, logger *zap.Logger) *Reaper {
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = defaultLeaseTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{queue: queue, cfg: cfg, logger: logger}
}

// RunOnce expires leases older than the lease timeout and returns how many
// jobs were released.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	n, err := r.queue.ReapExpired(ctx, r.cfg.LeaseTimeout)
	if err != nil {
		return 0, fmt.Errorf("reap expired leases: %w", err)
	}
	metrics.ObserveLeasesReaped(n)
	if n > 0 {
		r.logger.Warn("expired leases reaped",
			zap.Int64("jobs", n),
			zap.Duration("lease_timeout", r.cfg.LeaseTimeout),
		)
	}
	return n, nil
}

// Run calls RunOnce every interval until ctx ends. Errors are logged and
// the loop continues.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	r.logger.Info("lease reaper started",
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("lease_timeout", r.cfg.LeaseTimeout),
	)
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("lease reaper pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
