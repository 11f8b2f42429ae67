// Package worker implements the claim, process and report loop that drives
// enrichment jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/entity-enricher/internal/clock/system"
	"github.com/JakeFAU/entity-enricher/internal/enrichment"
	"github.com/JakeFAU/entity-enricher/internal/metrics"
)

// ErrGracePeriodExceeded is returned by Run when shutdown gave up waiting for
// the in-flight job. That job stays processing until its lease expires.
var ErrGracePeriodExceeded = errors.New("grace period exceeded with job in flight")

const (
	defaultPollInterval  = 2 * time.Second
	defaultGracePeriod   = 30 * time.Second
	defaultJobTimeout    = 2 * time.Minute
	defaultReportTimeout = 10 * time.Second
	defaultStatsEvery    = 10
	defaultContentType   = "text/html; charset=utf-8"
	maxReasonLength      = 1000
)

// Config controls Worker behavior.
type Config struct {
	// WorkerID identifies this process in claimed job rows. Required.
	WorkerID     string
	PollInterval time.Duration
	GracePeriod  time.Duration
	// JobTimeout bounds one job's processing. It is detached from the
	// shutdown signal.
	JobTimeout time.Duration
	// ReportTimeout bounds the Complete/Fail round-trip.
	ReportTimeout time.Duration
	// StatsEvery logs a summary after every N processed jobs.
	StatsEvery int
	// StatsInterval also logs a summary on a wall-clock interval; zero disables it.
	StatsInterval time.Duration
	BlobPrefix    string
	ContentType   string
	// Topic receives EnrichedEvent messages; empty disables publishing.
	Topic string
}

// Worker consumes jobs from a Coordinator one at a time.
type Worker struct {
	coordinator enrichment.Coordinator
	entities    enrichment.EntityRepository
	verifier    enrichment.Verifier
	blobStore   enrichment.BlobStore
	publisher   enrichment.Publisher
	hasher      enrichment.Hasher
	ids         enrichment.IDGenerator
	clock       enrichment.Clock
	cfg         Config
	logger      *zap.Logger
	stats       *Stats
}

// New constructs a Worker. blobStore, publisher, hasher and ids are optional.
func New(
	coordinator enrichment.Coordinator,
	entities enrichment.EntityRepository,
	verifier enrichment.Verifier,
	blobStore enrichment.BlobStore,
	publisher enrichment.Publisher,
	hasher enrichment.Hasher,
	ids enrichment.IDGenerator,
	clock enrichment.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = defaultReportTimeout
	}
	if cfg.StatsEvery <= 0 {
		cfg.StatsEvery = defaultStatsEvery
	}
	if cfg.ContentType == "" {
		cfg.ContentType = defaultContentType
	}
	return &Worker{
		coordinator: coordinator,
		entities:    entities,
		verifier:    verifier,
		blobStore:   blobStore,
		publisher:   publisher,
		hasher:      hasher,
		ids:         ids,
		clock:       clock,
		cfg:         cfg,
		logger:      logger.With(zap.String("worker_id", cfg.WorkerID)),
		stats:       newStats(clock.Now()),
	}
}

// Stats returns a snapshot of this worker's counters.
func (w *Worker) Stats() StatsSnapshot {
	return w.stats.Snapshot(w.clock.Now())
}

// Run blocks, claiming and processing jobs until ctx is canceled. Once ctx
// ends no further job is claimed; a job already in flight is given
// GracePeriod to finish. Run returns nil on a clean drain.
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.WorkerID == "" {
		return fmt.Errorf("worker id is required")
	}
	if w.coordinator == nil || w.entities == nil || w.verifier == nil {
		return fmt.Errorf("worker is missing a coordinator, entity repository or verifier")
	}
	w.logger.Info("worker started",
		zap.Duration("poll_interval", w.cfg.PollInterval),
		zap.Duration("grace_period", w.cfg.GracePeriod),
	)
	defer w.logStats("worker stopped")

	lastStats := w.clock.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if w.cfg.StatsInterval > 0 && w.clock.Now().Sub(lastStats) >= w.cfg.StatsInterval {
			w.logStats("worker stats")
			lastStats = w.clock.Now()
		}

		job, ok := w.claim(ctx)
		metrics.ObserveClaim(ok)
		if !ok {
			if !sleepContext(ctx, w.cfg.PollInterval) {
				return nil
			}
			continue
		}
		if err := w.runJob(ctx, job); err != nil {
			return err
		}
		if processed := w.stats.Snapshot(w.clock.Now()).Processed; processed%int64(w.cfg.StatsEvery) == 0 {
			w.logStats("worker stats")
			lastStats = w.clock.Now()
		}
	}
}

// claim runs the claim round-trip detached from shutdown so a cancel cannot
// abandon a lease the store has already granted.
func (w *Worker) claim(ctx context.Context) (enrichment.Job, bool) {
	claimCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.ReportTimeout)
	defer cancel()
	return w.coordinator.Claim(claimCtx, w.cfg.WorkerID)
}

// runJob processes job in its own goroutine so shutdown can bound the wait
// without preempting the work itself.
func (w *Worker) runJob(ctx context.Context, job enrichment.Job) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.handle(context.WithoutCancel(ctx), job)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	w.logger.Info("shutdown requested, draining in-flight job",
		zap.Int64("job_id", job.ID),
		zap.String("entity_id", job.EntityID),
		zap.Duration("grace_period", w.cfg.GracePeriod),
	)
	timer := time.NewTimer(w.cfg.GracePeriod)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		w.logger.Warn("grace period elapsed, abandoning in-flight job",
			zap.Int64("job_id", job.ID),
			zap.String("entity_id", job.EntityID),
			zap.Int("attempt", job.Attempts),
		)
		return ErrGracePeriodExceeded
	}
}

func (w *Worker) logStats(msg string) {
	w.logger.Info(msg, w.stats.Snapshot(w.clock.Now()).Fields()...)
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
