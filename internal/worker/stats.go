package worker

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stats counts processed jobs for the periodic summary.
type Stats struct {
	mu        sync.Mutex
	started   time.Time
	processed int64
	succeeded int64
	failed    int64
	enriched  int64
	noMatch   int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Processed     int64
	Succeeded     int64
	Failed        int64
	Enriched      int64
	NoMatch       int64
	Elapsed       time.Duration
	RatePerMinute float64
}

func newStats(now time.Time) *Stats {
	return &Stats{started: now}
}

func (s *Stats) record(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	switch outcome {
	case OutcomeFailed:
		s.failed++
		return
	case OutcomeEnriched:
		s.enriched++
	case OutcomeNoMatch:
		s.noMatch++
	}
	s.succeeded++
}

// Snapshot returns the counters and the throughput since start.
func (s *Stats) Snapshot(now time.Time) StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	elapsed := now.Sub(s.started)
	snap := StatsSnapshot{
		Processed: s.processed,
		Succeeded: s.succeeded,
		Failed:    s.failed,
		Enriched:  s.enriched,
		NoMatch:   s.noMatch,
		Elapsed:   elapsed,
	}
	if minutes := elapsed.Minutes(); minutes > 0 {
		snap.RatePerMinute = float64(s.processed) / minutes
	}
	return snap
}

// Fields renders the snapshot as log fields.
func (s StatsSnapshot) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("processed", s.Processed),
		zap.Int64("succeeded", s.Succeeded),
		zap.Int64("failed", s.Failed),
		zap.Int64("enriched", s.Enriched),
		zap.Int64("no_match", s.NoMatch),
		zap.Duration("elapsed", s.Elapsed),
		zap.Float64("jobs_per_minute", s.RatePerMinute),
	}
}
