// Package memory provides an in-process job queue for local development and
// tests. It mirrors the transitions of the Postgres coordinator under a single
// mutex.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/entity-enricher/internal/clock/system"
	"github.com/JakeFAU/entity-enricher/internal/enrichment"
)

// MissingLister lists entities that still lack at least one contact field.
type MissingLister interface {
	ListMissing(ctx context.Context, limit int) ([]string, error)
}

// Config tunes the in-memory queue.
type Config struct {
	MaxAttempts int
	Clock       enrichment.Clock
	Entities    MissingLister
}

// Queue is an in-memory enrichment.JobQueue.
type Queue struct {
	mu          sync.Mutex
	jobs        map[int64]*enrichment.Job
	active      map[string]int64
	nextID      int64
	maxAttempts int
	clock       enrichment.Clock
	entities    MissingLister
}

var _ enrichment.JobQueue = (*Queue)(nil)

// NewQueue constructs an empty queue.
func NewQueue(cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	return &Queue{
		jobs:        make(map[int64]*enrichment.Job),
		active:      make(map[string]int64),
		maxAttempts: cfg.MaxAttempts,
		clock:       cfg.Clock,
		entities:    cfg.Entities,
	}
}

// Enqueue adds a pending job unless the entity already has a non-terminal one.
func (q *Queue) Enqueue(_ context.Context, entityID string, priority int) (bool, error) {
	if entityID == "" {
		return false, fmt.Errorf("entity id is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(entityID, priority), nil
}

func (q *Queue) enqueueLocked(entityID string, priority int) bool {
	if _, busy := q.active[entityID]; busy {
		return false
	}
	q.nextID++
	job := &enrichment.Job{
		ID:          q.nextID,
		EntityID:    entityID,
		Status:      enrichment.JobStatusPending,
		Priority:    priority,
		MaxAttempts: q.maxAttempts,
		CreatedAt:   q.clock.Now(),
	}
	q.jobs[job.ID] = job
	q.active[entityID] = job.ID
	return true
}

// EnqueueMissing enqueues up to limit entities reported by the configured lister.
func (q *Queue) EnqueueMissing(ctx context.Context, priority, limit int) (int64, error) {
	if q.entities == nil {
		return 0, fmt.Errorf("no entity lister configured")
	}
	ids, err := q.entities.ListMissing(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list entities missing fields: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var added int64
	for _, id := range ids {
		if limit > 0 && added >= int64(limit) {
			break
		}
		if q.enqueueLocked(id, priority) {
			added++
		}
	}
	return added, nil
}

// Claim leases the highest priority, oldest pending job to workerID.
func (q *Queue) Claim(_ context.Context, workerID string) (enrichment.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *enrichment.Job
	for _, job := range q.jobs {
		if job.Status != enrichment.JobStatusPending || job.Attempts >= job.MaxAttempts {
			continue
		}
		if best == nil || before(job, best) {
			best = job
		}
	}
	if best == nil {
		return enrichment.Job{}, false
	}
	now := q.clock.Now()
	best.Status = enrichment.JobStatusProcessing
	best.StartedAt = &now
	best.WorkerID = workerID
	best.Attempts++
	return *best, true
}

func before(a, b *enrichment.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Complete marks a job leased to workerID completed.
func (q *Queue) Complete(_ context.Context, jobID int64, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.leased(jobID, workerID)
	if err != nil {
		return err
	}
	now := q.clock.Now()
	job.Status = enrichment.JobStatusCompleted
	job.CompletedAt = &now
	job.ErrorMessage = ""
	delete(q.active, job.EntityID)
	return nil
}

// Fail releases a job leased to workerID back to pending, or fails it once
// attempts are exhausted.
func (q *Queue) Fail(_ context.Context, jobID int64, workerID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, err := q.leased(jobID, workerID)
	if err != nil {
		return err
	}
	q.releaseLocked(job, reason)
	return nil
}

func (q *Queue) releaseLocked(job *enrichment.Job, reason string) {
	job.ErrorMessage = reason
	if job.Attempts < job.MaxAttempts {
		job.Status = enrichment.JobStatusPending
		return
	}
	now := q.clock.Now()
	job.Status = enrichment.JobStatusFailed
	job.CompletedAt = &now
	delete(q.active, job.EntityID)
}

func (q *Queue) leased(jobID int64, workerID string) (*enrichment.Job, error) {
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, enrichment.ErrNotFound
	}
	if job.Status != enrichment.JobStatusProcessing {
		return nil, enrichment.ErrJobNotProcessing
	}
	if job.WorkerID != workerID {
		return nil, fmt.Errorf("job %d is leased to %s: %w", jobID, job.WorkerID, enrichment.ErrJobNotProcessing)
	}
	return job, nil
}

// ReapExpired releases processing jobs whose lease is older than leaseTimeout.
func (q *Queue) ReapExpired(_ context.Context, leaseTimeout time.Duration) (int64, error) {
	if leaseTimeout <= 0 {
		return 0, fmt.Errorf("lease timeout must be > 0")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.clock.Now().Add(-leaseTimeout)
	var reaped int64
	for _, job := range q.jobs {
		if job.Status != enrichment.JobStatusProcessing || job.StartedAt == nil {
			continue
		}
		if job.StartedAt.After(cutoff) {
			continue
		}
		q.releaseLocked(job, fmt.Sprintf("lease expired (worker %s)", job.WorkerID))
		reaped++
	}
	return reaped, nil
}

// GetJob returns a copy of the job.
func (q *Queue) GetJob(_ context.Context, jobID int64) (enrichment.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return enrichment.Job{}, enrichment.ErrNotFound
	}
	return *job, nil
}

// Stats counts jobs by status and lists workers holding leases.
func (q *Queue) Stats(_ context.Context) (enrichment.QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var stats enrichment.QueueStats
	loads := make(map[string]int64)
	for _, job := range q.jobs {
		switch job.Status {
		case enrichment.JobStatusPending:
			stats.Pending++
		case enrichment.JobStatusProcessing:
			stats.Processing++
			loads[job.WorkerID]++
		case enrichment.JobStatusCompleted:
			stats.Completed++
		case enrichment.JobStatusFailed:
			stats.Failed++
		}
	}
	stats.ActiveWorkers = make([]enrichment.WorkerLoad, 0, len(loads))
	for id, n := range loads {
		stats.ActiveWorkers = append(stats.ActiveWorkers, enrichment.WorkerLoad{WorkerID: id, Jobs: n})
	}
	sort.Slice(stats.ActiveWorkers, func(i, j int) bool {
		return stats.ActiveWorkers[i].WorkerID < stats.ActiveWorkers[j].WorkerID
	})
	return stats, nil
}
