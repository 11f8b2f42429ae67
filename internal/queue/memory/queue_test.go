package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type staticLister struct {
	ids []string
}

func (l staticLister) ListMissing(context.Context, int) ([]string, error) {
	return l.ids, nil
}

func newTestQueue(maxAttempts int) (*Queue, *stepClock) {
	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewQueue(Config{MaxAttempts: maxAttempts, Clock: clock}), clock
}

func TestClaimOrdersByPriorityThenAge(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(3)
	ctx := context.Background()
	for _, tc := range []struct {
		entity   string
		priority int
	}{{"A", 5}, {"B", 1}, {"C", 5}, {"D", 3}} {
		ok, err := q.Enqueue(ctx, tc.entity, tc.priority)
		require.NoError(t, err)
		require.True(t, ok)
	}

	var order []string
	for {
		job, ok := q.Claim(ctx, "worker-1")
		if !ok {
			break
		}
		order = append(order, job.EntityID)
	}
	assert.Equal(t, []string{"A", "C", "D", "B"}, order)
}

func TestEnqueueSkipsActiveEntity(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(3)
	ctx := context.Background()

	ok, err := q.Enqueue(ctx, "ent-1", 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = q.Enqueue(ctx, "ent-1", 10)
	require.NoError(t, err)
	assert.False(t, ok, "pending job should block a second enqueue")

	job, claimed := q.Claim(ctx, "w")
	require.True(t, claimed)
	ok, _ = q.Enqueue(ctx, "ent-1", 0)
	assert.False(t, ok, "processing job should block a second enqueue")

	require.NoError(t, q.Complete(ctx, job.ID, "w"))
	ok, err = q.Enqueue(ctx, "ent-1", 0)
	require.NoError(t, err)
	assert.True(t, ok, "terminal job should not block a new one")

	_, err = q.Enqueue(ctx, "", 0)
	require.Error(t, err)
}

func TestRetryBoundStopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(3)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, "ent-1", 0)
	require.NoError(t, err)

	var statuses []enrichment.JobStatus
	var jobID int64
	for {
		job, ok := q.Claim(ctx, "w")
		if !ok {
			break
		}
		jobID = job.ID
		statuses = append(statuses, job.Status)
		require.NoError(t, q.Fail(ctx, job.ID, "w", fmt.Sprintf("attempt %d failed", job.Attempts)))
		after, err := q.GetJob(ctx, job.ID)
		require.NoError(t, err)
		statuses = append(statuses, after.Status)
	}

	assert.Equal(t, []enrichment.JobStatus{
		enrichment.JobStatusProcessing, enrichment.JobStatusPending,
		enrichment.JobStatusProcessing, enrichment.JobStatusPending,
		enrichment.JobStatusProcessing, enrichment.JobStatusFailed,
	}, statuses)

	final, err := q.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 3, final.Attempts)
	assert.Equal(t, "attempt 3 failed", final.ErrorMessage)
	assert.NotNil(t, final.CompletedAt)
}

func TestCompleteTwiceLeavesStateIntact(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(3)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "ent-1", 0)
	job, ok := q.Claim(ctx, "w")
	require.True(t, ok)
	require.NoError(t, q.Fail(ctx, job.ID, "w", "boom"))
	job, ok = q.Claim(ctx, "w")
	require.True(t, ok)

	require.NoError(t, q.Complete(ctx, job.ID, "w"))
	first, _ := q.GetJob(ctx, job.ID)
	assert.Empty(t, first.ErrorMessage)

	require.ErrorIs(t, q.Complete(ctx, job.ID, "w"), enrichment.ErrJobNotProcessing)
	require.ErrorIs(t, q.Fail(ctx, job.ID, "w", "late"), enrichment.ErrJobNotProcessing)
	second, _ := q.GetJob(ctx, job.ID)
	assert.Equal(t, first, second)

	require.ErrorIs(t, q.Complete(ctx, 999, "w"), enrichment.ErrNotFound)
}

func TestConcurrentClaimsNeverShareAJob(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(3)
	ctx := context.Background()
	const jobs = 200
	for i := 0; i < jobs; i++ {
		_, err := q.Enqueue(ctx, fmt.Sprintf("ent-%d", i), i%7)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[int64]string)
	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				job, ok := q.Claim(ctx, worker)
				if !ok {
					return
				}
				mu.Lock()
				if prev, dup := seen[job.ID]; dup {
					t.Errorf("job %d claimed by %s and %s", job.ID, prev, worker)
				}
				seen[job.ID] = worker
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()
	assert.Len(t, seen, jobs)
}

func TestReapExpiredReleasesStaleLeases(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue(2)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "stale", 0)
	_, _ = q.Enqueue(ctx, "fresh", 0)

	stale, ok := q.Claim(ctx, "crashed")
	require.True(t, ok)
	clock.Advance(time.Hour)
	fresh, ok := q.Claim(ctx, "alive")
	require.True(t, ok)

	n, err := q.ReapExpired(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := q.GetJob(ctx, stale.ID)
	assert.Equal(t, enrichment.JobStatusPending, got.Status)
	assert.Equal(t, "lease expired (worker crashed)", got.ErrorMessage)

	got, _ = q.GetJob(ctx, fresh.ID)
	assert.Equal(t, enrichment.JobStatusProcessing, got.Status)

	// Second lease of the stale job exhausts attempts once it expires too.
	again, ok := q.Claim(ctx, "crashed-again")
	require.True(t, ok)
	require.Equal(t, stale.ID, again.ID)
	clock.Advance(time.Hour)
	_, err = q.ReapExpired(ctx, 10*time.Minute)
	require.NoError(t, err)
	got, _ = q.GetJob(ctx, stale.ID)
	assert.Equal(t, enrichment.JobStatusFailed, got.Status)

	_, err = q.ReapExpired(ctx, 0)
	require.Error(t, err)
}

func TestReportsFromAReapedHolderAreRejected(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue(3)
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "ent-1", 0)

	first, ok := q.Claim(ctx, "worker-a")
	require.True(t, ok)
	clock.Advance(time.Hour)
	n, err := q.ReapExpired(ctx, time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	second, ok := q.Claim(ctx, "worker-b")
	require.True(t, ok)
	require.Equal(t, first.ID, second.ID)

	require.ErrorIs(t, q.Fail(ctx, first.ID, "worker-a", "late timeout"), enrichment.ErrJobNotProcessing)
	require.ErrorIs(t, q.Complete(ctx, first.ID, "worker-a"), enrichment.ErrJobNotProcessing)

	held, err := q.GetJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, enrichment.JobStatusProcessing, held.Status)
	assert.Equal(t, "worker-b", held.WorkerID)
	assert.Equal(t, 2, held.Attempts)

	_, ok = q.Claim(ctx, "worker-c")
	assert.False(t, ok, "a live lease must not be handed out again")

	require.NoError(t, q.Complete(ctx, first.ID, "worker-b"))
	done, _ := q.GetJob(ctx, first.ID)
	assert.Equal(t, enrichment.JobStatusCompleted, done.Status)
	assert.Equal(t, "worker-b", done.WorkerID)
}

func TestEnqueueMissingAndStats(t *testing.T) {
	t.Parallel()

	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := NewQueue(Config{Clock: clock, Entities: staticLister{ids: []string{"a", "b", "c"}}})
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, "b", 0)

	added, err := q.EnqueueMissing(ctx, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), added)

	_, ok := q.Claim(ctx, "w1")
	require.True(t, ok)
	job, ok := q.Claim(ctx, "w1")
	require.True(t, ok)
	require.NoError(t, q.Complete(ctx, job.ID, "w1"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
	assert.Equal(t, int64(1), stats.Processing)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(3), stats.Total())
	assert.Equal(t, []enrichment.WorkerLoad{{WorkerID: "w1", Jobs: 1}}, stats.ActiveWorkers)

	_, err = NewQueue(Config{}).EnqueueMissing(ctx, 0, 1)
	require.Error(t, err)
}
