// Package postgres implements the enrichment job queue on a shared Postgres
// table. Claims use row locks with SKIP LOCKED so concurrent workers never
// wait on, or receive, the same row.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
	pgstore "github.com/JakeFAU/entity-enricher/internal/storage/postgres"
)

const (
	defaultTable       = "enrichment_queue"
	defaultEntityTable = "entities"
	defaultMaxAttempts = 3
)

// Config controls table names and retry bounds.
type Config struct {
	Table       string
	EntityTable string
	MaxAttempts int
}

// DB is the subset of pgxpool.Pool used by the coordinator.
type DB interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Coordinator is a Postgres-backed enrichment.JobQueue.
type Coordinator struct {
	db          DB
	table       string
	entityTable string
	maxAttempts int
	logger      *zap.Logger
}

var _ enrichment.JobQueue = (*Coordinator)(nil)

// New constructs a Coordinator over an existing pool.
func New(db DB, cfg Config, logger *zap.Logger) (*Coordinator, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := pgstore.TableName(cfg.Table, defaultTable)
	if err != nil {
		return nil, err
	}
	entityTable, err := pgstore.TableName(cfg.EntityTable, defaultEntityTable)
	if err != nil {
		return nil, err
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		db:          db,
		table:       table,
		entityTable: entityTable,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}, nil
}

const jobColumns = `id, entity_id, status, priority, attempts, max_attempts,
	created_at, started_at, completed_at, worker_id, error_message`

// EnsureSchema creates the queue table and its indexes when missing.
func (c *Coordinator) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id            BIGSERIAL PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending'
	              CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
	priority      INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 3,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	worker_id     TEXT,
	error_message TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_active_entity_idx
	ON %[1]s (entity_id) WHERE status IN ('pending', 'processing');
CREATE INDEX IF NOT EXISTS %[1]s_claim_idx
	ON %[1]s (priority DESC, created_at ASC) WHERE status = 'pending';`, c.table)
	if _, err := c.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure queue schema: %w", err)
	}
	return nil
}

// Enqueue inserts a pending job unless the entity already has an active one.
func (c *Coordinator) Enqueue(ctx context.Context, entityID string, priority int) (bool, error) {
	if entityID == "" {
		return false, fmt.Errorf("entity id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (entity_id, status, priority, max_attempts)
VALUES ($1, 'pending', $2, $3)
ON CONFLICT (entity_id) WHERE status IN ('pending', 'processing') DO NOTHING`, c.table)
	tag, err := c.db.Exec(ctx, query, entityID, priority, c.maxAttempts)
	if err != nil {
		return false, fmt.Errorf("enqueue entity %s: %w", entityID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// EnqueueMissing enqueues up to limit entities that lack a website, email or
// phone and have no active job.
func (c *Coordinator) EnqueueMissing(ctx context.Context, priority, limit int) (int64, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("limit must be > 0")
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (entity_id, status, priority, max_attempts)
SELECT e.id::text, 'pending', $1, $2
FROM %[2]s e
WHERE (e.website IS NULL OR e.email IS NULL OR e.phone IS NULL)
  AND NOT EXISTS (
	SELECT 1 FROM %[1]s j
	WHERE j.entity_id = e.id::text AND j.status IN ('pending', 'processing')
  )
ORDER BY e.id
LIMIT $3
ON CONFLICT (entity_id) WHERE status IN ('pending', 'processing') DO NOTHING`, c.table, c.entityTable)
	tag, err := c.db.Exec(ctx, query, priority, c.maxAttempts, limit)
	if err != nil {
		return 0, fmt.Errorf("enqueue entities missing fields: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Claim leases the best pending job to workerID. Store errors are logged and
// reported as "no job".
func (c *Coordinator) Claim(ctx context.Context, workerID string) (enrichment.Job, bool) {
	query := fmt.Sprintf(`
UPDATE %[1]s
SET status = 'processing',
	started_at = NOW(),
	worker_id = $1,
	attempts = attempts + 1
WHERE id = (
	SELECT id FROM %[1]s
	WHERE status = 'pending' AND attempts < max_attempts
	ORDER BY priority DESC, created_at ASC, id ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING %[2]s`, c.table, jobColumns)
	job, err := scanJob(c.db.QueryRow(ctx, query, workerID))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			c.logger.Warn("claim failed", zap.String("worker_id", workerID), zap.Error(err))
		}
		return enrichment.Job{}, false
	}
	return job, true
}

// Complete marks a job leased to workerID completed and clears its error message.
func (c *Coordinator) Complete(ctx context.Context, jobID int64, workerID string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'completed', completed_at = NOW(), error_message = NULL
WHERE id = $1 AND status = 'processing' AND worker_id = $2`, c.table)
	tag, err := c.db.Exec(ctx, query, jobID, workerID)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return c.notProcessing(ctx, jobID)
	}
	return nil
}

// Fail records reason and returns the job to pending while attempts remain,
// otherwise marks it failed.
func (c *Coordinator) Fail(ctx context.Context, jobID int64, workerID, reason string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'failed' END,
	completed_at = CASE WHEN attempts < max_attempts THEN NULL ELSE NOW() END,
	error_message = $3
WHERE id = $1 AND status = 'processing' AND worker_id = $2
RETURNING status`, c.table)
	var status string
	if err := c.db.QueryRow(ctx, query, jobID, workerID, reason).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.notProcessing(ctx, jobID)
		}
		return fmt.Errorf("fail job %d: %w", jobID, err)
	}
	if enrichment.JobStatus(status) == enrichment.JobStatusFailed {
		c.logger.Info("job exhausted retries", zap.Int64("job_id", jobID), zap.String("reason", reason))
	}
	return nil
}

// notProcessing distinguishes a missing job from one in another state or
// leased to another worker.
func (c *Coordinator) notProcessing(ctx context.Context, jobID int64) error {
	query := fmt.Sprintf(`SELECT status, COALESCE(worker_id, '') FROM %s WHERE id = $1`, c.table)
	var status, holder string
	if err := c.db.QueryRow(ctx, query, jobID).Scan(&status, &holder); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %d: %w", jobID, enrichment.ErrNotFound)
		}
		return fmt.Errorf("lookup job %d: %w", jobID, err)
	}
	if enrichment.JobStatus(status) == enrichment.JobStatusProcessing {
		return fmt.Errorf("job %d is leased to %s: %w", jobID, holder, enrichment.ErrJobNotProcessing)
	}
	return fmt.Errorf("job %d is %s: %w", jobID, status, enrichment.ErrJobNotProcessing)
}

// ReapExpired releases processing jobs leased longer than leaseTimeout ago.
func (c *Coordinator) ReapExpired(ctx context.Context, leaseTimeout time.Duration) (int64, error) {
	if leaseTimeout <= 0 {
		return 0, fmt.Errorf("lease timeout must be > 0")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = CASE WHEN attempts < max_attempts THEN 'pending' ELSE 'failed' END,
	completed_at = CASE WHEN attempts < max_attempts THEN NULL ELSE NOW() END,
	error_message = 'lease expired (worker ' || COALESCE(worker_id, 'unknown') || ')'
WHERE status = 'processing' AND started_at < NOW() - make_interval(secs => $1)`, c.table)
	tag, err := c.db.Exec(ctx, query, leaseTimeout.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reap expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetJob loads one job by id.
func (c *Coordinator) GetJob(ctx context.Context, jobID int64) (enrichment.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, c.table)
	job, err := scanJob(c.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return enrichment.Job{}, enrichment.ErrNotFound
		}
		return enrichment.Job{}, fmt.Errorf("get job %d: %w", jobID, err)
	}
	return job, nil
}

// Stats counts jobs by status and lists the workers holding leases.
func (c *Coordinator) Stats(ctx context.Context) (enrichment.QueueStats, error) {
	var stats enrichment.QueueStats
	rows, err := c.db.Query(ctx, fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, c.table))
	if err != nil {
		return stats, fmt.Errorf("count jobs by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan status count: %w", err)
		}
		switch enrichment.JobStatus(status) {
		case enrichment.JobStatusPending:
			stats.Pending = count
		case enrichment.JobStatusProcessing:
			stats.Processing = count
		case enrichment.JobStatusCompleted:
			stats.Completed = count
		case enrichment.JobStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate status counts: %w", err)
	}
	rows.Close()

	workerRows, err := c.db.Query(ctx, fmt.Sprintf(`
SELECT worker_id, COUNT(*) FROM %s
WHERE status = 'processing' AND worker_id IS NOT NULL
GROUP BY worker_id
ORDER BY worker_id`, c.table))
	if err != nil {
		return stats, fmt.Errorf("count active workers: %w", err)
	}
	defer workerRows.Close()
	stats.ActiveWorkers = []enrichment.WorkerLoad{}
	for workerRows.Next() {
		var load enrichment.WorkerLoad
		if err := workerRows.Scan(&load.WorkerID, &load.Jobs); err != nil {
			return stats, fmt.Errorf("scan worker load: %w", err)
		}
		stats.ActiveWorkers = append(stats.ActiveWorkers, load)
	}
	if err := workerRows.Err(); err != nil {
		return stats, fmt.Errorf("iterate worker loads: %w", err)
	}
	return stats, nil
}

func scanJob(row pgx.Row) (enrichment.Job, error) {
	var (
		job         enrichment.Job
		status      string
		startedAt   pgtype.Timestamptz
		completedAt pgtype.Timestamptz
		workerID    pgtype.Text
		errMsg      pgtype.Text
	)
	err := row.Scan(
		&job.ID,
		&job.EntityID,
		&status,
		&job.Priority,
		&job.Attempts,
		&job.MaxAttempts,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&workerID,
		&errMsg,
	)
	if err != nil {
		return enrichment.Job{}, err
	}
	job.Status = enrichment.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	job.WorkerID = workerID.String
	job.ErrorMessage = errMsg.String
	return job, nil
}
