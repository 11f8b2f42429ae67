package enrichment

import (
	"context"
	"io"
	"time"
)

// Coordinator exposes the atomic job transitions consumed by workers.
// Claim returns false when no eligible job exists or the store cannot be
// reached; callers treat both the same way.
type Coordinator interface {
	Claim(ctx context.Context, workerID string) (Job, bool)
	Complete(ctx context.Context, jobID int64, workerID string) error
	Fail(ctx context.Context, jobID int64, workerID, reason string) error
}

// Producer adds work to the backlog. Enqueue reports false when the entity
// already has a non-terminal job.
type Producer interface {
	Enqueue(ctx context.Context, entityID string, priority int) (bool, error)
	EnqueueMissing(ctx context.Context, priority, limit int) (int64, error)
}

// LeaseReaper returns orphaned processing jobs to the pool.
type LeaseReaper interface {
	ReapExpired(ctx context.Context, leaseTimeout time.Duration) (int64, error)
}

// QueueInspector provides read-only views of the backlog.
type QueueInspector interface {
	GetJob(ctx context.Context, jobID int64) (Job, error)
	Stats(ctx context.Context) (QueueStats, error)
}

// JobQueue is implemented by every queue backend.
type JobQueue interface {
	Coordinator
	Producer
	LeaseReaper
	QueueInspector
}

// EntityRepository reads entities and writes enrichment results with
// fill-if-null semantics.
type EntityRepository interface {
	GetEntity(ctx context.Context, entityID string) (Entity, error)
	UpdateEntityIfNull(ctx context.Context, entityID string, fields Fields) error
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless re-fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Limiter paces outbound fetches per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Verifier discovers the website of an entity.
type Verifier interface {
	Discover(ctx context.Context, jobID int64, entity Entity) (Discovery, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes enrichment events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher fingerprints archived evidence.
type Hasher interface {
	Hash(data []byte) (string, error)
}
