// Package app builds the long-lived services shared by the CLI commands.
package app

import (
	"context"
	"fmt"
	"sync/atomic"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/entity-enricher/internal/api"
	"github.com/JakeFAU/entity-enricher/internal/candidate"
	"github.com/JakeFAU/entity-enricher/internal/clock/system"
	"github.com/JakeFAU/entity-enricher/internal/config"
	"github.com/JakeFAU/entity-enricher/internal/dispatcher"
	"github.com/JakeFAU/entity-enricher/internal/enrichment"
	entitymemory "github.com/JakeFAU/entity-enricher/internal/entity/memory"
	entitypostgres "github.com/JakeFAU/entity-enricher/internal/entity/postgres"
	collyfetcher "github.com/JakeFAU/entity-enricher/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/entity-enricher/internal/fetcher/headless"
	"github.com/JakeFAU/entity-enricher/internal/hash/sha256"
	"github.com/JakeFAU/entity-enricher/internal/headless/detector"
	"github.com/JakeFAU/entity-enricher/internal/id/uuid"
	"github.com/JakeFAU/entity-enricher/internal/logging"
	"github.com/JakeFAU/entity-enricher/internal/metrics"
	"github.com/JakeFAU/entity-enricher/internal/policy/ratelimit"
	"github.com/JakeFAU/entity-enricher/internal/policy/simple"
	memorypublisher "github.com/JakeFAU/entity-enricher/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/entity-enricher/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/entity-enricher/internal/queue/memory"
	queuepostgres "github.com/JakeFAU/entity-enricher/internal/queue/postgres"
	"github.com/JakeFAU/entity-enricher/internal/reaper"
	gcsstorage "github.com/JakeFAU/entity-enricher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/entity-enricher/internal/storage/local"
	memorystorage "github.com/JakeFAU/entity-enricher/internal/storage/memory"
	pgstore "github.com/JakeFAU/entity-enricher/internal/storage/postgres"
	"github.com/JakeFAU/entity-enricher/internal/telemetry"
	"github.com/JakeFAU/entity-enricher/internal/verify"
	"github.com/JakeFAU/entity-enricher/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	pool            *pgxpool.Pool
	queue           enrichment.JobQueue
	entities        enrichment.EntityRepository
	blobStore       enrichment.BlobStore
	publisher       enrichment.Publisher
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	headless        *headlessfetcher.Fetcher
	tracerShutdown  telemetry.ShutdownFunc
	closed          atomic.Bool
}

// Build creates the application's dependencies. Callers must Close the App.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := logging.NewWithLevel(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
	)

	app.tracerShutdown, err = telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, sdktrace.WithBatcher(telemetry.NewLogExporter(logger.Named("trace"))))
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	steps := []func(context.Context) error{
		app.setupQueue,
		app.setupStorage,
		app.setupPublisher,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = app.Close(ctx)
			return nil, err
		}
	}
	return app, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Queue returns the configured job queue backend.
func (a *App) Queue() enrichment.JobQueue { return a.queue }

// Entities returns the configured entity repository.
func (a *App) Entities() enrichment.EntityRepository { return a.entities }

// Ready checks that the database, when configured, answers.
func (a *App) Ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (a *App) setupQueue(ctx context.Context) error {
	switch a.cfg.Queue.Backend {
	case "postgres":
		pool, err := pgstore.Connect(ctx, pgstore.PoolConfig{
			DSN:             a.cfg.Database.DSN,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
		a.pool = pool
		coordinator, err := queuepostgres.New(pool, queuepostgres.Config{
			Table:       a.cfg.Queue.Table,
			EntityTable: a.cfg.Queue.EntityTable,
			MaxAttempts: a.cfg.Queue.MaxAttempts,
		}, a.logger.Named("queue"))
		if err != nil {
			return fmt.Errorf("queue init failed: %w", err)
		}
		if err := coordinator.EnsureSchema(ctx); err != nil {
			return err
		}
		entities, err := entitypostgres.New(pool, entitypostgres.Config{
			Table:          a.cfg.Queue.EntityTable,
			AssociateTable: a.cfg.Queue.AssociateTable,
		})
		if err != nil {
			return fmt.Errorf("entity repository init failed: %w", err)
		}
		a.queue = coordinator
		a.entities = entities
		a.logger.Info("using postgres queue", zap.String("table", a.cfg.Queue.Table))
	default:
		entities := entitymemory.NewRepository()
		a.entities = entities
		a.queue = queuememory.NewQueue(queuememory.Config{
			MaxAttempts: a.cfg.Queue.MaxAttempts,
			Clock:       system.New(),
			Entities:    entities,
		})
		a.logger.Info("using in-memory queue")
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobStore, err = gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS evidence store", zap.String("bucket", a.cfg.Storage.Bucket))
	case "local":
		a.blobStore, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local evidence store", zap.String("path", a.cfg.Storage.Local.BaseDir))
	default:
		a.blobStore = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory evidence store")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, enrichment events are kept in memory")
		a.publisher = memorypublisher.New()
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = gcppublisher.New(a.pubsubClient, a.cfg.PubSub.TopicName)
	a.publisher = a.pubsubPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

// NewVerifier assembles the discovery engine from the fetch settings.
func (a *App) NewVerifier() (enrichment.Verifier, error) {
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.HTTP.UserAgent,
		RespectRobots: a.cfg.HTTP.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
		MaxRedirects:  a.cfg.HTTP.MaxRedirects,
		MaxBodyBytes:  a.cfg.HTTP.MaxBodyBytes,
	})

	var (
		headless enrichment.Fetcher
		detect   enrichment.HeadlessDetector
	)
	if a.cfg.Headless.Enabled {
		if a.headless == nil {
			f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
				MaxParallel:       a.cfg.Headless.MaxParallel,
				UserAgent:         a.cfg.HTTP.UserAgent,
				NavigationTimeout: a.cfg.NavTimeout(),
				MaxBodyBytes:      a.cfg.HTTP.MaxBodyBytes,
			})
			if err != nil {
				return nil, fmt.Errorf("headless fetcher init failed: %w", err)
			}
			a.headless = f
		}
		headless = a.headless
		detect = detector.NewHeuristic(a.cfg.Headless.PromotionThresh)
		a.logger.Info("headless promotion enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}

	var limiter enrichment.Limiter
	if a.cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.DefaultRPS,
			DefaultBurst: a.cfg.RateLimit.DefaultBurst,
			MaxHosts:     a.cfg.RateLimit.MaxHosts,
		})
		a.logger.Info("rate limiter enabled",
			zap.Float64("default_rps", a.cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", a.cfg.RateLimit.DefaultBurst),
		)
	} else {
		limiter = simple.New()
		a.logger.Info("rate limiter disabled, using simple policy")
	}

	generator := candidate.New(candidate.Config{GenericTLD: a.cfg.Verification.GenericTLD})
	return verify.New(generator, probe, headless, detect, limiter, verify.Config{
		Threshold:         a.cfg.Verification.Threshold,
		MaxCandidates:     a.cfg.Verification.MaxCandidates,
		FollowContactPage: a.cfg.Verification.FollowContactPage,
	}, a.logger.Named("verify")), nil
}

// NewDispatcher builds worker.instances workers sharing one verifier. The
// base identity is worker.id, or a generated host/pid identity when unset.
func (a *App) NewDispatcher() (*dispatcher.Dispatcher, error) {
	base := a.cfg.Worker.ID
	if base == "" {
		var err error
		base, err = uuid.WorkerID("worker")
		if err != nil {
			return nil, fmt.Errorf("worker id: %w", err)
		}
	}
	verifier, err := a.NewVerifier()
	if err != nil {
		return nil, err
	}

	total := a.cfg.Worker.Instances
	runners := make([]dispatcher.Runner, 0, total)
	for i := 0; i < total; i++ {
		id := dispatcher.InstanceID(base, i, total)
		runners = append(runners, worker.New(
			a.queue,
			a.entities,
			verifier,
			a.blobStore,
			a.publisher,
			sha256.New(),
			uuid.New(),
			system.New(),
			worker.Config{
				WorkerID:      id,
				PollInterval:  a.cfg.PollInterval(),
				GracePeriod:   a.cfg.GracePeriod(),
				JobTimeout:    a.cfg.JobTimeout(),
				StatsEvery:    a.cfg.Worker.StatsEvery,
				StatsInterval: a.cfg.StatsInterval(),
				BlobPrefix:    a.cfg.Storage.Prefix,
				Topic:         a.cfg.PubSub.TopicName,
			},
			a.logger.Named("worker"),
		))
	}
	a.logger.Info("workers configured", zap.String("worker_id", base), zap.Int("instances", total))
	return dispatcher.New(runners...), nil
}

// NewReaper builds the lease reaper over the configured queue.
func (a *App) NewReaper() *reaper.Reaper {
	return reaper.New(a.queue, reaper.Config{
		LeaseTimeout: a.cfg.LeaseTimeout(),
		Interval:     a.cfg.ReapInterval(),
	}, a.logger.Named("reaper"))
}

// NewAPIServer builds the operator HTTP API.
func (a *App) NewAPIServer() *api.Server {
	return api.NewServer(a.queue, a.Ready, a.cfg, a.logger.Named("api"))
}

// Closed reports whether Close has run.
func (a *App) Closed() bool {
	return a.closed.Load()
}

// Close releases clients in reverse order of construction. Calls after the
// first are no-ops.
func (a *App) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	// Sync fails on stdout/stderr for some terminals; nothing to do about it.
	_ = a.logger.Sync()
	return nil
}
