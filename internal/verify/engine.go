package verify

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/entity-enricher/internal/candidate"
	"github.com/JakeFAU/entity-enricher/internal/enrichment"
	"github.com/JakeFAU/entity-enricher/internal/metrics"
)

// Config controls the discovery loop.
type Config struct {
	Threshold int
	// MaxCandidates caps the candidates tried per entity; zero means all.
	MaxCandidates int
	// FollowContactPage fetches one contact page after acceptance.
	FollowContactPage bool
}

// Engine tries candidates in order and stops at the first accepted page.
type Engine struct {
	generator *candidate.Generator
	fetcher   enrichment.Fetcher
	headless  enrichment.Fetcher
	detector  enrichment.HeadlessDetector
	limiter   enrichment.Limiter
	scorer    Scorer
	cfg       Config
	logger    *zap.Logger
}

var _ enrichment.Verifier = (*Engine)(nil)

// New constructs an Engine. headless, detector and limiter are optional.
func New(
	generator *candidate.Generator,
	fetcher enrichment.Fetcher,
	headless enrichment.Fetcher,
	detector enrichment.HeadlessDetector,
	limiter enrichment.Limiter,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if generator == nil {
		generator = candidate.New(candidate.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		generator: generator,
		fetcher:   fetcher,
		headless:  headless,
		detector:  detector,
		limiter:   limiter,
		scorer:    NewScorer(cfg.Threshold),
		cfg:       cfg,
		logger:    logger,
	}
}

// Discover finds the entity's website and scrapes contacts from it. It
// returns enrichment.ErrNoWebsite when no candidate reached the threshold;
// any other error means the run was interrupted (context ended).
func (e *Engine) Discover(ctx context.Context, jobID int64, entity enrichment.Entity) (enrichment.Discovery, error) {
	ctx, span := otel.Tracer("enricher/verify").Start(ctx, "verify.discover")
	defer span.End()
	span.SetAttributes(attribute.String("entity.id", entity.ID), attribute.Int64("job.id", jobID))

	if e.fetcher == nil {
		return enrichment.Discovery{}, fmt.Errorf("no fetcher configured")
	}

	if entity.Website != "" {
		return e.scrapeKnown(ctx, jobID, entity)
	}

	candidates := e.generator.ForEntity(entity)
	if e.cfg.MaxCandidates > 0 && len(candidates) > e.cfg.MaxCandidates {
		candidates = candidates[:e.cfg.MaxCandidates]
	}

	var disc enrichment.Discovery
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return disc, fmt.Errorf("discovery interrupted: %w", err)
		}
		page, body, ok := e.fetchPage(ctx, jobID, c.URL)
		if !ok {
			disc.Tried = append(disc.Tried, enrichment.VerificationResult{URL: c.URL})
			continue
		}
		result := e.scorer.Score(entity, page)
		result.URL = c.URL
		metrics.ObserveVerificationScore(result.Score)
		disc.Tried = append(disc.Tried, result)
		e.logger.Debug("candidate scored",
			zap.Int64("job_id", jobID),
			zap.String("url", c.URL),
			zap.String("variant", c.Variant),
			zap.Int("score", result.Score),
			zap.Strings("signals", result.Signals),
		)
		if !result.Accepted {
			continue
		}
		disc.Website = c.URL
		disc.Result = result
		disc.Page = body
		disc.Contacts = e.contacts(ctx, jobID, page, entity.Country)
		span.SetAttributes(attribute.String("website", c.URL), attribute.Int("score", result.Score))
		return disc, nil
	}
	if err := ctx.Err(); err != nil {
		return disc, fmt.Errorf("discovery interrupted: %w", err)
	}
	return disc, enrichment.ErrNoWebsite
}

// scrapeKnown skips discovery when the website is already recorded and only
// scrapes it for contacts.
func (e *Engine) scrapeKnown(ctx context.Context, jobID int64, entity enrichment.Entity) (enrichment.Discovery, error) {
	disc := enrichment.Discovery{Website: entity.Website}
	page, body, ok := e.fetchPage(ctx, jobID, entity.Website)
	if !ok {
		if err := ctx.Err(); err != nil {
			return disc, fmt.Errorf("scrape interrupted: %w", err)
		}
		return disc, nil
	}
	disc.Page = body
	disc.Result = e.scorer.Score(entity, page)
	disc.Contacts = e.contacts(ctx, jobID, page, entity.Country)
	return disc, nil
}

func (e *Engine) contacts(ctx context.Context, jobID int64, page Page, country string) enrichment.Fields {
	pages := []Page{page}
	if e.cfg.FollowContactPage {
		if link := FindContactLink(page); link != "" {
			if contactPage, _, ok := e.fetchPage(ctx, jobID, link); ok {
				pages = append(pages, contactPage)
			}
		}
	}
	return ScrapeContacts(pages, country)
}

// fetchPage fetches and parses rawURL. Transport errors, HTTP statuses >= 400
// and unparseable bodies all report ok=false.
func (e *Engine) fetchPage(ctx context.Context, jobID int64, rawURL string) (Page, []byte, bool) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, rawURL); err != nil {
			return Page{}, nil, false
		}
	}
	start := time.Now()
	resp, err := e.fetcher.Fetch(ctx, enrichment.FetchRequest{JobID: jobID, URL: rawURL})
	if err != nil {
		metrics.ObserveCandidateFetch("transport_error", false)
		e.logger.Debug("candidate fetch failed",
			zap.Int64("job_id", jobID), zap.String("url", rawURL), zap.Error(err))
		return Page{}, nil, false
	}
	if resp.StatusCode >= 400 {
		metrics.ObserveCandidateFetch("http_error", false)
		return Page{}, nil, false
	}
	metrics.ObserveCandidateFetch("ok", false)
	resp = e.maybePromote(ctx, jobID, rawURL, resp)

	page, err := ParsePage(rawURL, resp.Host, resp.Body)
	if err != nil {
		e.logger.Debug("candidate parse failed",
			zap.Int64("job_id", jobID), zap.String("url", rawURL), zap.Error(err))
		return Page{}, nil, false
	}
	e.logger.Debug("candidate fetched",
		zap.Int64("job_id", jobID),
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Bool("headless", resp.UsedHeadless),
		zap.Duration("duration", time.Since(start)),
	)
	return page, resp.Body, true
}

func (e *Engine) maybePromote(
	ctx context.Context,
	jobID int64,
	rawURL string,
	probe enrichment.FetchResponse,
) enrichment.FetchResponse {
	if e.headless == nil || e.detector == nil || !e.detector.ShouldPromote(probe) {
		return probe
	}
	rendered, err := e.headless.Fetch(ctx, enrichment.FetchRequest{JobID: jobID, URL: rawURL, UseHeadless: true})
	if err != nil || rendered.StatusCode >= 400 {
		metrics.ObserveCandidateFetch("headless_error", true)
		e.logger.Warn("headless promotion failed",
			zap.Int64("job_id", jobID), zap.String("url", rawURL), zap.Error(err))
		return probe
	}
	metrics.ObserveCandidateFetch("ok", true)
	rendered.UsedHeadless = true
	if rendered.Host == "" {
		rendered.Host = probe.Host
	}
	return rendered
}
