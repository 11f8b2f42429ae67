package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/entity-enricher/internal/enrichment"
	"github.com/JakeFAU/entity-enricher/internal/metrics"
)

// Job outcomes, used as metric labels and in stats.
const (
	OutcomeEnriched  = "enriched"
	OutcomeUnchanged = "unchanged"
	OutcomeNoMatch   = "no_match"
	OutcomeFailed    = "failed"
)

type result struct {
	outcome string
	website string
	updated []string
}

// handle processes one claimed job and reports it to the coordinator.
// Nothing escapes: errors and panics become Fail.
func (w *Worker) handle(parent context.Context, job enrichment.Job) {
	start := w.clock.Now()
	metrics.IncInFlight()
	defer metrics.DecInFlight()

	ctx, span := otel.Tracer("enricher/worker").Start(parent, "worker.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.Int64("job.id", job.ID),
			attribute.String("entity.id", job.EntityID),
			attribute.Int("job.attempt", job.Attempts),
		),
	)
	defer span.End()

	log := w.logger.With(
		zap.Int64("job_id", job.ID),
		zap.String("entity_id", job.EntityID),
		zap.Int("attempt", job.Attempts),
	)
	if sc := span.SpanContext(); sc.IsValid() {
		log = log.With(zap.String("trace_id", sc.TraceID().String()))
	}
	log.Info("job claimed", zap.Int("priority", job.Priority), zap.Int("max_attempts", job.MaxAttempts))

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	res, err := w.safeProcess(jobCtx, job, log)
	cancel()

	reportCtx, reportCancel := context.WithTimeout(ctx, w.cfg.ReportTimeout)
	defer reportCancel()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		reason := truncate(err.Error(), maxReasonLength)
		if ferr := w.coordinator.Fail(reportCtx, job.ID, w.cfg.WorkerID, reason); ferr != nil {
			log.Error("fail report rejected", zap.Error(ferr), zap.String("reason", reason))
		} else {
			log.Warn("job failed", zap.String("reason", reason))
		}
		w.stats.record(OutcomeFailed)
		metrics.ObserveJob(OutcomeFailed, w.clock.Now().Sub(start))
		return
	}

	if cerr := w.coordinator.Complete(reportCtx, job.ID, w.cfg.WorkerID); cerr != nil {
		log.Error("complete report rejected", zap.Error(cerr))
	} else {
		log.Info("job completed",
			zap.String("outcome", res.outcome),
			zap.String("website", res.website),
			zap.Strings("fields_updated", res.updated),
			zap.Duration("duration", w.clock.Now().Sub(start)),
		)
	}
	span.SetAttributes(attribute.String("job.outcome", res.outcome))
	w.stats.record(res.outcome)
	metrics.ObserveJob(res.outcome, w.clock.Now().Sub(start))
}

func (w *Worker) safeProcess(ctx context.Context, job enrichment.Job, log *zap.Logger) (res result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing job", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("panic during processing: %v", r)
		}
	}()
	return w.process(ctx, job, log)
}

func (w *Worker) process(ctx context.Context, job enrichment.Job, log *zap.Logger) (result, error) {
	entity, err := w.entities.GetEntity(ctx, job.EntityID)
	if err != nil {
		return result{}, fmt.Errorf("load entity %s: %w", job.EntityID, err)
	}

	disc, err := w.verifier.Discover(ctx, job.ID, entity)
	switch {
	case errors.Is(err, enrichment.ErrNoWebsite):
		log.Info("no candidate website accepted", zap.Int("candidates_tried", len(disc.Tried)))
		return result{outcome: OutcomeNoMatch}, nil
	case err != nil:
		return result{}, fmt.Errorf("discover website: %w", err)
	}

	found := enrichment.Fields{
		Website: disc.Website,
		Email:   disc.Contacts.Email,
		Phone:   disc.Contacts.Phone,
	}
	fill, updated := entity.Fields.FillableFrom(found)
	res := result{outcome: OutcomeUnchanged, website: disc.Website}
	if len(updated) > 0 {
		if err := w.entities.UpdateEntityIfNull(ctx, entity.ID, fill); err != nil {
			return result{}, fmt.Errorf("update entity %s: %w", entity.ID, err)
		}
		metrics.ObserveFieldsUpdated(updated)
		res.outcome = OutcomeEnriched
		res.updated = updated
	}

	uri, hash := w.archive(ctx, job, disc.Page, log)
	if len(updated) > 0 {
		w.publish(ctx, job, disc, updated, uri, hash, log)
	}
	return res, nil
}

// archive stores the accepted page as evidence. Failures are logged only.
func (w *Worker) archive(ctx context.Context, job enrichment.Job, page []byte, log *zap.Logger) (string, string) {
	if w.blobStore == nil || len(page) == 0 {
		return "", ""
	}
	var hash string
	if w.hasher != nil {
		h, err := w.hasher.Hash(page)
		if err != nil {
			log.Warn("hash evidence failed", zap.Error(err))
		}
		hash = h
	}
	blobPath := w.buildBlobPath(job.EntityID, job.ID)
	uri, err := w.blobStore.PutObject(ctx, blobPath, w.cfg.ContentType, bytes.NewReader(page))
	if err != nil {
		log.Warn("archive evidence failed", zap.String("path", blobPath), zap.Error(err))
		return "", hash
	}
	log.Debug("evidence archived", zap.String("uri", uri), zap.String("hash", hash))
	return uri, hash
}

func (w *Worker) buildBlobPath(entityID string, jobID int64) string {
	name := strconv.FormatInt(jobID, 10) + ".html"
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return path.Join(entityID, name)
	}
	return path.Join(prefix, entityID, name)
}

// publish emits an EnrichedEvent. Failures are logged only.
func (w *Worker) publish(
	ctx context.Context,
	job enrichment.Job,
	disc enrichment.Discovery,
	updated []string,
	uri, hash string,
	log *zap.Logger,
) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	event := enrichment.EnrichedEvent{
		JobID:         job.ID,
		EntityID:      job.EntityID,
		Website:       disc.Website,
		FieldsUpdated: updated,
		Score:         disc.Result.Score,
		Signals:       disc.Result.Signals,
		EvidenceURI:   uri,
		ContentHash:   hash,
		Timestamp:     w.clock.Now().UTC().Truncate(time.Second),
	}
	if w.ids != nil {
		id, err := w.ids.NewID()
		if err != nil {
			log.Warn("event id generation failed", zap.Error(err))
		}
		event.EventID = id
	}
	msgID, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		log.Warn("publish enrichment event failed", zap.String("topic", w.cfg.Topic), zap.Error(err))
		return
	}
	log.Debug("enrichment event published", zap.String("topic", w.cfg.Topic), zap.String("message_id", msgID))
}

// truncate cuts s to at most n bytes without splitting a rune, and replaces
// any invalid UTF-8 so the reason always fits a TEXT column.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
