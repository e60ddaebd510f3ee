package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"oppscan/internal/domain"
	"oppscan/internal/monitoring"
)

// Fetcher retrieves and text-extracts one source.
type Fetcher interface {
	FetchText(ctx context.Context, src domain.Source) (string, error)
}

// Classifier turns source text into candidate records.
type Classifier interface {
	Extract(ctx context.Context, content string, hints domain.ClassifyHints) ([]domain.Candidate, error)
}

// Writer persists one accepted candidate.
type Writer interface {
	Insert(ctx context.Context, cand domain.Candidate, src domain.Source) error
}

// Limiter gates scrape attempts per actor.
type Limiter interface {
	Allow(ctx context.Context, actorID, action string, limit int, window time.Duration) bool
}

// Progress receives every state transition.
type Progress interface {
	Update(ctx context.Context, rec domain.ProgressRecord) error
}

// Deduper marks source URLs as recently scraped. Optional.
type Deduper interface {
	RecentlyScraped(ctx context.Context, url string) (bool, error)
	MarkScraped(ctx context.Context, url string, ttl time.Duration) error
}

// Policy is the retry and rate budget applied to every source.
type Policy struct {
	MaxRetries int
	Backoff    time.Duration
	RateLimit  int
	RateWindow time.Duration
	ScrapeTTL  time.Duration
}

// Result is one source's outcome, aggregated by the orchestrator.
type Result struct {
	Source   domain.Source
	Inserted int
	Err      error
}

// Runner drives a single source through its lifecycle:
// pending -> in_progress -> {completed, failed}, with
// failed -> retrying -> in_progress loops bounded by Policy.MaxRetries.
// Every transition is reflected in the progress channel; that is the only
// way observers learn of state changes.
type Runner struct {
	fetcher    Fetcher
	classifier Classifier
	writer     Writer
	limiter    Limiter
	progress   Progress
	deduper    Deduper
	policy     Policy
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

func New(f Fetcher, c Classifier, w Writer, l Limiter, p Progress, d Deduper, policy Policy, m *monitoring.Metrics, logger *zap.Logger) *Runner {
	return &Runner{
		fetcher:    f,
		classifier: c,
		writer:     w,
		limiter:    l,
		progress:   p,
		deduper:    d,
		policy:     policy,
		metrics:    m,
		logger:     logger,
	}
}

// Run processes one source to a terminal state. It never returns an
// unhandled fault; every failure mode ends up as progress-record data and
// a Result error for aggregation.
func (r *Runner) Run(ctx context.Context, sessionID, actorID string, src domain.Source) Result {
	rec := domain.ProgressRecord{
		SessionID:  sessionID,
		SourceName: src.Name,
		SourceURL:  src.URL,
		Status:     domain.StatusPending,
	}
	r.update(ctx, rec)

	// The observer must see the record even if the source is rejected for
	// quota reasons, so in_progress precedes the limiter check.
	started := time.Now()
	rec.StartedAt = &started
	rec.Status = domain.StatusInProgress
	r.update(ctx, rec)

	if !r.limiter.Allow(ctx, actorID, "scrape", r.policy.RateLimit, r.policy.RateWindow) {
		return r.fail(ctx, rec, src, domain.ErrRateLimited)
	}

	if r.deduper != nil {
		if recently, err := r.deduper.RecentlyScraped(ctx, src.URL); err == nil && recently {
			r.logger.Info("skipping recently scraped source", zap.String("url", src.URL))
			return r.complete(ctx, rec, src, 0, "recently scraped, skipped")
		}
	}

	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		inserted, err := r.attempt(ctx, &rec, src)
		if err == nil {
			if r.deduper != nil {
				if err := r.deduper.MarkScraped(ctx, src.URL, r.policy.ScrapeTTL); err != nil {
					r.logger.Warn("failed to mark source as scraped", zap.String("url", src.URL), zap.Error(err))
				}
			}
			return r.complete(ctx, rec, src, inserted, "")
		}

		lastErr = err
		r.metrics.IncErrorsTotal(errType(err))
		r.logger.Warn("source attempt failed",
			zap.String("url", src.URL),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if !domain.Retryable(err) || attempt == r.policy.MaxRetries {
			break
		}

		rec.Status = domain.StatusRetrying
		rec.RetryCount = attempt + 1
		rec.ErrorMessage = err.Error()
		r.update(ctx, rec)

		select {
		case <-time.After(r.policy.Backoff):
		case <-ctx.Done():
			return r.fail(ctx, rec, src, lastErr)
		}

		rec.Status = domain.StatusInProgress
		r.update(ctx, rec)
	}
	return r.fail(ctx, rec, src, lastErr)
}

// attempt runs one fetch -> classify -> write pass. Individual candidate
// failures never abort the pass; only a total write wipe-out fails it.
func (r *Runner) attempt(ctx context.Context, rec *domain.ProgressRecord, src domain.Source) (int, error) {
	text, err := r.fetcher.FetchText(ctx, src)
	if err != nil {
		return 0, err
	}

	candidates, err := r.classifier.Extract(ctx, text, domain.ClassifyHints{
		SourceName: src.Name,
		SourceURL:  src.URL,
		Kind:       src.Kind,
	})
	if err != nil {
		return 0, err
	}

	inserted, failed := 0, 0
	for _, cand := range candidates {
		err := r.writer.Insert(ctx, cand, src)
		switch {
		case err == nil:
			inserted++
			rec.OpportunitiesFound = inserted
			r.update(ctx, *rec)
		case errors.Is(err, domain.ErrDuplicate):
			r.logger.Debug("duplicate opportunity skipped",
				zap.String("url", src.URL), zap.String("title", cand.Title))
		default:
			failed++
			r.metrics.IncErrorsTotal(errType(err))
			r.logger.Warn("candidate rejected",
				zap.String("url", src.URL),
				zap.String("title", cand.Title),
				zap.Error(err))
		}
	}

	if failed > 0 && failed == len(candidates) {
		return inserted, fmt.Errorf("%w: all %d candidates failed", domain.ErrWriteFailed, failed)
	}
	return inserted, nil
}

func (r *Runner) complete(ctx context.Context, rec domain.ProgressRecord, src domain.Source, inserted int, note string) Result {
	done := time.Now()
	rec.Status = domain.StatusCompleted
	rec.OpportunitiesFound = inserted
	rec.ErrorMessage = note
	rec.CompletedAt = &done
	r.update(ctx, rec)

	r.metrics.IncSourcesProcessed("completed")
	r.metrics.AddOpportunitiesInserted(inserted)
	r.logger.Info("source completed",
		zap.String("url", src.URL),
		zap.Int("opportunities", inserted))
	return Result{Source: src, Inserted: inserted}
}

func (r *Runner) fail(ctx context.Context, rec domain.ProgressRecord, src domain.Source, cause error) Result {
	done := time.Now()
	rec.Status = domain.StatusFailed
	rec.ErrorMessage = cause.Error()
	rec.CompletedAt = &done
	r.update(ctx, rec)

	r.metrics.IncSourcesProcessed("failed")
	r.logger.Warn("source failed", zap.String("url", src.URL), zap.Error(cause))
	return Result{Source: src, Inserted: rec.OpportunitiesFound, Err: cause}
}

func (r *Runner) update(ctx context.Context, rec domain.ProgressRecord) {
	if err := r.progress.Update(ctx, rec); err != nil {
		r.logger.Error("failed to update progress record",
			zap.String("session_id", rec.SessionID),
			zap.String("url", rec.SourceURL),
			zap.Error(err))
	}
}

func errType(err error) string {
	var fe *domain.FetchError
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrUntrustedSource):
		return "untrusted_source"
	case errors.As(err, &fe):
		if fe.Timeout {
			return "timeout"
		}
		return "fetch_failed"
	case errors.Is(err, domain.ErrClassificationFailed):
		return "classification_failed"
	case errors.As(err, &ve):
		return "candidate_invalid"
	case errors.Is(err, domain.ErrWriteFailed):
		return "write_failed"
	default:
		return "unknown"
	}
}
