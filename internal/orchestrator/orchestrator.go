package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"oppscan/internal/domain"
	"oppscan/internal/monitoring"
	"oppscan/internal/runner"
)

// JobRunner drives one source to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, sessionID, actorID string, src domain.Source) runner.Result
}

// Progress initializes per-source records before any runner starts.
type Progress interface {
	Update(ctx context.Context, rec domain.ProgressRecord) error
}

// SessionStore records batch invocations.
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.ScrapeSession) error
}

// Orchestrator accepts a set of sources for one session and runs job
// runners over a bounded worker pool. It holds no retryable state itself
// (all retry logic lives in the runner), so it is safe to re-invoke for a
// fresh session id without interacting with a prior one.
type Orchestrator struct {
	runner   JobRunner
	progress Progress
	sessions SessionStore
	workers  int
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

func New(r JobRunner, p Progress, s SessionStore, workers int, m *monitoring.Metrics, logger *zap.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	return &Orchestrator{
		runner:   r,
		progress: p,
		sessions: s,
		workers:  workers,
		metrics:  m,
		logger:   logger,
	}
}

// StartBatch runs every source to completion and returns the aggregate
// summary. Full per-source detail stays in the progress channel. Sources
// may finish out of order; the summary is computed from collected results,
// never from the last source to finish.
func (o *Orchestrator) StartBatch(ctx context.Context, sessionID, actorID string, sources []domain.Source) (domain.SessionSummary, error) {
	start := time.Now()

	session := &domain.ScrapeSession{
		ID:        sessionID,
		CreatedAt: start,
		Sources:   sources,
	}
	if o.sessions != nil {
		if err := o.sessions.CreateSession(ctx, session); err != nil {
			return domain.SessionSummary{}, err
		}
	}

	// Every source gets its pending record before any runner starts, so a
	// subscriber sees the whole batch immediately.
	for _, src := range sources {
		rec := domain.ProgressRecord{
			SessionID:  sessionID,
			SourceName: src.Name,
			SourceURL:  src.URL,
			Status:     domain.StatusPending,
		}
		if err := o.progress.Update(ctx, rec); err != nil {
			o.logger.Error("failed to initialize progress record",
				zap.String("session_id", sessionID),
				zap.String("url", src.URL),
				zap.Error(err))
		}
	}

	jobs := make(chan domain.Source)
	results := make([]runner.Result, 0, len(sources))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range jobs {
				res := o.runner.Run(ctx, sessionID, actorID, src)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}

	for _, src := range sources {
		jobs <- src
	}
	close(jobs)
	wg.Wait()

	var summary domain.SessionSummary
	for _, res := range results {
		if res.Err != nil {
			summary.SourcesFailed++
		} else {
			summary.SourcesSucceeded++
		}
		summary.TotalOpportunitiesInserted += res.Inserted
	}

	o.metrics.ObserveBatchDuration(time.Since(start))
	o.logger.Info("batch finished",
		zap.String("session_id", sessionID),
		zap.Int("succeeded", summary.SourcesSucceeded),
		zap.Int("failed", summary.SourcesFailed),
		zap.Int("inserted", summary.TotalOpportunitiesInserted))
	return summary, nil
}
