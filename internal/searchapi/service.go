package searchapi

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"oppscan/internal/domain"
	"oppscan/internal/monitoring"
)

// Searcher fetches notices from the search API.
type Searcher interface {
	Search(ctx context.Context, daysBack int, keywords, sourceType string) ([]Notice, error)
}

// Classifier provides the relevance gate and structural extraction. For
// this source variant relevance is a separate preceding call per notice;
// only relevant notices go through extraction.
type Classifier interface {
	Relevant(ctx context.Context, content string) (bool, error)
	Extract(ctx context.Context, content string, hints domain.ClassifyHints) ([]domain.Candidate, error)
}

// Writer persists accepted candidates.
type Writer interface {
	Insert(ctx context.Context, cand domain.Candidate, src domain.Source) error
}

// DedupStore checks for already-ingested notices.
type DedupStore interface {
	OpportunityExists(ctx context.Context, sourceURL, title string) (bool, error)
}

// Service drives the search-API source variant: fetch notices, gate each
// by relevance, extract and persist the relevant ones.
type Service struct {
	search     Searcher
	classifier Classifier
	writer     Writer
	store      DedupStore
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

func NewService(s Searcher, c Classifier, w Writer, d DedupStore, m *monitoring.Metrics, logger *zap.Logger) *Service {
	return &Service{
		search:     s,
		classifier: c,
		writer:     w,
		store:      d,
		metrics:    m,
		logger:     logger,
	}
}

// Validate bounds the request before any external call. Failures wrap
// domain.ErrInvalidRequest so callers can tell them apart from upstream
// outages.
func Validate(req domain.SearchRequest) error {
	if req.DaysBack < 1 || req.DaysBack > 90 {
		return fmt.Errorf("%w: days_back must be within 1..90, got %d", domain.ErrInvalidRequest, req.DaysBack)
	}
	if len(req.SearchKeywords) > 500 {
		return fmt.Errorf("%w: search_keywords exceeds 500 characters", domain.ErrInvalidRequest)
	}
	switch req.SourceType {
	case "primary", "secondary", "all":
		return nil
	default:
		return fmt.Errorf("%w: source_type must be primary, secondary, or all, got %q", domain.ErrInvalidRequest, req.SourceType)
	}
}

// Run executes one search ingest and returns its counts. Per-notice
// failures reduce the counts but never abort the run.
func (s *Service) Run(ctx context.Context, req domain.SearchRequest) (domain.SearchSummary, error) {
	if err := Validate(req); err != nil {
		return domain.SearchSummary{}, err
	}

	notices, err := s.search.Search(ctx, req.DaysBack, req.SearchKeywords, req.SourceType)
	if err != nil {
		return domain.SearchSummary{}, err
	}

	summary := domain.SearchSummary{Fetched: len(notices)}
	for _, notice := range notices {
		inserted, classified := s.ingest(ctx, notice)
		if classified {
			summary.Classified++
		}
		summary.Inserted += inserted
	}
	summary.Skipped = summary.Fetched - summary.Classified

	s.metrics.AddOpportunitiesInserted(summary.Inserted)
	s.logger.Info("search ingest finished",
		zap.Int("fetched", summary.Fetched),
		zap.Int("classified", summary.Classified),
		zap.Int("inserted", summary.Inserted),
		zap.Int("skipped", summary.Skipped))
	return summary, nil
}

func (s *Service) ingest(ctx context.Context, notice Notice) (inserted int, classified bool) {
	src := domain.Source{
		URL:  notice.Link,
		Name: "search-api",
		Kind: domain.SourceGlobal,
	}

	if s.store != nil {
		exists, err := s.store.OpportunityExists(ctx, notice.Link, notice.Title)
		if err != nil {
			s.logger.Warn("dedup check failed", zap.String("notice", notice.NoticeID), zap.Error(err))
		} else if exists {
			return 0, false
		}
	}

	text := noticeText(notice)

	relevant, err := s.classifier.Relevant(ctx, text)
	if err != nil {
		s.metrics.IncErrorsTotal("classification_failed")
		s.logger.Warn("relevance check failed", zap.String("notice", notice.NoticeID), zap.Error(err))
		return 0, false
	}
	if !relevant {
		return 0, false
	}

	candidates, err := s.classifier.Extract(ctx, text, domain.ClassifyHints{
		SourceName: src.Name,
		SourceURL:  src.URL,
		Kind:       src.Kind,
	})
	if err != nil {
		s.metrics.IncErrorsTotal("classification_failed")
		s.logger.Warn("extraction failed", zap.String("notice", notice.NoticeID), zap.Error(err))
		return 0, true
	}

	for _, cand := range candidates {
		err := s.writer.Insert(ctx, cand, src)
		switch {
		case err == nil:
			inserted++
		case errors.Is(err, domain.ErrDuplicate):
		default:
			s.metrics.IncErrorsTotal("write_failed")
			s.logger.Warn("candidate insert failed",
				zap.String("notice", notice.NoticeID),
				zap.String("title", cand.Title),
				zap.Error(err))
		}
	}
	return inserted, true
}

func noticeText(n Notice) string {
	return fmt.Sprintf("Title: %s\nAgency: %s\nType: %s\nPosted: %s\nResponse deadline: %s\nState: %s\n\n%s",
		n.Title, n.Agency, n.NoticeType, n.PostedDate, n.ResponseDeadline, n.State, n.Description)
}
