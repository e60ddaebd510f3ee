package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"oppscan/internal/config"
	"oppscan/internal/domain"
	"oppscan/internal/progress"
	"oppscan/internal/ratelimit"
)

// BatchStarter runs a full scrape batch to completion.
type BatchStarter interface {
	StartBatch(ctx context.Context, sessionID, actorID string, sources []domain.Source) (domain.SessionSummary, error)
}

// SearchRunner runs the search-API ingest variant.
type SearchRunner interface {
	Run(ctx context.Context, req domain.SearchRequest) (domain.SearchSummary, error)
}

// ProgressReader serves snapshots and subscriptions over progress records.
type ProgressReader interface {
	Snapshot(ctx context.Context, sessionID string) ([]domain.ProgressRecord, bool, error)
	Subscribe(ctx context.Context, sessionID string) (<-chan progress.Event, func(), error)
}

// Pinger is a health-checkable dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	httpServer *http.Server
	batches    BatchStarter
	search     SearchRunner
	progress   ProgressReader
	limiter    ratelimit.Limiter
	pgStore    Pinger
	redisStore Pinger
	logger     *zap.Logger
}

func NewServer(cfg *config.Config, b BatchStarter, s SearchRunner, p ProgressReader, l ratelimit.Limiter, pg, rd Pinger, logger *zap.Logger) *Server {
	srv := &Server{
		config:     cfg,
		batches:    b,
		search:     s,
		progress:   p,
		limiter:    l,
		pgStore:    pg,
		redisStore: rd,
		logger:     logger,
	}
	srv.router = srv.setupRouter()
	return srv
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:     s.router,
		ReadTimeout: 10 * time.Second,
		// Long batches and SSE streams need an unbounded write window;
		// per-call deadlines live on the outbound clients instead.
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
