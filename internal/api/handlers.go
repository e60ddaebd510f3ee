package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"oppscan/internal/domain"
)

// BatchRequest is the payload for starting a scrape batch.
type BatchRequest struct {
	SessionID string          `json:"session_id"`
	ActorID   string          `json:"actor_id"`
	Sources   []domain.Source `json:"sources"`
}

// BatchResponse echoes the session id alongside the aggregate summary so
// the caller can subscribe to progress.
type BatchResponse struct {
	SessionID string `json:"session_id"`
	domain.SessionSummary
}

func (s *Server) handleScrapeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Sources) == 0 {
		s.respondWithError(w, http.StatusBadRequest, "Sources list cannot be empty")
		return
	}
	if req.ActorID == "" {
		s.respondWithError(w, http.StatusBadRequest, "actor_id is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	// The batch outlives the request: a client that disconnects stops
	// observing, it does not cancel in-flight runners or their terminal
	// progress writes.
	ctx := context.WithoutCancel(r.Context())

	if !s.limiter.Allow(ctx, req.ActorID, "batch_start", s.config.RateLimit, s.config.RateWindow()) {
		s.respondRateLimited(w)
		return
	}

	summary, err := s.batches.StartBatch(ctx, req.SessionID, req.ActorID, req.Sources)
	if err != nil {
		s.logger.Error("batch failed to start", zap.String("session_id", req.SessionID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not start batch")
		return
	}

	s.respondWithJSON(w, http.StatusOK, BatchResponse{
		SessionID:      req.SessionID,
		SessionSummary: summary,
	})
}

// SearchBatchRequest is the search-API source variant payload.
type SearchBatchRequest struct {
	ActorID string `json:"actor_id"`
	domain.SearchRequest
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ActorID == "" {
		s.respondWithError(w, http.StatusBadRequest, "actor_id is required")
		return
	}

	// Same lifecycle rule as scrape batches: the ingest runs to its
	// terminal state even if the caller goes away.
	ctx := context.WithoutCancel(r.Context())

	if !s.limiter.Allow(ctx, req.ActorID, "batch_start", s.config.RateLimit, s.config.RateWindow()) {
		s.respondRateLimited(w)
		return
	}

	summary, err := s.search.Run(ctx, req.SearchRequest)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			s.respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search ingest failed", zap.Error(err))
		s.respondWithError(w, http.StatusBadGateway, "Search provider unavailable")
		return
	}
	s.respondWithJSON(w, http.StatusOK, summary)
}

// ProgressSnapshotResponse is the non-streaming progress view.
type ProgressSnapshotResponse struct {
	SessionID string                  `json:"session_id"`
	Records   []domain.ProgressRecord `json:"records"`
	Done      bool                    `json:"done"`
}

func (s *Server) handleProgressSnapshot(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.respondWithError(w, http.StatusBadRequest, "session_id query parameter is required")
		return
	}

	records, done, err := s.progress.Snapshot(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("failed to load progress", zap.String("session_id", sessionID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not load progress")
		return
	}

	s.respondWithJSON(w, http.StatusOK, ProgressSnapshotResponse{
		SessionID: sessionID,
		Records:   records,
		Done:      done,
	})
}

// handleProgressStream serves the subscription contract over SSE: the
// full current snapshot first, then deltas, closing after the terminal
// completion event.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.respondWithError(w, http.StatusBadRequest, "session_id query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondWithError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	events, cancel, err := s.progress.Subscribe(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("failed to subscribe", zap.String("session_id", sessionID), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not subscribe")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to marshal progress event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			if ev.Done {
				return
			}
		}
	}
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)

	if err := s.pgStore.Ping(ctx); err != nil {
		healthStatus["postgres"] = "unhealthy"
		s.logger.Error("health check failed for postgres", zap.Error(err))
	} else {
		healthStatus["postgres"] = "healthy"
	}

	if err := s.redisStore.Ping(ctx); err != nil {
		healthStatus["redis"] = "unhealthy"
		s.logger.Error("health check failed for redis", zap.Error(err))
	} else {
		healthStatus["redis"] = "healthy"
	}

	if healthStatus["postgres"] != "healthy" || healthStatus["redis"] != "healthy" {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) respondRateLimited(w http.ResponseWriter) {
	s.respondWithJSON(w, http.StatusTooManyRequests, map[string]string{
		"error":   "rate_limited",
		"message": fmt.Sprintf("scrape budget exhausted; try again after the %dh window", s.config.RateWindowHours),
	})
}

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
