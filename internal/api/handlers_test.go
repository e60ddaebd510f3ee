package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"oppscan/internal/config"
	"oppscan/internal/domain"
	"oppscan/internal/progress"
	"oppscan/internal/ratelimit"
)

type fakeBatches struct {
	summary  domain.SessionSummary
	sessions []string
	ctx      context.Context
	onStart  func()
}

func (f *fakeBatches) StartBatch(ctx context.Context, sessionID, _ string, _ []domain.Source) (domain.SessionSummary, error) {
	f.ctx = ctx
	if f.onStart != nil {
		f.onStart()
	}
	f.sessions = append(f.sessions, sessionID)
	return f.summary, nil
}

type fakeSearch struct {
	summary domain.SearchSummary
	err     error
}

func (f *fakeSearch) Run(_ context.Context, req domain.SearchRequest) (domain.SearchSummary, error) {
	if req.DaysBack < 1 || req.DaysBack > 90 {
		return domain.SearchSummary{}, fmt.Errorf("%w: days_back out of range", domain.ErrInvalidRequest)
	}
	if f.err != nil {
		return domain.SearchSummary{}, f.err
	}
	return f.summary, nil
}

type fakeProgressReader struct {
	records []domain.ProgressRecord
	done    bool
}

func (f *fakeProgressReader) Snapshot(context.Context, string) ([]domain.ProgressRecord, bool, error) {
	return f.records, f.done, nil
}

func (f *fakeProgressReader) Subscribe(context.Context, string) (<-chan progress.Event, func(), error) {
	ch := make(chan progress.Event, len(f.records)+1)
	for _, rec := range f.records {
		ch <- progress.Event{Record: rec}
	}
	if f.done {
		ch <- progress.Event{Done: true}
	}
	return ch, func() {}, nil
}

type healthyPinger struct{}

func (healthyPinger) Ping(context.Context) error { return nil }

func newTestServer(batches *fakeBatches, search *fakeSearch, prog *fakeProgressReader) *Server {
	cfg := &config.Config{
		ServerPort:      "0",
		RateLimit:       5,
		RateWindowHours: 24,
	}
	return NewServer(cfg, batches, search, prog, ratelimit.NewMemory(), healthyPinger{}, healthyPinger{}, zap.NewNop())
}

func TestHandleScrapeBatch(t *testing.T) {
	t.Parallel()

	batches := &fakeBatches{summary: domain.SessionSummary{
		SourcesSucceeded:           2,
		SourcesFailed:              1,
		TotalOpportunitiesInserted: 7,
	}}
	srv := newTestServer(batches, &fakeSearch{}, &fakeProgressReader{})

	body := `{"actor_id":"user-1","sources":[{"url":"https://a.gov","name":"a","kind":"local"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/scrape", strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp BatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID == "" {
		t.Error("session_id not generated")
	}
	if resp.TotalOpportunitiesInserted != 7 {
		t.Errorf("total = %d, want 7", resp.TotalOpportunitiesInserted)
	}
}

func TestHandleScrapeBatchValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeBatches{}, &fakeSearch{}, &fakeProgressReader{})

	for _, body := range []string{
		`{"actor_id":"u","sources":[]}`,
		`{"sources":[{"url":"https://a.gov","name":"a"}]}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/scrape", strings.NewReader(body))
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestHandleScrapeBatchRateLimited(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeBatches{}, &fakeSearch{}, &fakeProgressReader{})
	body := `{"actor_id":"greedy","sources":[{"url":"https://a.gov","name":"a"}]}`

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/scrape", strings.NewReader(body))
		last = httptest.NewRecorder()
		srv.Handler().ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("6th call status = %d, want 429", last.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(last.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["error"] != "rate_limited" {
		t.Fatalf("error = %q, want distinguishable rate_limited", resp["error"])
	}
}

func TestHandleScrapeBatchOutlivesRequest(t *testing.T) {
	t.Parallel()

	// The caller disconnecting mid-batch must not cancel the batch: runners
	// and their terminal progress writes run to completion regardless.
	reqCtx, disconnect := context.WithCancel(context.Background())
	batches := &fakeBatches{onStart: disconnect}
	srv := newTestServer(batches, &fakeSearch{}, &fakeProgressReader{})

	body := `{"actor_id":"u","sources":[{"url":"https://a.gov","name":"a"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/scrape", strings.NewReader(body)).WithContext(reqCtx)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if batches.ctx == nil {
		t.Fatal("batch never started")
	}
	if err := batches.ctx.Err(); err != nil {
		t.Fatalf("batch context canceled with the request: %v", err)
	}
}

func TestHandleSearch(t *testing.T) {
	t.Parallel()

	search := &fakeSearch{summary: domain.SearchSummary{Fetched: 10, Classified: 4, Inserted: 3, Skipped: 6}}
	srv := newTestServer(&fakeBatches{}, search, &fakeProgressReader{})

	body := `{"actor_id":"u","days_back":14,"source_type":"all"}`
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var resp domain.SearchSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp != search.summary {
		t.Fatalf("summary = %+v", resp)
	}
}

func TestHandleSearchStatusMapping(t *testing.T) {
	t.Parallel()

	// A request the service rejects up front is the caller's fault.
	srv := newTestServer(&fakeBatches{}, &fakeSearch{}, &fakeProgressReader{})
	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"actor_id":"u","days_back":365,"source_type":"all"}`))
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid request status = %d, want 400", rr.Code)
	}

	// An upstream outage is not.
	srv = newTestServer(&fakeBatches{}, &fakeSearch{err: errors.New("search api: status 500 Internal Server Error")}, &fakeProgressReader{})
	req = httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{"actor_id":"u","days_back":14,"source_type":"all"}`))
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("upstream failure status = %d, want 502", rr.Code)
	}
}

func TestHandleProgressSnapshot(t *testing.T) {
	t.Parallel()

	now := time.Now()
	prog := &fakeProgressReader{
		records: []domain.ProgressRecord{
			{SessionID: "s1", SourceName: "a", SourceURL: "https://a.gov", Status: domain.StatusCompleted, OpportunitiesFound: 2, CompletedAt: &now},
		},
		done: true,
	}
	srv := newTestServer(&fakeBatches{}, &fakeSearch{}, prog)

	req := httptest.NewRequest(http.MethodGet, "/api/progress?session_id=s1", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp ProgressSnapshotResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Done || len(resp.Records) != 1 {
		t.Fatalf("resp = %+v", resp)
	}

	// Missing session_id is a client error.
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/progress", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status without session_id = %d, want 400", rr.Code)
	}
}

func TestHandleProgressStream(t *testing.T) {
	t.Parallel()

	prog := &fakeProgressReader{
		records: []domain.ProgressRecord{
			{SessionID: "s1", SourceName: "a", SourceURL: "https://a.gov", Status: domain.StatusCompleted, OpportunitiesFound: 3},
		},
		done: true,
	}
	srv := newTestServer(&fakeBatches{}, &fakeSearch{}, prog)

	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/progress/stream?session_id=s1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	var events []progress.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev progress.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatal(err)
		}
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want snapshot + done", len(events))
	}
	if events[0].Record.OpportunitiesFound != 3 || !events[1].Done {
		t.Fatalf("events = %+v", events)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&fakeBatches{}, &fakeSearch{}, &fakeProgressReader{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}
