package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"oppscan/internal/domain"
)

type fakeFetcher struct {
	text  string
	err   error
	calls int
}

func (f *fakeFetcher) FetchText(context.Context, domain.Source) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeClassifier struct {
	candidates []domain.Candidate
	err        error
}

func (f *fakeClassifier) Extract(context.Context, string, domain.ClassifyHints) ([]domain.Candidate, error) {
	return f.candidates, f.err
}

type fakeWriter struct {
	errByTitle map[string]error
	inserted   []string
}

func (f *fakeWriter) Insert(_ context.Context, cand domain.Candidate, _ domain.Source) error {
	if err := f.errByTitle[cand.Title]; err != nil {
		return err
	}
	f.inserted = append(f.inserted, cand.Title)
	return nil
}

type fakeLimiter struct{ allow bool }

func (f *fakeLimiter) Allow(context.Context, string, string, int, time.Duration) bool {
	return f.allow
}

type fakeProgress struct {
	updates []domain.ProgressRecord
}

func (f *fakeProgress) Update(_ context.Context, rec domain.ProgressRecord) error {
	f.updates = append(f.updates, rec)
	return nil
}

func (f *fakeProgress) statuses() []domain.ProgressStatus {
	out := make([]domain.ProgressStatus, len(f.updates))
	for i, u := range f.updates {
		out[i] = u.Status
	}
	return out
}

func (f *fakeProgress) last() domain.ProgressRecord {
	return f.updates[len(f.updates)-1]
}

func statusEq(got, want []domain.ProgressStatus) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func candidate(title string) domain.Candidate {
	return domain.Candidate{Title: title, Agency: "A", ProposalDue: "2026-10-01"}
}

func newTestRunner(f Fetcher, c Classifier, w Writer, l Limiter, p Progress, maxRetries int) *Runner {
	policy := Policy{
		MaxRetries: maxRetries,
		Backoff:    0,
		RateLimit:  100,
		RateWindow: time.Hour,
	}
	return New(f, c, w, l, p, nil, policy, nil, zap.NewNop())
}

func TestRunSuccess(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{text: "page"}
	classify := &fakeClassifier{candidates: []domain.Candidate{candidate("A"), candidate("B")}}
	write := &fakeWriter{}
	prog := &fakeProgress{}

	r := newTestRunner(fetch, classify, write, &fakeLimiter{allow: true}, prog, 2)
	res := r.Run(context.Background(), "s1", "actor", domain.Source{URL: "https://a.gov", Name: "a"})

	if res.Err != nil {
		t.Fatalf("Run returned error: %v", res.Err)
	}
	if res.Inserted != 2 {
		t.Fatalf("inserted = %d, want 2", res.Inserted)
	}

	want := []domain.ProgressStatus{
		domain.StatusPending, domain.StatusInProgress,
		domain.StatusInProgress, domain.StatusInProgress, // live count updates
		domain.StatusCompleted,
	}
	if !statusEq(prog.statuses(), want) {
		t.Fatalf("status sequence = %v, want %v", prog.statuses(), want)
	}
	last := prog.last()
	if last.OpportunitiesFound != 2 {
		t.Errorf("opportunities_found = %d, want 2", last.OpportunitiesFound)
	}
	if last.StartedAt == nil || last.CompletedAt == nil {
		t.Error("started_at/completed_at not set on completion")
	}
}

func TestRunRateLimited(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{text: "page"}
	prog := &fakeProgress{}
	r := newTestRunner(fetch, &fakeClassifier{}, &fakeWriter{}, &fakeLimiter{allow: false}, prog, 2)

	res := r.Run(context.Background(), "s1", "actor", domain.Source{URL: "https://a.gov", Name: "a"})
	if !errors.Is(res.Err, domain.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", res.Err)
	}
	if fetch.calls != 0 {
		t.Fatal("fetch attempted despite rate-limit denial")
	}

	want := []domain.ProgressStatus{domain.StatusPending, domain.StatusInProgress, domain.StatusFailed}
	if !statusEq(prog.statuses(), want) {
		t.Fatalf("status sequence = %v, want %v (no retry for rate limit)", prog.statuses(), want)
	}
	if prog.last().ErrorMessage != "rate limit exceeded" {
		t.Errorf("error message = %q", prog.last().ErrorMessage)
	}
}

func TestRunUntrustedSourceNoRetry(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{err: domain.ErrUntrustedSource}
	prog := &fakeProgress{}
	r := newTestRunner(fetch, &fakeClassifier{}, &fakeWriter{}, &fakeLimiter{allow: true}, prog, 3)

	res := r.Run(context.Background(), "s1", "actor", domain.Source{URL: "https://evil.example.com", Name: "x"})
	if !errors.Is(res.Err, domain.ErrUntrustedSource) {
		t.Fatalf("err = %v, want ErrUntrustedSource", res.Err)
	}
	if fetch.calls != 1 {
		t.Fatalf("fetch called %d times, want 1 (retrying cannot help)", fetch.calls)
	}
	if prog.last().RetryCount != 0 {
		t.Fatalf("retry_count = %d, want 0", prog.last().RetryCount)
	}
}

func TestRunRetryExhaustion(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{err: &domain.FetchError{URL: "https://a.gov", Timeout: true}}
	prog := &fakeProgress{}
	r := newTestRunner(fetch, &fakeClassifier{}, &fakeWriter{}, &fakeLimiter{allow: true}, prog, 2)

	res := r.Run(context.Background(), "s1", "actor", domain.Source{URL: "https://a.gov", Name: "a"})
	if res.Err == nil {
		t.Fatal("Run succeeded, want terminal failure")
	}

	want := []domain.ProgressStatus{
		domain.StatusPending, domain.StatusInProgress,
		domain.StatusRetrying, domain.StatusInProgress,
		domain.StatusRetrying, domain.StatusInProgress,
		domain.StatusFailed,
	}
	if !statusEq(prog.statuses(), want) {
		t.Fatalf("status sequence = %v, want %v", prog.statuses(), want)
	}
	if prog.last().RetryCount != 2 {
		t.Fatalf("retry_count = %d, want 2 at termination", prog.last().RetryCount)
	}
	if fetch.calls != 3 {
		t.Fatalf("fetch called %d times, want 3 attempts", fetch.calls)
	}
}

func TestRunCandidateRejectionPartialSuccess(t *testing.T) {
	t.Parallel()

	classify := &fakeClassifier{candidates: []domain.Candidate{candidate("good"), candidate("bad")}}
	write := &fakeWriter{errByTitle: map[string]error{
		"bad": &domain.ValidationError{Field: "proposal_due", Reason: "missing"},
	}}
	prog := &fakeProgress{}
	r := newTestRunner(&fakeFetcher{text: "page"}, classify, write, &fakeLimiter{allow: true}, prog, 2)

	res := r.Run(context.Background(), "s1", "actor", domain.Source{URL: "https://a.gov", Name: "a"})
	if res.Err != nil {
		t.Fatalf("candidate rejection aborted the source: %v", res.Err)
	}
	if res.Inserted != 1 {
		t.Fatalf("inserted = %d, want 1", res.Inserted)
	}
	if prog.last().Status != domain.StatusCompleted || prog.last().OpportunitiesFound != 1 {
		t.Fatalf("final record = %+v", prog.last())
	}
}

func TestRunDuplicatesDoNotFailSource(t *testing.T) {
	t.Parallel()

	classify := &fakeClassifier{candidates: []domain.Candidate{candidate("seen"), candidate("new")}}
	write := &fakeWriter{errByTitle: map[string]error{"seen": domain.ErrDuplicate}}
	prog := &fakeProgress{}
	r := newTestRunner(&fakeFetcher{text: "page"}, classify, write, &fakeLimiter{allow: true}, prog, 0)

	res := r.Run(context.Background(), "s1", "actor", domain.Source{URL: "https://a.gov", Name: "a"})
	if res.Err != nil {
		t.Fatalf("duplicate failed the source: %v", res.Err)
	}
	if res.Inserted != 1 {
		t.Fatalf("inserted = %d, want 1", res.Inserted)
	}
}

func TestRunAllCandidatesFailingFailsSource(t *testing.T) {
	t.Parallel()

	classify := &fakeClassifier{candidates: []domain.Candidate{candidate("x"), candidate("y")}}
	write := &fakeWriter{errByTitle: map[string]error{
		"x": domain.ErrWriteFailed,
		"y": domain.ErrWriteFailed,
	}}
	prog := &fakeProgress{}
	r := newTestRunner(&fakeFetcher{text: "page"}, classify, write, &fakeLimiter{allow: true}, prog, 0)

	res := r.Run(context.Background(), "s1", "actor", domain.Source{URL: "https://a.gov", Name: "a"})
	if !errors.Is(res.Err, domain.ErrWriteFailed) {
		t.Fatalf("err = %v, want ErrWriteFailed when every candidate fails", res.Err)
	}
	if prog.last().Status != domain.StatusFailed {
		t.Fatalf("final status = %s, want failed", prog.last().Status)
	}
}

type fakeDeduper struct {
	recent bool
	marked []string
}

func (f *fakeDeduper) RecentlyScraped(context.Context, string) (bool, error) {
	return f.recent, nil
}

func (f *fakeDeduper) MarkScraped(_ context.Context, url string, _ time.Duration) error {
	f.marked = append(f.marked, url)
	return nil
}

func TestRunSkipsRecentlyScraped(t *testing.T) {
	t.Parallel()

	fetch := &fakeFetcher{text: "page"}
	prog := &fakeProgress{}
	policy := Policy{MaxRetries: 1, RateLimit: 100, RateWindow: time.Hour}
	r := New(fetch, &fakeClassifier{}, &fakeWriter{}, &fakeLimiter{allow: true}, prog,
		&fakeDeduper{recent: true}, policy, nil, zap.NewNop())

	res := r.Run(context.Background(), "s1", "actor", domain.Source{URL: "https://a.gov", Name: "a"})
	if res.Err != nil || res.Inserted != 0 {
		t.Fatalf("skip result = %+v", res)
	}
	if fetch.calls != 0 {
		t.Fatal("fetch attempted for recently scraped source")
	}
	if prog.last().Status != domain.StatusCompleted {
		t.Fatalf("final status = %s, want completed", prog.last().Status)
	}
}
