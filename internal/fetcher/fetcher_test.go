package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"oppscan/internal/config"
	"oppscan/internal/domain"
)

func newTestFetcher(extraHosts string) *Fetcher {
	cfg := &config.Config{
		FetchTimeout:      5,
		ExtraAllowedHosts: extraHosts,
	}
	return New(cfg, zap.NewNop())
}

func TestCheckURLAllowList(t *testing.T) {
	t.Parallel()

	f := newTestFetcher("")

	cases := []struct {
		url     string
		allowed bool
	}{
		{"https://sam.gov/opportunities", true},
		{"https://www.cityofmadison.gov/bids", true},
		{"https://procurement.tx.us/posted", true},
		{"https://www.demandstar.com/buyer/bids", true},
		{"http://sam.gov/opportunities", false},
		{"https://evil.example.com/bids", false},
		{"ftp://sam.gov/files", false},
		{"https://", false},
	}

	for _, tc := range cases {
		err := f.CheckURL(tc.url)
		if tc.allowed && err != nil {
			t.Errorf("CheckURL(%q) = %v, want nil", tc.url, err)
		}
		if !tc.allowed {
			if err == nil {
				t.Errorf("CheckURL(%q) = nil, want untrusted-source error", tc.url)
			} else if !errors.Is(err, domain.ErrUntrustedSource) {
				t.Errorf("CheckURL(%q) = %v, want ErrUntrustedSource", tc.url, err)
			}
		}
	}
}

func TestFetchRejectsBeforeDialing(t *testing.T) {
	t.Parallel()

	dialed := false
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialed = true
	}))
	defer server.Close()

	// The server host is deliberately not on the allow-list.
	f := newTestFetcher("")
	f.client = server.Client()

	_, err := f.Fetch(context.Background(), server.URL)
	if !errors.Is(err, domain.ErrUntrustedSource) {
		t.Fatalf("Fetch = %v, want ErrUntrustedSource", err)
	}
	if dialed {
		t.Fatal("outbound request was issued for an untrusted URL")
	}
}

func TestFetchSuccessAndHTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("<html><body>Open Solicitations</body></html>"))
	}))
	defer server.Close()

	f := newTestFetcher("127.0.0.1")
	f.client = server.Client()

	body, err := f.Fetch(context.Background(), server.URL+"/bids")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if !strings.Contains(string(body), "Open Solicitations") {
		t.Fatalf("unexpected body: %s", body)
	}

	_, err = f.Fetch(context.Background(), server.URL+"/missing")
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("Fetch = %v, want FetchError", err)
	}
	if fe.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", fe.StatusCode)
	}
}

func TestFetchTextExtractsContent(t *testing.T) {
	t.Parallel()

	page := `<html><head><title>City Procurement</title>
	<script>var tracker = 1;</script></head>
	<body><h1>Current Bids</h1>
	<p>RFP 2026-14: Ambulance remount services.</p>
	<style>.x{color:red}</style></body></html>`

	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer server.Close()

	f := newTestFetcher("127.0.0.1")
	f.client = server.Client()

	text, err := f.FetchText(context.Background(), domain.Source{URL: server.URL, Name: "city", Kind: domain.SourceLocal})
	if err != nil {
		t.Fatalf("FetchText returned error: %v", err)
	}
	for _, want := range []string{"City Procurement", "Current Bids", "Ambulance remount"} {
		if !strings.Contains(text, want) {
			t.Errorf("extracted text missing %q:\n%s", want, text)
		}
	}
	for _, reject := range []string{"tracker", "color:red"} {
		if strings.Contains(text, reject) {
			t.Errorf("extracted text contains script/style remnant %q", reject)
		}
	}
}

func TestExtractTextNonHTML(t *testing.T) {
	t.Parallel()

	raw := `{"notices": []}`
	if got := ExtractText([]byte(raw)); got != raw {
		t.Fatalf("ExtractText(%q) = %q, want passthrough", raw, got)
	}
}
