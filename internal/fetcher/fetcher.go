package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"oppscan/internal/config"
	"oppscan/internal/domain"
)

const (
	maxBodyBytes = 2 << 20 // pages beyond 2MB are truncated
	userAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Trusted suffixes: any government host qualifies by suffix match.
var trustedSuffixes = []string{".gov", ".mil", ".us"}

// Known procurement platforms allowed by exact host.
var trustedHosts = map[string]struct{}{
	"sam.gov":               {},
	"demandstar.com":        {},
	"www.demandstar.com":    {},
	"bidnetdirect.com":      {},
	"www.bidnetdirect.com":  {},
	"publicpurchase.com":    {},
	"www.publicpurchase.com": {},
	"bonfirehub.com":        {},
	"gobonfire.com":         {},
	"ionwave.net":           {},
	"opengov.com":           {},
}

// Fetcher retrieves raw content for source URLs over HTTPS, enforcing the
// domain allow-list before any network call is issued. Retries are the job
// runner's responsibility, not this layer's.
type Fetcher struct {
	client      *http.Client
	extraHosts  map[string]struct{}
	renderHosts map[string]struct{}
	renderer    *Renderer
	logger      *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout: cfg.FetchTimeoutDuration(),
		},
		extraHosts:  splitHosts(cfg.ExtraAllowedHosts),
		renderHosts: splitHosts(cfg.RenderHosts),
		logger:      logger,
	}
	if len(f.renderHosts) > 0 {
		f.renderer = NewRenderer(cfg.FetchTimeoutDuration())
	}
	return f
}

func splitHosts(s string) map[string]struct{} {
	hosts := make(map[string]struct{})
	for _, h := range strings.Split(s, ",") {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts[h] = struct{}{}
		}
	}
	return hosts
}

// CheckURL enforces the security boundary: HTTPS only, host on the
// allow-list. It must pass before any outbound request.
func (f *Fetcher) CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUntrustedSource, err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not https", domain.ErrUntrustedSource, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", domain.ErrUntrustedSource)
	}
	if _, ok := trustedHosts[host]; ok {
		return nil
	}
	if _, ok := f.extraHosts[host]; ok {
		return nil
	}
	for _, suffix := range trustedSuffixes {
		if strings.HasSuffix(host, suffix) {
			return nil
		}
	}
	return fmt.Errorf("%w: host %q not on allow-list", domain.ErrUntrustedSource, host)
}

// Fetch returns the raw page body for an allow-listed HTTPS URL on a 2xx
// response and a FetchError otherwise.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.CheckURL(rawURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &domain.FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{
			URL:     rawURL,
			Timeout: isTimeout(err),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &domain.FetchError{
			URL:     rawURL,
			Timeout: isTimeout(err),
			Err:     err,
		}
	}
	return body, nil
}

// FetchText retrieves a source and reduces it to classifier input text.
// Hosts configured for rendering go through headless Chrome; everything
// else is a plain GET.
func (f *Fetcher) FetchText(ctx context.Context, src domain.Source) (string, error) {
	if err := f.CheckURL(src.URL); err != nil {
		return "", err
	}

	if f.renderer != nil {
		if u, err := url.Parse(src.URL); err == nil {
			if _, ok := f.renderHosts[strings.ToLower(u.Hostname())]; ok {
				html, err := f.renderer.Render(ctx, src.URL)
				if err != nil {
					return "", &domain.FetchError{URL: src.URL, Timeout: isTimeout(err), Err: err}
				}
				return ExtractText([]byte(html)), nil
			}
		}
	}

	body, err := f.Fetch(ctx, src.URL)
	if err != nil {
		return "", err
	}
	return ExtractText(body), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
