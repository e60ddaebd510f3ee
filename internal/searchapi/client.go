package searchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"oppscan/internal/config"
)

// Notice is one record from the structured opportunity search API.
type Notice struct {
	NoticeID         string `json:"noticeId"`
	Title            string `json:"title"`
	Agency           string `json:"fullParentPathName"`
	NoticeType       string `json:"type"`
	PostedDate       string `json:"postedDate"`
	ResponseDeadline string `json:"responseDeadLine"`
	Description      string `json:"description"`
	State            string `json:"placeOfPerformanceState"`
	Link             string `json:"uiLink"`
}

type searchResponse struct {
	TotalRecords      int      `json:"totalRecords"`
	OpportunitiesData []Notice `json:"opportunitiesData"`
}

// Client talks to the government opportunity search API (SAM-style
// query/response shape).
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: cfg.SearchAPIURL,
		apiKey:  cfg.SearchAPIKey,
		httpClient: &http.Client{
			Timeout: cfg.FetchTimeoutDuration(),
		},
	}
}

// noticeTypesFor maps the request's source type to API notice-type codes:
// primary covers live solicitations, secondary the pre-solicitation and
// combined notices.
func noticeTypesFor(sourceType string) string {
	switch sourceType {
	case "primary":
		return "o"
	case "secondary":
		return "p,k"
	default:
		return ""
	}
}

// Search queries notices posted within the last daysBack days.
func (c *Client) Search(ctx context.Context, daysBack int, keywords, sourceType string) ([]Notice, error) {
	now := time.Now()
	from := now.AddDate(0, 0, -daysBack)

	q := url.Values{}
	q.Set("api_key", c.apiKey)
	q.Set("postedFrom", from.Format("01/02/2006"))
	q.Set("postedTo", now.Format("01/02/2006"))
	q.Set("limit", "100")
	if keywords != "" {
		q.Set("title", keywords)
	}
	if types := noticeTypesFor(sourceType); types != "" {
		q.Set("ptype", types)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search API call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return parsed.OpportunitiesData, nil
}
