package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"oppscan/internal/config"
	"oppscan/internal/domain"
	"oppscan/internal/monitoring"
)

const extractionInstruction = `You extract government procurement opportunities ` +
	`relevant to emergency medical services, ambulance operations, and medical ` +
	`transport from web page text. Respond with a JSON array only. Each element: ` +
	`{"title","agency","geography","tags":[],"contract_type","value_min","value_max",` +
	`"issue_date","questions_due","pre_bid_date","proposal_due","summary","priority"}. ` +
	`Dates are ISO 8601 (YYYY-MM-DD). proposal_due is required; omit records without one. ` +
	`priority is one of high, medium, low. Return [] if the page lists no opportunities.`

const relevanceInstruction = `You decide whether a procurement notice is relevant ` +
	`to emergency medical services, ambulance operations, medical transport, or ` +
	`EMS equipment and staffing. Answer with exactly "yes" or "no".`

// Client calls an OpenAI-compatible chat-completions endpoint to turn page
// text into candidate records. The service is an untrusted boundary: its
// output is schema-checked per record and bad records are dropped
// individually.
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	maxChars   int
	httpClient *http.Client
	metrics    *monitoring.Metrics
	logger     *zap.Logger
}

func New(cfg *config.Config, m *monitoring.Metrics, logger *zap.Logger) *Client {
	return &Client{
		endpoint: cfg.LLMEndpoint,
		model:    cfg.LLMModel,
		apiKey:   cfg.LLMAPIKey,
		maxChars: cfg.ClassifyMaxChars,
		httpClient: &http.Client{
			Timeout: cfg.ClassifyTimeoutDuration(),
		},
		metrics: m,
		logger:  logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract sends page text to the extraction service and returns the
// candidates that pass required-field validation. It fails as a whole only
// when the call itself fails or the response is not a JSON array.
func (c *Client) Extract(ctx context.Context, content string, hints domain.ClassifyHints) ([]domain.Candidate, error) {
	prompt := fmt.Sprintf("Source: %s (%s)\nKind: %s\n\n%s",
		hints.SourceName, hints.SourceURL, hints.Kind, truncate(content, c.maxChars))

	raw, err := c.chat(ctx, extractionInstruction, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrClassificationFailed, err)
	}

	var proposed []rawCandidate
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &proposed); err != nil {
		return nil, fmt.Errorf("%w: response is not a JSON array: %v", domain.ErrClassificationFailed, err)
	}

	candidates := make([]domain.Candidate, 0, len(proposed))
	for _, p := range proposed {
		cand, err := p.validate()
		if err != nil {
			c.logger.Warn("dropping candidate",
				zap.String("source", hints.SourceName),
				zap.String("title", p.Title),
				zap.Error(err))
			c.metrics.IncErrorsTotal("candidate_invalid")
			continue
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// Relevant answers the binary domain-match question for one notice. The
// search-API variant runs this gate before structural extraction.
func (c *Client) Relevant(ctx context.Context, content string) (bool, error) {
	raw, err := c.chat(ctx, relevanceInstruction, truncate(content, c.maxChars))
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrClassificationFailed, err)
	}
	answer := strings.ToLower(strings.TrimSpace(stripCodeFence(raw)))
	return strings.HasPrefix(answer, "yes"), nil
}

func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" || c.endpoint == "" || c.model == "" {
		return "", fmt.Errorf("classifier client misconfigured")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveClassifierDuration(time.Since(start))
	if err != nil {
		return "", fmt.Errorf("call extraction service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("extraction service %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// truncate cuts s to at most max bytes without splitting a rune.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// stripCodeFence unwraps a response the model wrapped in a markdown fence,
// with or without a language tag.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
