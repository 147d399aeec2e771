package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/agentic-search/internal/core/domain"
	"github.com/kirillkom/agentic-search/internal/infrastructure/resilience"
)

const defaultBaseURL = "https://api.tavily.com"

// Client wraps the Tavily search API. Requests pass through a client-side
// rate limiter and the shared resilience executor; failures surface to the
// caller, which degrades the web signal instead of failing the turn.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

type Options struct {
	BaseURL string
	APIKey  string
	// RequestsPerSecond caps outgoing API calls. Zero disables the limiter.
	RequestsPerSecond float64
	Burst             int
}

func New(opts Options, executor *resilience.Executor) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
		executor:   executor,
	}
}

func (c *Client) Search(ctx context.Context, query string, limit int) ([]domain.EvidenceCandidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("tavily rate limit wait: %w", err)
		}
	}

	var results []domain.EvidenceCandidate
	call := func(ctx context.Context) error {
		var err error
		results, err = c.search(ctx, query, limit)
		return err
	}

	if c.executor == nil {
		if err := call(ctx); err != nil {
			return nil, err
		}
		return results, nil
	}
	if err := c.executor.Execute(ctx, "tavily_search", call, classifyTavilyError); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) search(ctx context.Context, query string, limit int) ([]domain.EvidenceCandidate, error) {
	reqBody := map[string]any{
		"api_key":     c.apiKey,
		"query":       query,
		"max_results": limit,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &apiStatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	var searchResp struct {
		Results []struct {
			URL     string  `json:"url"`
			Title   string  `json:"title"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.EvidenceCandidate, 0, len(searchResp.Results))
	for _, r := range searchResp.Results {
		text := strings.TrimSpace(r.Content)
		if text == "" {
			continue
		}
		if title := strings.TrimSpace(r.Title); title != "" {
			text = title + "\n" + text
		}
		out = append(out, domain.EvidenceCandidate{
			SourceID: r.URL,
			Text:     text,
			Origin:   domain.OriginWeb,
			// The API relevance score serves as the dense signal for fusion.
			VectorScore: r.Score,
		})
	}
	return out, nil
}
