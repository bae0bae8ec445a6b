// Package search queries a web search backend to resolve direct links for tasks.
package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/browserpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotConfigured is returned by Search when no API key is set.
var ErrNotConfigured = errors.New("search backend is not configured")

// Result is one ranked hit from the search backend.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

type tavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	SearchDepth       string `json:"search_depth"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeImages     bool   `json:"include_images"`
	IncludeRawContent bool   `json:"include_raw_content"`
}

type tavilyResponse struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

// Client talks to the Tavily search REST API.
type Client struct {
	cfg     config.SearchConfig
	http    *http.Client
	limiter *rate.Limiter
	backoff func() backoff.BackOff
	logger  *zap.Logger
}

// NewClient builds a search client. The zero-value http.Client timeout is replaced by
// cfg.Timeout.
func NewClient(cfg config.SearchConfig, logger *zap.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 3 * time.Second
			return b
		},
		logger: logger.Named("search"),
	}
}

// Enabled reports whether the client has credentials to query the backend.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.APIKey != ""
}

// Search runs query against the backend and returns at most MaxResults hits in rank order.
// A transient failure is retried once.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is empty")
	}

	body, err := json.Marshal(tavilyRequest{
		Query:       query,
		MaxResults:  c.cfg.MaxResults,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	var results []Result
	policy := backoff.WithContext(backoff.WithMaxRetries(c.backoff(), 1), ctx)
	err = backoff.Retry(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		var opErr error
		results, opErr = c.do(ctx, body)
		if opErr != nil {
			c.logger.Debug("Search attempt failed.", zap.String("query", query), zap.Error(opErr))
		}
		return opErr
	}, policy)
	if err != nil {
		return nil, err
	}

	if limit := c.cfg.MaxResults; limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	c.logger.Info("Search completed.", zap.String("query", query), zap.Int("results", len(results)))
	return results, nil
}

func (c *Client) do(ctx context.Context, body []byte) ([]Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build search request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("search backend returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
		// Only server side and throttling errors are worth another attempt.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	var decoded tavilyResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode search response: %w", err))
	}
	return decoded.Results, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
