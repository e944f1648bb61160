package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL  = "https://api.themoviedb.org/3"
	defaultLanguage = "zh-CN"

	// TMDB allows roughly 50 requests per second; stay well below it.
	defaultRate rate.Limit = 4
)

// Client searches TMDB's multi-search endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	language   string
	proxyURL   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ Searcher = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u = strings.TrimSpace(u); u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithLanguage sets the response language, e.g. "en-US".
func WithLanguage(lang string) Option {
	return func(c *Client) {
		if lang = strings.TrimSpace(lang); lang != "" {
			c.language = lang
		}
	}
}

// WithProxy routes requests through the given HTTP proxy.
func WithProxy(proxyURL string) Option {
	return func(c *Client) {
		c.proxyURL = strings.TrimSpace(proxyURL)
	}
}

// WithHTTPClient overrides the default HTTP client. It takes precedence over
// WithProxy.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit overrides the client-side request rate.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// New creates a TMDB client. An API key is required.
func New(apiKey string, logger *slog.Logger, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("tmdb api key required")
	}
	c := &Client{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		language: defaultLanguage,
		limiter:  rate.NewLimiter(defaultRate, 1),
		logger:   logger.With(slog.String("component", "catalog")),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if c.proxyURL != "" {
			proxy, err := url.Parse(c.proxyURL)
			if err != nil {
				return nil, fmt.Errorf("parsing proxy url: %w", err)
			}
			transport.Proxy = http.ProxyURL(proxy)
		}
		c.httpClient = &http.Client{Timeout: 10 * time.Second, Transport: transport}
	}
	return c, nil
}

// Search returns the first movie or show TMDB reports for query.
func (c *Client) Search(ctx context.Context, query string) (*Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &ErrNoMatch{Query: query}
	}

	params := url.Values{
		"query":         {query},
		"api_key":       {c.apiKey},
		"include_adult": {"false"},
		"page":          {"1"},
	}
	if c.language != "" {
		params.Set("language", c.language)
	}
	body, err := c.doRequest(ctx, c.baseURL+"/search/multi?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	m, ok := first(resp.Results)
	if !ok {
		return nil, &ErrNoMatch{Query: query}
	}
	return m, nil
}

// PosterURL joins an image base URL with a poster reference.
func PosterURL(imageBase string, ref *string) string {
	if ref == nil || *ref == "" {
		return ""
	}
	return strings.TrimRight(imageBase, "/") + "/" + strings.TrimLeft(*ref, "/")
}

// doRequest executes a GET with rate limiting and maps failure statuses.
func (c *Client) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ErrUnavailable{Cause: fmt.Errorf("rate limiter: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:gosec // URL built from configured base
	latency := time.Since(start)
	if err != nil {
		return nil, &ErrUnavailable{Cause: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	c.logger.Debug("catalog request",
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", latency))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &ErrUnavailable{
			Cause:      fmt.Errorf("HTTP %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &ErrUnavailable{
			Cause:      fmt.Errorf("unexpected HTTP %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// retryAfter parses a delay-seconds Retry-After header, defaulting to 2s.
func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 2 * time.Second
}
