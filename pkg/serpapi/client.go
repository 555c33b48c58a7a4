// Package serpapi provides a client for the SerpAPI Google search endpoint.
package serpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the SerpAPI operations.
type Client interface {
	// Search runs a Google web search and returns the organic results.
	Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error)
}

// SearchResponse is the parsed SerpAPI response.
type SearchResponse struct {
	OrganicResults []OrganicResult `json:"organic_results"`
	Error          string          `json:"error,omitempty"`
}

// OrganicResult is a single organic search hit.
type OrganicResult struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
}

// SearchOption configures a search request.
type SearchOption func(url.Values)

// WithNum caps the number of results requested.
func WithNum(n int) SearchOption {
	return func(v url.Values) {
		if n > 0 {
			v.Set("num", strconv.Itoa(n))
		}
	}
}

// WithLocation biases results toward a location string.
func WithLocation(loc string) SearchOption {
	return func(v url.Values) {
		if loc != "" {
			v.Set("location", loc)
		}
	}
}

// Option configures the SerpAPI client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithBackoff sets the initial retry delay.
func WithBackoff(d time.Duration) Option {
	return func(c *httpClient) {
		c.backoff = d
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	backoff time.Duration
	http    *http.Client
}

// NewClient creates a new SerpAPI client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://serpapi.com",
		backoff: time.Second,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes req with exponential backoff on network errors and
// retryable status codes.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := c.backoff

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.http.Do(req.Clone(ctx))
		if err == nil {
			body, readErr := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if readErr != nil {
				return nil, resp.StatusCode, eris.Wrap(readErr, "serpapi: read response body")
			}
			if !retryableStatusCode(resp.StatusCode) || attempt == maxAttempts {
				return body, resp.StatusCode, nil
			}
			lastErr = eris.Errorf("serpapi: status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, 0, lastErr
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResponse, error) {
	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", c.apiKey)
	params.Set("hl", "en")
	params.Set("gl", "us")
	params.Set("safe", "active")
	for _, opt := range opts {
		opt(params)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search.json?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: create request")
	}
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "serpapi: request failed")
	}

	var result SearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		if statusCode != http.StatusOK {
			return nil, eris.Errorf("serpapi: unexpected status %d", statusCode)
		}
		return nil, eris.Wrap(err, "serpapi: unmarshal response")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("serpapi: unexpected status %d: %s", statusCode, result.Error)
	}
	// SerpAPI reports "no results" as an error string on a 200.
	if result.Error != "" && len(result.OrganicResults) == 0 {
		return &SearchResponse{}, nil
	}
	return &result, nil
}
