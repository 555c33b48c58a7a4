// Package twilio provides a minimal client for the Twilio Messages API.
package twilio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Client sends SMS messages.
type Client interface {
	SendSMS(ctx context.Context, from, to, body string) (*Message, error)
}

// Message is the subset of Twilio's message resource we use.
type Message struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	To           string `json:"to"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// APIError is the error body Twilio returns on non-2xx responses.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return "twilio: status " + http.StatusText(e.StatusCode) + ": " + e.Message
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Option configures the Twilio client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	accountSID string
	authToken  string
	baseURL    string
	http       *http.Client
}

// NewClient creates a Twilio client for one account.
func NewClient(accountSID, authToken string, opts ...Option) Client {
	c := &httpClient{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    "https://api.twilio.com",
		http:       &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) SendSMS(ctx context.Context, from, to, body string) (*Message, error) {
	form := url.Values{}
	form.Set("From", from)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := c.baseURL + "/2010-04-01/Accounts/" + url.PathEscape(c.accountSID) + "/Messages.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "twilio: create request")
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "twilio: send")
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "twilio: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return nil, apiErr
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, eris.Wrap(err, "twilio: unmarshal response")
	}
	return &msg, nil
}
