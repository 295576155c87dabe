package supabase

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Client is the Supabase REST client. A single instance is constructed at
// process start and shared; it is safe for concurrent use.
type Client struct {
	config  Config
	baseURL string
	restURL string
	authURL string

	resilient *ResilientClient

	auth     *AuthClient
	database *DatabaseClient
}

// New creates a new Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.ProjectURL == "" {
		return nil, fmt.Errorf("project URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, fmt.Errorf("anon key is required")
	}

	baseURL := strings.TrimRight(cfg.ProjectURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid project URL: %w", err)
	}

	c := &Client{
		config:  cfg,
		baseURL: baseURL,
		restURL: baseURL + "/rest/v1",
		authURL: baseURL + "/auth/v1",
		resilient: NewResilientClient(ResilientClientConfig{
			Retry:          cfg.Retry,
			AttemptTimeout: cfg.AttemptTimeout,
		}),
	}

	c.auth = &AuthClient{client: c}
	c.database = &DatabaseClient{client: c}
	return c, nil
}

// Auth returns the auth client.
func (c *Client) Auth() *AuthClient {
	return c.auth
}

// Database returns the database client.
func (c *Client) Database() *DatabaseClient {
	return c.database
}

// Resilient exposes the underlying resilient transport, mainly so callers can
// scrape its request counters.
func (c *Client) Resilient() *ResilientClient {
	return c.resilient
}

// =============================================================================
// Internal HTTP Methods
// =============================================================================

// request performs an HTTP request authorized with the anon key.
func (c *Client) request(ctx context.Context, method, urlPath string, body []byte, headers map[string]string) ([]byte, int, error) {
	return c.do(ctx, method, urlPath, body, headers, c.config.AnonKey)
}

// requestWithToken performs an HTTP request authorized with a user token.
func (c *Client) requestWithToken(ctx context.Context, method, urlPath string, body []byte, headers map[string]string, accessToken string) ([]byte, int, error) {
	return c.do(ctx, method, urlPath, body, headers, accessToken)
}

func (c *Client) do(ctx context.Context, method, urlPath string, body []byte, headers map[string]string, bearer string) ([]byte, int, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlPath, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	for k, v := range c.config.DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	// Required headers win over any caller-supplied duplicates.
	req.Header.Set("apikey", c.config.AnonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.resilient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}

	return resp.Body, resp.StatusCode, nil
}
