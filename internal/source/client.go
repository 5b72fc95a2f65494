package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// maxErrorBody bounds how much of an error response is kept in HTTPError.
const maxErrorBody = 512

// Client is a rate-limited HTTP client owned by one adapter instance.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	userAgent  string
}

// NewClient returns a client issuing at most rps requests per second
// against cfg.BaseURL, or defaultBaseURL when that is empty.
func NewClient(cfg Config, defaultBaseURL string, rps float64) *Client {
	c := &Client{
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		baseURL:    strings.TrimRight(defaultBaseURL, "/"),
		userAgent:  cfg.UserAgent,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if c.userAgent == "" {
		c.userAgent = "bmlib-sync"
	}
	return c
}

// BaseURL returns the API root requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get waits for the limiter, requests baseURL+path with query and returns
// the body of a 2xx response.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", redact(u), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        redact(u),
			Message:    strings.TrimSpace(string(body)),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", redact(u), err)
	}
	return body, nil
}

// GetJSON is Get followed by decoding the body into v.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, v any) error {
	body, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// redact strips API keys from a URL before it reaches logs or errors.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for _, k := range []string{"api_key", "apikey"} {
		if q.Has(k) {
			q.Set(k, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
