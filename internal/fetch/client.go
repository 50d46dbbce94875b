// Package fetch retrieves pages over HTTP, parses their title, main-content
// text, and outbound links, and checks robots.txt policy.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client performs the outbound HTTP GETs the crawl engine needs: the page
// fetch itself, the once-per-host robots.txt fetch, and the dive-mode
// target-lead fetch. All three share the same fixed User-Agent and redirect
// policy.
type Client struct {
	http      *http.Client
	userAgent string
}

func NewClient(userAgent string) *Client {
	return &Client{
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
		userAgent: userAgent,
	}
}

// Get issues an HTTP GET against url. A non-2xx response is an error.
func (c *Client) Get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body of %s: %w", url, err)
	}
	return string(body), nil
}
