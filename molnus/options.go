package molnus

import (
	"net/http"
	"time"
)

const (
	// DefaultBaseURL is the public Molnus API
	DefaultBaseURL = "https://molnus.com"
	// DefaultTokenTTL is the assumed token lifetime; Molnus does not send one
	DefaultTokenTTL = 25 * time.Minute
	// DefaultUserAgent mimics a browser, which the API expects
	DefaultUserAgent = "Mozilla/5.0"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the shared HTTP client used for every request.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout sets a timeout on a private copy of the HTTP client.
// Zero keeps the transport default.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			hc := *c.httpClient
			hc.Timeout = timeout
			c.httpClient = &hc
		}
	}
}

// WithTokenTTL sets the soft token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.tokenTTL = ttl
		}
	}
}

// WithUserAgent sets a custom user agent string.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}
