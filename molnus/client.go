package molnus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Client represents a Molnus API client
type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client
	userAgent  string
	tokenTTL   time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	// mu guards tokens and serializes logins
	mu     sync.Mutex
	tokens *TokenSet
	logins atomic.Int64
}

// NewClient creates a new Molnus client.
// No request is made until the first token is needed.
func NewClient(baseURL, email, password string, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(email) == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidConfig)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidConfig)
	}

	// Ensure base URL ends without slash
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := &Client{
		baseURL:    baseURL,
		email:      email,
		password:   password,
		httpClient: http.DefaultClient,
		userAgent:  DefaultUserAgent,
		tokenTTL:   DefaultTokenTTL,
		now:        time.Now,
		logger:     logger,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// BaseURL returns the API root the client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// LoginCount returns the number of successful logins so far
func (c *Client) LoginCount() int64 {
	return c.logins.Load()
}

// CachedToken returns a copy of the live token set, if any
func (c *Client) CachedToken() (TokenSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokens == nil {
		return TokenSet{}, false
	}
	return *c.tokens, true
}

// EnsureToken returns a usable access token, logging in when no token is
// cached or the cached one is older than the soft TTL.
func (c *Client) EnsureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokens != nil {
		age := c.tokens.Age(c.now())
		if age <= c.tokenTTL {
			return c.tokens.AccessToken, nil
		}
		c.logger.Debug().
			Dur("age", age).
			Dur("ttl", c.tokenTTL).
			Msg("Molnus token past soft TTL, logging in again")
	}

	tokens, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.tokens = tokens

	return tokens.AccessToken, nil
}

// Invalidate drops the cached token so the next request logs in again
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.tokens = nil
	c.mu.Unlock()
}

// invalidate drops the cached token only if it is still the one that was
// rejected, so a token another caller just obtained survives.
func (c *Client) invalidate(rejected string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tokens != nil && c.tokens.AccessToken == rejected {
		c.tokens = nil
	}
}

// login posts the credentials and returns a fresh token set. Callers hold mu.
func (c *Client) login(ctx context.Context) (*TokenSet, error) {
	payload, err := json.Marshal(loginRequest{Email: c.email, Password: c.password})
	if err != nil {
		return nil, &AuthError{Email: c.email, Err: fmt.Errorf("failed to encode credentials: %w", err)}
	}

	endpoint := c.baseURL + "/auth/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &AuthError{Email: c.email, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	body, err := c.do(req)
	if err != nil {
		return nil, &AuthError{Email: c.email, Err: err}
	}

	var response loginResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, &AuthError{Email: c.email, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if response.Token == nil || response.Token.AccessToken == "" || response.Token.RefreshToken == "" {
		return nil, &AuthError{Email: c.email, Err: ErrMissingToken}
	}

	c.logins.Add(1)
	c.logger.Debug().Int64("logins", c.logins.Load()).Msg("Logged in to Molnus")

	return &TokenSet{
		AccessToken:  response.Token.AccessToken,
		RefreshToken: response.Token.RefreshToken,
		ObtainedAt:   c.now(),
	}, nil
}

// GetImages retrieves images for a camera. A 401 triggers exactly one
// forced login and one retry; the retry's outcome is returned as is.
func (c *Client) GetImages(ctx context.Context, query ImageQuery) ([]Image, error) {
	if strings.TrimSpace(query.CameraID) == "" {
		return nil, fmt.Errorf("%w: camera id is required", ErrInvalidConfig)
	}

	endpoint := c.baseURL + "/images/get?" + query.Values().Encode()

	token, err := c.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.getAuthorized(ctx, endpoint, token)
	if IsUnauthorized(err) {
		c.logger.Info().Str("camera_id", query.CameraID).Msg("Molnus rejected token, logging in again")
		c.invalidate(token)

		token, err = c.EnsureToken(ctx)
		if err != nil {
			return nil, err
		}
		body, err = c.getAuthorized(ctx, endpoint, token)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get images: %w", err)
	}

	images, err := extractImages(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("camera_id", query.CameraID).
		Int("count", len(images)).
		Msg("Retrieved images from Molnus")

	return images, nil
}

// FetchBytes downloads url with the shared HTTP client. CDN links are
// public, so no bearer token is sent.
func (c *Client) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	return c.do(req)
}

func (c *Client) getAuthorized(ctx context.Context, endpoint, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	return c.do(req)
}

// do executes req and returns the body, or an *HTTPError on non-2xx
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			URL:        redactQuery(req.URL.String()),
			Body:       truncate(string(body), 256),
		}
	}

	return body, nil
}

// extractImages accepts either {"images": [...]} or a bare list
func extractImages(body []byte) ([]Image, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &FormatError{Kind: "empty body"}
	}

	switch trimmed[0] {
	case '[':
		return decodeImageList(trimmed)
	case '{':
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, &FormatError{Kind: "object", Err: err}
		}
		raw, ok := wrapper["images"]
		raw = bytes.TrimSpace(raw)
		if ok && len(raw) > 0 && raw[0] == '[' {
			return decodeImageList(raw)
		}
		keys := make([]string, 0, len(wrapper))
		for k := range wrapper {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		return nil, &FormatError{Kind: "object", Keys: keys}
	default:
		return nil, &FormatError{Kind: jsonKind(trimmed[0])}
	}
}

func decodeImageList(raw []byte) ([]Image, error) {
	images := []Image{}
	if err := json.Unmarshal(raw, &images); err != nil {
		return nil, &FormatError{Kind: "list", Err: err}
	}
	return images, nil
}

func jsonKind(first byte) string {
	switch first {
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}

// redactQuery strips query parameters from URLs that end up in errors
func redactQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
