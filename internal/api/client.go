package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rickgao/bfx-stream/internal/version"
)

// DefaultBaseURL is the public REST endpoint. Platform status is
// unauthenticated, so the client never signs requests.
const DefaultBaseURL = "https://api-pub.bitfinex.com/v2"

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultRetryBackoff = time.Second
)

// Client queries the Bitfinex public REST API.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a REST client rooted at baseURL. An empty baseURL
// selects DefaultBaseURL; a trailing slash is dropped so paths join cleanly.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		userAgent:    version.UserAgent(),
		httpClient:   &http.Client{Timeout: defaultTimeout},
		logger:       slog.Default(),
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the endpoint requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WithTimeout bounds every request, retries excluded. Zero keeps the default.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetries sets how often retryable failures (5xx, 429) are retried and
// the delay before the first retry. The delay doubles per attempt.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the transport, e.g. for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
