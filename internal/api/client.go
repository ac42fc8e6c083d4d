// Package api is the authenticated JSON client for the Poesy backend.
//
// Every call returns a decoded, shape-checked value or an error from
// internal/errors. Authenticated calls obtain their bearer token through
// AutoRefreshedToken, which refreshes a near-expiry session first.
package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/p-blackswan/poesy/internal/metrics"
	"github.com/p-blackswan/poesy/internal/retry"
	"github.com/p-blackswan/poesy/internal/session"
)

// Backend paths used by the session operations.
const (
	PathLogin   = "/api/user/login"
	PathVerify  = "/api/user/verify"
	PathRefresh = "/api/user/refresh"
	PathLogout  = "/api/user/logout"
)

// DefaultLogoutTimeout bounds the server notification made by Logout.
const DefaultLogoutTimeout = 5 * time.Second

// DefaultRefreshTimeout bounds one shared token refresh.
const DefaultRefreshTimeout = 30 * time.Second

// DefaultRequestTimeout bounds connecting and waiting for response headers in
// the client built by NewHTTPClient.
const DefaultRequestTimeout = 30 * time.Second

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns an HTTP client whose dial, TLS handshake and
// response-header waits are bounded by timeout. Reading the body is not
// bounded, so streamed answers run until the server closes them or the
// request context ends.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

// Client issues requests against one Poesy backend on behalf of one session.
type Client struct {
	baseURL        string
	httpClient     HTTPClient
	session        *session.Session
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	logoutTimeout  time.Duration
	refreshTimeout time.Duration
	retry          retry.Config

	refreshes singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records request and refresh metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogoutTimeout bounds the logout notification, retries included.
func WithLogoutTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.logoutTimeout = d
		}
	}
}

// WithRefreshTimeout bounds a token refresh, which runs independently of the
// contexts of the callers waiting on it.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// WithRetry sets the retry policy for the logout notification.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// New creates a client for baseURL bound to sess.
func New(baseURL string, sess *session.Session, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		httpClient:     NewHTTPClient(DefaultRequestTimeout),
		session:        sess,
		logger:         zerolog.Nop(),
		logoutTimeout:  DefaultLogoutTimeout,
		refreshTimeout: DefaultRefreshTimeout,
		retry:          retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "api").Logger()
	return c
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Session returns the session the client authenticates with.
func (c *Client) Session() *session.Session { return c.session }

// Metrics returns the metrics sink, which may be nil.
func (c *Client) Metrics() *metrics.Metrics { return c.metrics }
