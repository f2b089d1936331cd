package misp

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sid6224/misp-mcp/storage"
)

// Version is reported in the User-Agent header and as the server version.
const Version = "0.1.0"

// CacheNamespace prefixes the storage namespaces holding cached GET
// responses. Each instance and API key pair gets its own namespace below it.
const CacheNamespace = "misp"

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 64 << 20
)

var (
	// ErrAuthentication is returned for 401 and 403 responses.
	ErrAuthentication = errors.New("authentication failed: invalid API key")
	// ErrNotFound is returned, wrapped with the request URL, for 404 responses.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidResponse is returned when a 2xx body is not JSON.
	ErrInvalidResponse = errors.New("invalid JSON response")
)

// ConfigError reports an unusable client configuration.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string { return "invalid configuration: " + e.Message }

// APIError is a non-2xx MISP response other than 401, 403 and 404.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("MISP API error: %d - %s", e.Status, e.Message)
}

// Config holds the connection settings for a MISP instance.
type Config struct {
	BaseURL   string
	APIKey    string
	VerifyTLS bool
	// Timeout bounds each request. Zero means 30 seconds.
	Timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for request events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithCache caches GET responses in s for ttl. A ttl of zero keeps entries
// until the backend evicts them.
func WithCache(s storage.Storage, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = s
		c.cacheTTL = ttl
	}
}

// WithHTTPClient replaces the underlying HTTP client. The TLS and timeout
// settings of Config are not applied to it.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to the MISP REST API and returns response bodies as raw JSON.
// It is safe for concurrent use.
type Client struct {
	baseURL   string
	apiKey    string
	userAgent string
	http      *http.Client
	cache     storage.Storage
	cacheTTL  time.Duration
	cacheNS   string
	log       *slog.Logger
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, &ConfigError{Message: "MISP URL cannot be empty"}
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigError{Message: "API key cannot be empty"}
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &ConfigError{Message: fmt.Sprintf("MISP URL must be an absolute http(s) URL: %q", cfg.BaseURL)}
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		userAgent: "misp-mcp-server/" + Version,
		cacheNS:   cacheScope(strings.TrimRight(cfg.BaseURL, "/"), cfg.APIKey),
		log:       slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)})),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		if !cfg.VerifyTLS {
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed MISP instances
			c.log.Warn("misp.client.insecure_tls", slog.String("base_url", c.baseURL))
		}
		c.http = &http.Client{Timeout: timeout, Transport: tr}
	}

	c.log.Info("misp.client.new", slog.String("base_url", c.baseURL), slog.Bool("cache", c.cache != nil))
	return c, nil
}

// BaseURL returns the instance URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// CacheScope returns the cache namespace of this client's instance and API
// key. Clients that differ in either never see each other's entries.
func (c *Client) CacheScope() string { return c.cacheNS }

func cacheScope(baseURL, apiKey string) string {
	sum := sha256.Sum256([]byte(baseURL + "\x00" + apiKey))
	return CacheNamespace + ":" + hex.EncodeToString(sum[:12])
}

// Get fetches path and returns the JSON body. Responses are served from and
// stored in the cache when one is configured.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if c.cache != nil {
		item, err := c.cache.Get(ctx, path, storage.WithNamespace(c.cacheNS))
		if err != nil {
			c.log.WarnContext(ctx, "misp.cache.get_err", slog.String("path", path), slog.String("err", err.Error()))
		} else if item != nil {
			c.log.DebugContext(ctx, "misp.cache.hit", slog.String("path", path))
			return json.RawMessage(item.Data), nil
		}
	}

	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		opts := []storage.Option{storage.WithNamespace(c.cacheNS)}
		if c.cacheTTL > 0 {
			opts = append(opts, storage.WithTTL(c.cacheTTL))
		}
		if err := c.cache.Set(ctx, path, body, opts...); err != nil {
			c.log.WarnContext(ctx, "misp.cache.set_err", slog.String("path", path), slog.String("err", err.Error()))
		}
	}
	return body, nil
}

// Post sends payload as a JSON body to path. Posts are never cached.
func (c *Client) Post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	var b []byte
	switch p := payload.(type) {
	case nil:
		b = []byte("{}")
	case json.RawMessage:
		b = p
	default:
		var err error
		if b, err = json.Marshal(p); err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, b)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	start := time.Now()
	target := c.baseURL + path

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.ErrorContext(ctx, "misp.request.err",
			slog.String("method", method), slog.String("path", path),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.String("err", err.Error()))
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if err := statusError(resp.StatusCode, target, data); err != nil {
		c.log.ErrorContext(ctx, "misp.request.err",
			slog.String("method", method), slog.String("path", path), slog.Int("status", resp.StatusCode),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.String("err", err.Error()))
		return nil, err
	}
	if !json.Valid(data) {
		c.log.ErrorContext(ctx, "misp.request.err",
			slog.String("method", method), slog.String("path", path), slog.Int("status", resp.StatusCode),
			slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.String("err", ErrInvalidResponse.Error()))
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrInvalidResponse)
	}

	c.log.DebugContext(ctx, "misp.request.ok",
		slog.String("method", method), slog.String("path", path), slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(data)), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return json.RawMessage(data), nil
}

func statusError(status int, target string, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthentication
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, target)
	default:
		return &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	}
}
