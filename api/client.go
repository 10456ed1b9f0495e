// Package api is an authenticated client for the content platform's HTTP API.
//
// Every request carries the stored bearer token. A 401 outside the auth
// endpoints starts a single-flight refresh; the request, and every request
// that hit a 401 meanwhile, is replayed once with the new token. Reads can go
// through a bounded FIFO response cache, and network or server failures are
// reported to a Notifier together with a retry action.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/go-authgate/apisession/tokenstore"
)

// Timeout classes for outbound requests
const (
	DefaultTimeout    = 30 * time.Second
	GenerationTimeout = 5 * time.Minute  // synchronous AI generation
	KickoffTimeout    = 10 * time.Second // start a job, then poll
	RefreshTimeout    = 10 * time.Second
	LogoutTimeout     = 5 * time.Second
)

const requestIDHeader = "X-Request-ID"

// RequestConfig describes one API call. Path is relative to the base URL.
type RequestConfig struct {
	Method  string
	Path    string
	Params  map[string]any
	Body    any
	Header  http.Header
	Timeout time.Duration

	// retried is set on the replay after a refresh
	retried bool
}

// Client is safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	retry    *retry.Client
	session  *Session
	notifier Notifier
	logger   *zap.Logger
	newID    func() string
}

// New constructs a Client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	cfg := &config{
		store:      tokenstore.NewMemoryStore(),
		notifier:   nopNotifier{},
		listener:   nopListener{},
		logger:     zap.NewNop(),
		now:        time.Now,
		cacheSize:  MaxCacheEntries,
		maxWaiters: MaxRefreshWaiters,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}

	if cfg.httpClient == nil {
		cfg.httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	if cfg.retryClient == nil {
		rc, err := retry.NewClient(retry.WithHTTPClient(cfg.httpClient))
		if err != nil {
			return nil, fmt.Errorf("failed to create retry client: %w", err)
		}
		cfg.retryClient = rc
	}

	c := &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:     cfg.httpClient,
		retry:    cfg.retryClient,
		notifier: cfg.notifier,
		logger:   cfg.logger,
		newID:    cfg.newID,
	}
	c.session = newSession(
		cfg.store,
		NewResponseCache(cfg.cacheSize, cfg.now),
		cfg.listener,
		cfg.logger,
		c.exchangeRefreshToken,
	)
	c.session.maxWaiters = cfg.maxWaiters
	return c, nil
}

// Session exposes the client's session state.
func (c *Client) Session() *Session {
	return c.session
}

// Do sends rc and decodes a successful JSON body into out, which may be nil.
// Failures are returned as-is after network and server errors have been
// reported to the Notifier.
func (c *Client) Do(ctx context.Context, rc RequestConfig, out any) error {
	body, err := c.execute(ctx, rc)
	if err != nil {
		c.report(rc, err)
		return err
	}
	return decode(body, out)
}

// Call is the typed form of Client.Do.
func Call[T any](ctx context.Context, c *Client, rc RequestConfig) (T, error) {
	var out T
	err := c.Do(ctx, rc, &out)
	return out, err
}

// CachedGet serves a GET for path and params from the response cache when an
// entry younger than ttl exists, and fetches and caches it otherwise.
// Concurrent misses for the same key are not coalesced.
func (c *Client) CachedGet(
	ctx context.Context,
	path string,
	ttl time.Duration,
	params map[string]any,
	out any,
) error {
	return c.CachedDo(ctx, RequestConfig{Path: path, Params: params}, ttl, out)
}

// CachedDo is CachedGet for a full RequestConfig, so a cached read can carry
// its own timeout and headers. The method is always GET; Body is ignored.
func (c *Client) CachedDo(ctx context.Context, rc RequestConfig, ttl time.Duration, out any) error {
	cache := c.session.cache
	rc.Method = http.MethodGet
	rc.Body = nil

	key, keyErr := CacheKey(rc.Path, rc.Params)
	if keyErr != nil {
		c.logger.Debug("uncacheable params", zap.String("path", rc.Path), zap.Error(keyErr))
	} else if data, ok := cache.Get(key, ttl); ok {
		if err := decode(data, out); err == nil {
			return nil
		}
		// a bad entry must not fail the read
	}

	data, err := c.execute(ctx, rc)
	if err != nil {
		c.report(rc, err)
		return err
	}
	if err := decode(data, out); err != nil {
		return err
	}
	if keyErr == nil {
		cache.Set(key, data)
	}
	return nil
}

// InvalidateCache drops cached responses whose key starts with prefix, or
// all of them when prefix is empty.
func (c *Client) InvalidateCache(prefix string) {
	c.session.cache.Invalidate(prefix)
}

// execute sends rc and runs the refresh protocol on a 401.
func (c *Client) execute(ctx context.Context, rc RequestConfig) ([]byte, error) {
	data, err := c.send(ctx, rc, c.session.AccessToken())

	var httpErr *HTTPError
	if err == nil ||
		!errors.As(err, &httpErr) ||
		httpErr.StatusCode != http.StatusUnauthorized ||
		rc.retried ||
		isAuthEndpoint(rc.Path) {
		return data, err
	}

	c.logger.Debug("access token rejected", zap.String("path", rc.Path))
	token, refreshErr := c.session.awaitToken(ctx)
	if refreshErr != nil {
		return nil, fmt.Errorf("%w: %w", refreshErr, httpErr)
	}

	rc.retried = true
	return c.send(ctx, rc, token)
}

// report notifies the user about network and server failures.
func (c *Client) report(rc RequestConfig, err error) {
	var message string
	kind := Classify(err)
	switch kind {
	case KindNetwork:
		message = networkErrorMessage
	case KindServer:
		var httpErr *HTTPError
		errors.As(err, &httpErr)
		message = fmt.Sprintf(serverErrorFormat, httpErr.StatusCode)
	default:
		return
	}

	c.logger.Info("request failed",
		zap.String("kind", kind.String()),
		zap.String("method", rc.Method),
		zap.String("path", rc.Path),
		zap.Error(err),
	)

	replay := rc
	replay.retried = false
	c.notifier.Notify(Notification{
		ID:      c.newID(),
		Kind:    kind,
		Message: message,
		Method:  rc.Method,
		Path:    rc.Path,
		Retry: func(ctx context.Context) ([]byte, error) {
			body, err := c.execute(ctx, replay)
			if err != nil {
				c.report(replay, err)
				return nil, err
			}
			return body, nil
		},
	})
}

// send performs a single HTTP exchange. token may be empty.
func (c *Client) send(ctx context.Context, rc RequestConfig, token string) ([]byte, error) {
	timeout := rc.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newRequest(reqCtx, rc, token)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s: %w", req.Method, rc.Path, err)
		}
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s %s: %w", req.Method, rc.Path, err)
		}
		return nil, &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	c.logger.Debug("request",
		zap.String("method", req.Method),
		zap.String("path", rc.Path),
		zap.Int("status", resp.StatusCode),
		zap.Bool("replay", rc.retried),
		zap.String("request_id", req.Header.Get(requestIDHeader)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			Path:       rc.Path,
			Header:     resp.Header,
			Body:       body,
		}
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, rc RequestConfig, token string) (*http.Request, error) {
	method := rc.Method
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(c.baseURL + rc.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path %q: %w", rc.Path, err)
	}
	if len(rc.Params) > 0 {
		q := u.Query()
		encodeParams(q, rc.Params)
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	if rc.Body != nil {
		payload, err := json.Marshal(rc.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, values := range rc.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, c.newID())
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func encodeParams(q url.Values, params map[string]any) {
	for k, v := range params {
		switch val := v.(type) {
		case nil:
		case []string:
			for _, s := range val {
				q.Add(k, s)
			}
		case []any:
			for _, s := range val {
				q.Add(k, fmt.Sprint(s))
			}
		default:
			q.Set(k, fmt.Sprint(val))
		}
	}
}

func decode(body []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
