package api

import (
	"net/http"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"go.uber.org/zap"

	"github.com/go-authgate/apisession/tokenstore"
)

// Option customizes the Client.
type Option func(c *config)

type config struct {
	httpClient  *http.Client
	retryClient *retry.Client
	store       tokenstore.Store
	notifier    Notifier
	listener    SessionListener
	logger      *zap.Logger
	now         func() time.Time
	cacheSize   int
	maxWaiters  int
	newID       func() string
}

// WithHTTPClient supplies the HTTP client used for ordinary requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetryClient supplies the retrying client used for the best-effort
// logout call.
func WithRetryClient(rc *retry.Client) Option {
	return func(c *config) {
		if rc != nil {
			c.retryClient = rc
		}
	}
}

// WithStore sets where the token pair is persisted. Defaults to memory.
func WithStore(s tokenstore.Store) Option {
	return func(c *config) {
		if s != nil {
			c.store = s
		}
	}
}

// WithNotifier receives network and server error notifications.
func WithNotifier(n Notifier) Option {
	return func(c *config) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithSessionListener is told when the session is torn down.
func WithSessionListener(l SessionListener) Option {
	return func(c *config) {
		if l != nil {
			c.listener = l
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now for cache freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheSize overrides MaxCacheEntries.
func WithCacheSize(n int) Option {
	return func(c *config) {
		c.cacheSize = n
	}
}

// WithMaxRefreshWaiters overrides MaxRefreshWaiters.
func WithMaxRefreshWaiters(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxWaiters = n
		}
	}
}
