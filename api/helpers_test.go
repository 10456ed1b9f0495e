package api

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/go-authgate/apisession/tokenstore"
)

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notifications...)
}

type countingListener struct {
	ended   atomic.Int32
	mu      sync.Mutex
	reasons []error
}

func (l *countingListener) SessionEnded(reason error) {
	l.ended.Add(1)
	l.mu.Lock()
	l.reasons = append(l.reasons, reason)
	l.mu.Unlock()
}

// countingStore counts Delete calls, standing in for "local storage clears".
type countingStore struct {
	*tokenstore.MemoryStore
	deletes atomic.Int32
}

func newCountingStore(values map[string]string) *countingStore {
	s := &countingStore{MemoryStore: tokenstore.NewMemoryStore()}
	if len(values) > 0 {
		_ = s.MemoryStore.Set(values)
	}
	return s
}

func (s *countingStore) Delete(keys ...string) error {
	s.deletes.Add(1)
	return s.MemoryStore.Delete(keys...)
}

type brokenStore struct{}

func (brokenStore) Get(string) (string, error)  { return "", errors.New("disk on fire") }
func (brokenStore) Set(map[string]string) error { return errors.New("disk on fire") }
func (brokenStore) Delete(...string) error      { return errors.New("disk on fire") }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	all := append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := New(baseURL, all...)
	require.NoError(t, err)
	return c
}

func tokens(access, refresh string) map[string]string {
	values := map[string]string{}
	if access != "" {
		values[tokenstore.AccessTokenKey] = access
	}
	if refresh != "" {
		values[tokenstore.RefreshTokenKey] = refresh
	}
	return values
}
