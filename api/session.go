package api

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/go-authgate/apisession/tokenstore"
)

// MaxRefreshWaiters bounds the number of requests that may wait on a single
// in-flight refresh. Requests beyond it end the session instead of queueing.
const MaxRefreshWaiters = 50

// refreshFunc exchanges a refresh token for a new token pair.
type refreshFunc func(ctx context.Context, refreshToken string) (*oauth2.Token, error)

type refreshResult struct {
	token string
	err   error
}

// Session owns the state shared by every request of one signed-in user: the
// stored token pair, the single-flight refresh guard with its waiter queue,
// the teardown guard and the response cache.
//
// At most one refresh call is outstanding at a time. Requests that see a 401
// while it runs wait in FIFO order and are released with its outcome.
type Session struct {
	store      tokenstore.Store
	cache      *ResponseCache
	listener   SessionListener
	logger     *zap.Logger
	refresh    refreshFunc
	maxWaiters int

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult
	loggingOut bool
	// generation changes on every teardown so a refresh that completes
	// after the session ended does not resurrect it.
	generation uint64
}

func newSession(
	store tokenstore.Store,
	cache *ResponseCache,
	listener SessionListener,
	logger *zap.Logger,
	refresh refreshFunc,
) *Session {
	return &Session{
		store:      store,
		cache:      cache,
		listener:   listener,
		logger:     logger,
		refresh:    refresh,
		maxWaiters: MaxRefreshWaiters,
	}
}

// AccessToken returns the stored access token, or "" when there is none or
// the store cannot be read.
func (s *Session) AccessToken() string {
	return s.readToken(tokenstore.AccessTokenKey)
}

func (s *Session) readToken(key string) string {
	token, err := s.store.Get(key)
	if err != nil {
		s.logger.Warn("failed to read token store", zap.String("key", key), zap.Error(err))
		return ""
	}
	return token
}

// SetTokens stores a freshly issued token pair and re-arms teardown. An
// empty refresh token keeps the stored one.
func (s *Session) SetTokens(token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist(token); err != nil {
		return err
	}
	s.loggingOut = false
	return nil
}

// persist writes token to the store. Callers hold s.mu.
func (s *Session) persist(token *oauth2.Token) error {
	values := map[string]string{tokenstore.AccessTokenKey: token.AccessToken}
	if token.RefreshToken != "" {
		values[tokenstore.RefreshTokenKey] = token.RefreshToken
	}
	return s.store.Set(values)
}

// Refreshing reports whether a refresh call is in flight.
func (s *Session) Refreshing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshing
}

// Waiting reports how many requests are queued behind the in-flight refresh.
func (s *Session) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// Cache returns the session's response cache.
func (s *Session) Cache() *ResponseCache {
	return s.cache
}

// awaitToken returns a fresh access token after a 401. The first caller
// performs the refresh; callers arriving while it runs are queued.
func (s *Session) awaitToken(ctx context.Context) (string, error) {
	s.mu.Lock()

	if s.refreshing {
		if len(s.waiters) >= s.maxWaiters {
			s.mu.Unlock()
			s.logger.Warn("refresh queue full, ending session",
				zap.Int("waiters", s.maxWaiters))
			s.teardown(ErrRefreshQueueFull)
			return "", ErrRefreshQueueFull
		}
		ch := make(chan refreshResult, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			// ch is buffered, the owner never blocks on us
			return "", ctx.Err()
		}
	}

	refreshToken := s.readToken(tokenstore.RefreshTokenKey)
	if refreshToken == "" {
		s.mu.Unlock()
		s.teardown(ErrNoRefreshToken)
		return "", ErrNoRefreshToken
	}
	s.refreshing = true
	generation := s.generation
	s.mu.Unlock()

	observer, _ := s.listener.(RefreshObserver)
	if observer != nil {
		observer.RefreshStarted()
	}

	// One caller giving up must not fail the refresh for everyone queued.
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), RefreshTimeout)
	token, err := s.refresh(refreshCtx, refreshToken)
	cancel()

	if err == nil && token.RefreshToken == "" {
		// fixed mode: the server keeps the old refresh token valid
		token.RefreshToken = refreshToken
	}

	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	if err == nil && s.generation == generation {
		// persist before clearing the flag so the next 401 sees the rotated token
		if saveErr := s.persist(token); saveErr != nil {
			s.logger.Warn("failed to save refreshed tokens", zap.Error(saveErr))
		}
	}
	s.refreshing = false
	s.mu.Unlock()

	if observer != nil {
		observer.RefreshFinished(err)
	}

	if err != nil {
		s.logger.Info("token refresh failed", zap.Int("waiters", len(waiters)), zap.Error(err))
		for _, w := range waiters {
			w <- refreshResult{err: err}
		}
		s.teardown(err)
		return "", err
	}

	s.logger.Debug("token refreshed", zap.Int("waiters", len(waiters)))
	for _, w := range waiters {
		w <- refreshResult{token: token.AccessToken}
	}
	return token.AccessToken, nil
}

// teardown ends the session at most once until the next SetTokens.
func (s *Session) teardown(reason error) {
	s.end(reason, false)
}

// Clear ends the session on explicit sign-out. Local tokens and cached
// responses are always dropped; the listener hears about it only if the
// session had not already been torn down.
func (s *Session) Clear() {
	s.end(ErrSessionEnded, true)
}

func (s *Session) end(reason error, always bool) {
	s.mu.Lock()
	already := s.loggingOut
	if already && !always {
		s.mu.Unlock()
		return
	}
	s.loggingOut = true
	s.generation++
	s.mu.Unlock()

	if err := s.store.Delete(tokenstore.AccessTokenKey, tokenstore.RefreshTokenKey); err != nil {
		s.logger.Warn("failed to clear token store", zap.Error(err))
	}
	s.cache.Invalidate("")

	if !already {
		s.logger.Info("session ended", zap.Error(reason))
		s.listener.SessionEnded(reason)
	}
}
