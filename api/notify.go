package api

import "context"

// Messages shown for failures that get a retry affordance.
const (
	networkErrorMessage = "Network error — check your connection"
	serverErrorFormat   = "Server error (%d)"
)

// Notification is a non-blocking, user-facing report of a failed request.
// Retry replays the exact original request through the same pipeline and
// returns the raw response body. A failure of the replay produces a new
// Notification rather than another automatic retry.
//
// Replaying a non-idempotent request (a POST that creates something) can
// duplicate its side effect on the server. Deciding whether to offer the
// action for such requests is left to the caller.
type Notification struct {
	ID      string
	Kind    ErrorKind
	Message string
	Method  string
	Path    string
	Retry   func(ctx context.Context) ([]byte, error)
}

// Notifier surfaces notifications to the user. Notify must not block.
type Notifier interface {
	Notify(n Notification)
}

// SessionListener is told when the session is torn down, either because the
// refresh protocol gave up or because the user signed out. It stands in for
// the global auth state and the navigation back to the login view.
type SessionListener interface {
	SessionEnded(reason error)
}

// RefreshObserver is an optional extension of SessionListener reporting the
// silent refresh cycle, mainly for diagnostics.
type RefreshObserver interface {
	RefreshStarted()
	RefreshFinished(err error)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

type nopListener struct{}

func (nopListener) SessionEnded(error) {}
