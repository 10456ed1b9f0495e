package tui

import (
	"context"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{ Server string }

// MsgTokensFound signals that a stored session was found.
type MsgTokensFound struct{ Path string }

// MsgTokensNotFound signals that no stored session exists.
type MsgTokensNotFound struct{}

// MsgSignedIn signals a successful login.
type MsgSignedIn struct{ Email string }

// MsgRequestStarted signals that requests are on their way.
type MsgRequestStarted struct {
	Method string
	Path   string
	Count  int
}

// MsgRequestOK carries a successful response body.
type MsgRequestOK struct{ Body string }

// MsgRequestFailed carries a normalised failure.
type MsgRequestFailed struct{ Message string }

// MsgToast is a network or server error with a retry action.
type MsgToast struct {
	ID      string
	Message string
	Retry   func(ctx context.Context) ([]byte, error)
}

// MsgRetryResult reports the outcome of a toast's retry action.
type MsgRetryResult struct {
	Body []byte
	Err  error
}

// MsgRefreshing signals that the access token is being refreshed.
type MsgRefreshing struct{}

// MsgRefreshDone signals the end of a refresh cycle.
type MsgRefreshDone struct{ Err error }

// MsgSessionEnded signals that the session was torn down and the user has
// to sign in again.
type MsgSessionEnded struct{ Reason error }

// MsgFatal signals a fatal error that should terminate the flow.
type MsgFatal struct{ Err error }
