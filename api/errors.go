package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrNoRefreshToken is returned for a 401 when no refresh token is stored.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshQueueFull is returned when too many requests are already
	// waiting on an in-flight refresh.
	ErrRefreshQueueFull = errors.New("too many requests waiting for token refresh")

	// ErrRefreshFailed wraps every failure of the refresh exchange.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrRefreshTokenExpired indicates that the refresh token has expired or is invalid
	ErrRefreshTokenExpired = errors.New("refresh token expired or invalid")

	// ErrSessionEnded is passed to SessionListener when the user signs out.
	ErrSessionEnded = errors.New("session ended")
)

// fallbackMessage is shown for values that carry no usable message.
const fallbackMessage = "An unexpected error occurred"

// HTTPError is a response with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Method     string
	Path       string
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed with status code %d", e.StatusCode)
}

// ErrorKind is the coarse class of a failed request.
type ErrorKind int

const (
	KindUnknown         ErrorKind = iota
	KindUnauthenticated           // 401
	KindClient                    // other 4xx
	KindServer                    // 5xx
	KindNetwork                   // no response received
	KindCanceled                  // cancelled or timed out, reported silently
	KindSession                   // refresh protocol gave up on the session
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	case KindNetwork:
		return "network"
	case KindCanceled:
		return "canceled"
	case KindSession:
		return "session"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by Client to its ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, ErrNoRefreshToken) ||
		errors.Is(err, ErrRefreshQueueFull) ||
		errors.Is(err, ErrRefreshFailed) {
		return KindSession
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusUnauthorized:
			return KindUnauthenticated
		case httpErr.StatusCode >= 500:
			return KindServer
		case httpErr.StatusCode >= 400:
			return KindClient
		}
		return KindUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindCanceled
	}
	var transportErr *transportError
	if errors.As(err, &transportErr) {
		return KindNetwork
	}
	return KindUnknown
}

// transportError marks a failure where no response was received.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "network error: " + e.err.Error() }

func (e *transportError) Unwrap() error { return e.err }

// APIError is the uniform shape used to present failures to the user.
type APIError struct {
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string { return e.Message }

// errorBody is the structured error payload returned by the backend.
type errorBody struct {
	Detail  any            `json:"detail"`
	Message any            `json:"message"`
	Code    any            `json:"code"`
	Details map[string]any `json:"details"`
}

// ParseAPIError normalises any returned or recovered value into an APIError.
// It never panics.
func ParseAPIError(v any) (out *APIError) {
	defer func() {
		// typed-nil errors can panic inside Error()
		if recover() != nil {
			out = &APIError{Message: fallbackMessage}
		}
	}()

	err, ok := v.(error)
	if !ok || err == nil {
		return &APIError{Message: fallbackMessage}
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr != nil {
		out = &APIError{Message: httpErr.Error()}
		var body errorBody
		if len(httpErr.Body) > 0 && json.Unmarshal(httpErr.Body, &body) == nil {
			if msg, ok := body.Detail.(string); ok && msg != "" {
				out.Message = msg
			} else if msg, ok := body.Message.(string); ok && msg != "" {
				out.Message = msg
			}
			if code, ok := body.Code.(string); ok {
				out.Code = code
			}
			out.Details = body.Details
		}
		return out
	}

	if msg := err.Error(); msg != "" {
		return &APIError{Message: msg}
	}
	return &APIError{Message: fallbackMessage}
}
