package tui

import (
	"errors"
	"fmt"
	"io"
	"sync"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/apisession/api"
)

// Displayer abstracts all user-facing output of a session. It doubles as the
// api client's Notifier, SessionListener and RefreshObserver.
type Displayer interface {
	api.Notifier
	api.SessionListener
	api.RefreshObserver

	Banner(server string)
	TokensFound(path string)
	TokensNotFound()
	SignedIn(email string)
	RequestStarted(method, path string, count int)
	RequestOK(body string)
	RequestFailed(err *api.APIError)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *PlainDisplayer) Banner(server string) {
	p.printf("=== API session: %s ===\n\n", server)
}

func (p *PlainDisplayer) TokensFound(path string) {
	p.printf("Using stored session from %s\n", path)
}

func (p *PlainDisplayer) TokensNotFound() {
	p.printf("No stored session found\n")
}

func (p *PlainDisplayer) SignedIn(email string) {
	p.printf("Signed in as %s\n", email)
}

func (p *PlainDisplayer) RequestStarted(method, path string, count int) {
	if count > 1 {
		p.printf("%s %s (x%d)\n", method, path, count)
		return
	}
	p.printf("%s %s\n", method, path)
}

// RequestOK only confirms; the body itself goes to stdout.
func (p *PlainDisplayer) RequestOK(body string) {
	p.printf("OK (%d bytes)\n", len(body))
}

func (p *PlainDisplayer) RequestFailed(err *api.APIError) {
	if err.Code != "" {
		p.printf("Request failed: %s (%s)\n", err.Message, err.Code)
		return
	}
	p.printf("Request failed: %s\n", err.Message)
}

// Notify prints the toast. Plain output has no way to offer the retry
// action, so the user is told to rerun instead.
func (p *PlainDisplayer) Notify(n api.Notification) {
	p.printf("%s (rerun to retry %s %s)\n", n.Message, n.Method, n.Path)
}

func (p *PlainDisplayer) RefreshStarted() {
	p.printf("Access token rejected (401), refreshing...\n")
}

func (p *PlainDisplayer) RefreshFinished(err error) {
	if err != nil {
		p.printf("Refresh failed: %v\n", err)
		return
	}
	p.printf("Token refreshed, retrying...\n")
}

func (p *PlainDisplayer) SessionEnded(reason error) {
	if errors.Is(reason, api.ErrSessionEnded) {
		p.printf("Signed out.\n")
		return
	}
	p.printf("Session expired (%v). Please sign in again.\n", reason)
}

func (p *PlainDisplayer) Fatal(err error) {
	p.printf("Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner(_ string)                   {}
func (NoopDisplayer) TokensFound(_ string)              {}
func (NoopDisplayer) TokensNotFound()                   {}
func (NoopDisplayer) SignedIn(_ string)                 {}
func (NoopDisplayer) RequestStarted(_, _ string, _ int) {}
func (NoopDisplayer) RequestOK(_ string)                {}
func (NoopDisplayer) RequestFailed(_ *api.APIError)     {}
func (NoopDisplayer) Notify(_ api.Notification)         {}
func (NoopDisplayer) RefreshStarted()                   {}
func (NoopDisplayer) RefreshFinished(_ error)           {}
func (NoopDisplayer) SessionEnded(_ error)              {}
func (NoopDisplayer) Fatal(_ error)                     {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner(server string) {
	t.p.Send(MsgBanner{Server: server})
}

func (t *ProgramDisplayer) TokensFound(path string) {
	t.p.Send(MsgTokensFound{Path: path})
}

func (t *ProgramDisplayer) TokensNotFound() {
	t.p.Send(MsgTokensNotFound{})
}

func (t *ProgramDisplayer) SignedIn(email string) {
	t.p.Send(MsgSignedIn{Email: email})
}

func (t *ProgramDisplayer) RequestStarted(method, path string, count int) {
	t.p.Send(MsgRequestStarted{Method: method, Path: path, Count: count})
}

func (t *ProgramDisplayer) RequestOK(body string) {
	t.p.Send(MsgRequestOK{Body: body})
}

func (t *ProgramDisplayer) RequestFailed(err *api.APIError) {
	t.p.Send(MsgRequestFailed{Message: err.Message})
}

func (t *ProgramDisplayer) Notify(n api.Notification) {
	t.p.Send(MsgToast{ID: n.ID, Message: n.Message, Retry: n.Retry})
}

func (t *ProgramDisplayer) RefreshStarted() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshFinished(err error) {
	t.p.Send(MsgRefreshDone{Err: err})
}

func (t *ProgramDisplayer) SessionEnded(reason error) {
	t.p.Send(MsgSessionEnded{Reason: reason})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
