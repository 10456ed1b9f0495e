package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"
)

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want Model", next)
	}
	return nm, cmd
}

func press(key rune) tea.KeyPressMsg {
	return tea.KeyPressMsg{Code: key, Text: string(key)}
}

func TestModelRequestLifecycle(t *testing.T) {
	m := NewModel()
	m, _ = update(t, m, MsgBanner{Server: "http://api.test"})
	m, cmd := update(t, m, MsgRequestStarted{Method: "GET", Path: "/articles", Count: 3})
	if cmd == nil {
		t.Error("expected elapsed-timer command after request start")
	}
	if m.state != stateRequesting {
		t.Fatalf("state = %v, want stateRequesting", m.state)
	}
	if m.request != "GET /articles (x3)" {
		t.Errorf("request = %q", m.request)
	}

	m, _ = update(t, m, MsgRequestOK{Body: `{"ok":true}`})
	if !m.Succeeded() || m.state != stateSuccess {
		t.Errorf("state = %v succeeded = %v after RequestOK", m.state, m.Succeeded())
	}
	if !strings.Contains(m.viewSuccess(), `{"ok":true}`) {
		t.Error("success view should render the body")
	}
}

func TestModelToastShownWithHint(t *testing.T) {
	m := NewModel()
	m, _ = update(t, m, MsgToast{ID: "1", Message: "Server error (503)"})

	out := m.viewMain()
	if !strings.Contains(out, "Server error (503)") {
		t.Error("toast message missing from view")
	}
	if !strings.Contains(out, "press r to retry") {
		t.Error("retry hint missing from view")
	}
}

func TestModelRetryKeyRunsAction(t *testing.T) {
	var called bool
	m := NewModel()
	m, _ = update(t, m, MsgToast{
		ID:      "1",
		Message: "Server error (503)",
		Retry:   func(context.Context) ([]byte, error) { return nil, nil },
	})

	m, cmd := update(t, m, press('r'))
	if cmd == nil {
		t.Fatal("expected a command after pressing r")
	}
	if m.state != stateRetrying {
		t.Errorf("state = %v, want stateRetrying", m.state)
	}
	if m.toast != nil {
		t.Error("toast should be consumed by the retry")
	}

	// A second press while retrying is ignored.
	if _, again := update(t, m, press('r')); again != nil {
		t.Error("second r press should not start another retry")
	}

	msg := retryCmd(func(ctx context.Context) ([]byte, error) {
		called = true
		return []byte(`{"ok":true}`), nil
	})()
	if !called {
		t.Error("retry action was not run")
	}

	m, cmd = update(t, m, msg)
	if !m.Succeeded() {
		t.Error("successful retry should mark the run succeeded")
	}
	if got := string(m.RetryBody()); got != `{"ok":true}` {
		t.Errorf("RetryBody() = %q, want the replayed response", got)
	}
	if cmd == nil {
		t.Fatal("successful retry should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg after successful retry")
	}
}

func TestModelRetryFailureStays(t *testing.T) {
	m := NewModel()
	m, _ = update(t, m, MsgRetryResult{Err: errors.New("dial tcp: refused")})
	if m.state != stateError {
		t.Errorf("state = %v, want stateError", m.state)
	}
	if m.Succeeded() {
		t.Error("failed retry must not mark success")
	}
	if m.RetryBody() != nil {
		t.Error("failed retry must not carry a body")
	}
}

func TestModelRetryWithoutToastIgnored(t *testing.T) {
	m := NewModel()
	m, cmd := update(t, m, press('r'))
	if cmd != nil {
		t.Error("r without a toast should be a no-op")
	}
	if m.state != stateInit {
		t.Errorf("state = %v, want stateInit", m.state)
	}
}

func TestModelSessionEndedClearsToast(t *testing.T) {
	m := NewModel()
	m, _ = update(t, m, MsgToast{Message: "Network error", Retry: func(context.Context) ([]byte, error) { return nil, nil }})
	m, _ = update(t, m, MsgSessionEnded{Reason: errors.New("refresh token expired")})

	if m.state != stateSignedOut {
		t.Errorf("state = %v, want stateSignedOut", m.state)
	}
	if m.toast != nil {
		t.Error("toast should be dropped when the session ends")
	}
	if !strings.Contains(m.viewSignedOut(), "sign in again") {
		t.Error("signed-out view should ask to sign in again")
	}
}

func TestModelRefreshMessages(t *testing.T) {
	m := NewModel()
	m, _ = update(t, m, MsgRefreshing{})
	if m.state != stateRefreshing {
		t.Errorf("state = %v, want stateRefreshing", m.state)
	}
	m, _ = update(t, m, MsgRefreshDone{})
	if m.state != stateRequesting {
		t.Errorf("state = %v, want stateRequesting", m.state)
	}
	if len(m.statusLines) != 2 {
		t.Errorf("status lines = %d, want 2", len(m.statusLines))
	}
}

func TestModelQuitKeys(t *testing.T) {
	_, cmd := update(t, NewModel(), press('q'))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0s", "0s"},
		{"45s", "45s"},
		{"2m5s", "2m 5s"},
	}
	for _, tt := range tests {
		d, err := time.ParseDuration(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if got := formatDuration(d); got != tt.want {
			t.Errorf("formatDuration(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
