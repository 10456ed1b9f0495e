package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// retryTimeout bounds a retry triggered from a toast.
const retryTimeout = 30 * time.Second

// maxBodyLines caps how much of a response body the success view shows.
const maxBodyLines = 20

// tickMsg is fired every second to update the elapsed timer.
type tickMsg time.Time

// state represents the current phase of a run.
type state int

const (
	stateInit       state = iota
	stateRequesting       // requests in flight
	stateRefreshing       // refreshing the access token
	stateRetrying         // replaying a failed request from a toast
	stateSuccess          // all done
	stateError            // fatal or request error
	stateSignedOut        // session torn down
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// toast is the latest retryable failure.
type toast struct {
	id      string
	message string
	retry   func(ctx context.Context) ([]byte, error)
}

// Model is the BubbleTea model for the request TUI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	server    string
	request   string
	started   time.Time
	elapsed   time.Duration
	body      string
	errMsg    string
	succeeded bool
	retryBody []byte

	toast *toast

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	styleToastBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Succeeded reports whether the run ended with a successful response or a
// successful retry.
func (m Model) Succeeded() bool {
	return m.succeeded
}

// RetryBody is the raw response of a successful retry, nil otherwise.
func (m Model) RetryBody() []byte {
	return m.retryBody
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if !m.busy() {
			return m, nil
		}
		m.elapsed = time.Since(m.started)
		return m, tickAfterSecond()

	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "r":
			return m.retry()
		}
		return m, nil

	case MsgBanner:
		m.server = msg.Server
		return m, nil

	case MsgTokensFound:
		m.addStatus(statusOK, "Using stored session from "+msg.Path)
		return m, nil

	case MsgTokensNotFound:
		m.addStatus(statusInfo, "No stored session found")
		return m, nil

	case MsgSignedIn:
		m.addStatus(statusOK, "Signed in as "+msg.Email)
		return m, nil

	case MsgRequestStarted:
		m.request = msg.Method + " " + msg.Path
		if msg.Count > 1 {
			m.request += fmt.Sprintf(" (x%d)", msg.Count)
		}
		m.state = stateRequesting
		m.started = time.Now()
		m.elapsed = 0
		return m, tickAfterSecond()

	case MsgRequestOK:
		m.body = msg.Body
		m.succeeded = true
		m.state = stateSuccess
		return m, nil

	case MsgRequestFailed:
		m.errMsg = msg.Message
		m.state = stateError
		return m, nil

	case MsgToast:
		m.toast = &toast{id: msg.ID, message: msg.Message, retry: msg.Retry}
		m.addStatus(statusWarn, msg.Message)
		return m, nil

	case MsgRetryResult:
		if msg.Err != nil {
			// A failed replay raises its own toast through the notifier.
			m.state = stateError
			m.errMsg = msg.Err.Error()
			m.addStatus(statusWarn, "Retry failed")
			return m, nil
		}
		m.toast = nil
		m.retryBody = msg.Body
		m.succeeded = true
		m.state = stateSuccess
		m.addStatus(statusOK, "Retry succeeded")
		return m, tea.Quit

	case MsgRefreshing:
		m.state = stateRefreshing
		m.addStatus(statusWarn, "Access token rejected (401), refreshing...")
		return m, nil

	case MsgRefreshDone:
		if msg.Err != nil {
			m.addStatus(statusWarn, fmt.Sprintf("Refresh failed: %v", msg.Err))
			return m, nil
		}
		m.state = stateRequesting
		m.addStatus(statusOK, "Token refreshed, retrying...")
		return m, nil

	case MsgSessionEnded:
		m.state = stateSignedOut
		m.toast = nil
		if msg.Reason != nil {
			m.errMsg = msg.Reason.Error()
		}
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

func (m Model) busy() bool {
	return m.state == stateRequesting || m.state == stateRefreshing ||
		m.state == stateRetrying
}

// retry runs the pending toast's action in the background.
func (m Model) retry() (tea.Model, tea.Cmd) {
	if m.toast == nil || m.toast.retry == nil || m.state == stateRetrying {
		return m, nil
	}
	run := m.toast.retry
	m.toast = nil
	m.state = stateRetrying
	m.started = time.Now()
	m.addStatus(statusInfo, "Retrying...")
	return m, tea.Batch(tickAfterSecond(), retryCmd(run))
}

func retryCmd(run func(ctx context.Context) ([]byte, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), retryTimeout)
		defer cancel()
		body, err := run(ctx)
		return MsgRetryResult{Body: body, Err: err}
	}
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	case stateSignedOut:
		return tea.NewView(m.viewSignedOut())
	default:
		return tea.NewView(m.viewMain())
	}
}

func (m Model) title() string {
	t := "  API Session  "
	if m.server != "" {
		t = "  API Session: " + m.server + "  "
	}
	return "\n" + styleTitleBox.Render(t) + "\n\n"
}

// viewMain is shown while requests are in flight.
func (m Model) viewMain() string {
	var b strings.Builder
	b.WriteString(m.title())

	b.WriteString(m.spinner.View())
	switch m.state {
	case stateRequesting:
		b.WriteString(" " + m.request + "  ")
		b.WriteString(styleDim.Render(formatDuration(m.elapsed)))
	case stateRefreshing:
		b.WriteString(" Refreshing access token...")
	case stateRetrying:
		b.WriteString(" Retrying " + m.request + "...")
	default:
		b.WriteString(" Initializing...")
	}
	b.WriteString("\n")

	b.WriteString(m.viewToast())
	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewSuccess() string {
	var b strings.Builder
	b.WriteString(m.title())
	b.WriteString(styleOK.Render("  ✓ " + m.request))
	b.WriteString("\n")

	if m.body != "" {
		b.WriteString("\n")
		lines := strings.Split(m.body, "\n")
		if len(lines) > maxBodyLines {
			lines = append(lines[:maxBodyLines], "...")
		}
		for _, l := range lines {
			b.WriteString("  " + l + "\n")
		}
	}

	b.WriteString(m.viewStatusLog())
	b.WriteString(styleDim.Render("\n  press q to quit"))
	return b.String()
}

func (m Model) viewError() string {
	var b strings.Builder
	b.WriteString(m.title())
	b.WriteString(styleErr.Render("  ✗ Request failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewToast())
	b.WriteString(m.viewStatusLog())
	return b.String()
}

func (m Model) viewSignedOut() string {
	var b strings.Builder
	b.WriteString(m.title())
	b.WriteString(styleWarn.Render("  Signed out. Please sign in again."))
	b.WriteString("\n")
	if m.errMsg != "" {
		b.WriteString(styleDim.Render("  " + m.errMsg))
		b.WriteString("\n")
	}
	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewToast renders the pending retryable failure, if any.
func (m Model) viewToast() string {
	if m.toast == nil {
		return ""
	}
	return "\n" + styleToastBox.Render(m.toast.message) + "\n" +
		styleDim.Render("  press r to retry, q to quit") + "\n"
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
