package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/go-authgate/apisession/api"
	"github.com/go-authgate/apisession/tokenstore"
	"github.com/go-authgate/apisession/tui"
)

const (
	defaultServerURL = "http://localhost:8000"
	defaultTokenFile = ".apisession-tokens.json"
	defaultLogLevel  = "warn"
)

// envConfig is decoded from the environment after .env has been loaded.
type envConfig struct {
	ServerURL     string `envconfig:"SERVER_URL"`
	TokenFile     string `envconfig:"TOKEN_FILE"`
	Profile       string `envconfig:"PROFILE"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
	LoginEmail    string `envconfig:"LOGIN_EMAIL"`
	LoginPassword string `envconfig:"LOGIN_PASSWORD"`
}

// options is the resolved configuration of one invocation.
type options struct {
	serverURL string
	tokenFile string
	profile   string
	logLevel  string
	email     string
	password  string

	method      string
	path        string
	params      map[string]any
	data        json.RawMessage
	ttl         time.Duration
	timeout     time.Duration
	concurrency int
	logout      bool
}

// paramFlag collects repeated -param key=value flags. A repeated key becomes
// a list.
type paramFlag map[string]any

func (p paramFlag) String() string {
	parts := make([]string, 0, len(p))
	for k, v := range p {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, ",")
}

func (p paramFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	switch prev := p[k].(type) {
	case nil:
		p[k] = v
	case string:
		p[k] = []string{prev, v}
	case []string:
		p[k] = append(prev, v)
	}
	return nil
}

// loadConfig resolves options with priority flag > env > .env > default.
func loadConfig(args []string) (*options, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	var env envConfig
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return parseOptions(args, env)
}

func parseOptions(args []string, env envConfig) (*options, error) {
	fs := flag.NewFlagSet("apisession", flag.ContinueOnError)
	serverURL := fs.String(
		"server-url",
		"",
		"API server URL (default: "+defaultServerURL+" or SERVER_URL env)",
	)
	tokenFile := fs.String(
		"token-file",
		"",
		"Token storage file (default: "+defaultTokenFile+" or TOKEN_FILE env)",
	)
	profile := fs.String("profile", "", "Token profile (default: server host or PROFILE env)")
	logLevel := fs.String("log-level", "", "Log level (default: warn or LOG_LEVEL env)")

	method := fs.String("method", http.MethodGet, "HTTP method")
	path := fs.String("path", "", "API path, e.g. /articles (required)")
	params := paramFlag{}
	fs.Var(params, "param", "query parameter key=value (repeatable)")
	data := fs.String("data", "", "JSON request body")
	ttl := fs.Duration("ttl", 0, "serve GET requests from the response cache for this long")
	timeout := fs.Duration("timeout", api.DefaultTimeout, "per-request timeout")
	concurrency := fs.Int("concurrency", 1, "number of identical requests to fire at once")
	logout := fs.Bool("logout", false, "sign out and clear the stored session")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts := &options{
		serverURL:   getConfig(*serverURL, env.ServerURL, defaultServerURL),
		tokenFile:   getConfig(*tokenFile, env.TokenFile, defaultTokenFile),
		logLevel:    getConfig(*logLevel, env.LogLevel, defaultLogLevel),
		email:       env.LoginEmail,
		password:    env.LoginPassword,
		method:      strings.ToUpper(strings.TrimSpace(*method)),
		path:        *path,
		ttl:         *ttl,
		timeout:     *timeout,
		concurrency: *concurrency,
		logout:      *logout,
	}
	if len(params) > 0 {
		opts.params = params
	}

	if err := validateServerURL(opts.serverURL); err != nil {
		return nil, fmt.Errorf("invalid SERVER_URL: %w", err)
	}
	opts.profile = getConfig(*profile, env.Profile, serverHost(opts.serverURL))

	if opts.logout {
		return opts, nil
	}

	if opts.path == "" {
		return nil, errors.New("-path is required")
	}
	if !strings.HasPrefix(opts.path, "/") {
		opts.path = "/" + opts.path
	}
	if *data != "" {
		if !json.Valid([]byte(*data)) {
			return nil, errors.New("-data must be valid JSON")
		}
		opts.data = json.RawMessage(*data)
	}
	if opts.ttl < 0 {
		return nil, errors.New("-ttl cannot be negative")
	}
	if opts.ttl > 0 && opts.method != http.MethodGet {
		return nil, fmt.Errorf("-ttl only applies to GET requests, got %s", opts.method)
	}
	if opts.concurrency < 1 {
		return nil, fmt.Errorf("-concurrency must be at least 1, got %d", opts.concurrency)
	}
	return opts, nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envValue, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue != "" {
		return envValue
	}
	return defaultValue
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

func serverHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// newLogger builds a zap logger writing JSON lines to stderr.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	return cfg.Build()
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// awaitsRetry reports whether a failed run left a retry toast worth keeping
// the TUI open for.
func awaitsRetry(err error) bool {
	switch api.Classify(err) {
	case api.KindNetwork, api.KindServer:
		return true
	}
	return false
}

func main() {
	opts, err := loadConfig(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(opts.serverURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}

	logger, err := newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		body   string
		runErr error
	)
	if isTTY() {
		// Run TUI program on stderr so stdout pipes are not corrupted. Input
		// stays enabled for the retry and quit keys.
		p := tea.NewProgram(tui.NewModel(), tea.WithOutput(os.Stderr))

		var (
			wg    sync.WaitGroup
			final tea.Model
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if final, err = p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner(opts.serverURL)
		body, runErr = run(ctx, opts, d, logger)
		if !awaitsRetry(runErr) {
			p.Quit()
		}
		wg.Wait()

		if m, ok := final.(tui.Model); ok && runErr != nil && m.Succeeded() {
			runErr = nil
			body = formatBody(m.RetryBody())
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner(opts.serverURL)
		body, runErr = run(ctx, opts, d, logger)
	}

	if body != "" {
		fmt.Println(body)
	}
	if runErr != nil {
		logger.Debug("run failed", zap.Error(runErr))
		os.Exit(1)
	}
}

// run signs in if needed and fires the configured request. It returns the
// formatted response body of the first request.
func run(ctx context.Context, opts *options, d tui.Displayer, logger *zap.Logger) (string, error) {
	store := tokenstore.NewFileStore(opts.tokenFile, opts.profile)
	client, err := api.New(
		opts.serverURL,
		api.WithStore(store),
		api.WithNotifier(d),
		api.WithSessionListener(d),
		api.WithLogger(logger),
	)
	if err != nil {
		d.Fatal(err)
		return "", err
	}

	if opts.logout {
		client.Logout(ctx)
		return "", nil
	}

	if client.Session().AccessToken() != "" {
		d.TokensFound(opts.tokenFile)
	} else {
		d.TokensNotFound()
		if err := signIn(ctx, client, opts); err != nil {
			d.Fatal(err)
			return "", err
		}
		d.SignedIn(opts.email)
	}

	d.RequestStarted(opts.method, opts.path, opts.concurrency)

	results := make([]json.RawMessage, opts.concurrency)
	var g errgroup.Group
	for i := range opts.concurrency {
		g.Go(func() error {
			return doRequest(ctx, client, opts, &results[i])
		})
	}
	if err := g.Wait(); err != nil {
		d.RequestFailed(api.ParseAPIError(err))
		return "", err
	}

	body := formatBody(results[0])
	d.RequestOK(body)
	return body, nil
}

func signIn(ctx context.Context, client *api.Client, opts *options) error {
	if opts.email == "" || opts.password == "" {
		return errors.New("not signed in: set LOGIN_EMAIL and LOGIN_PASSWORD")
	}
	if _, err := client.Login(ctx, opts.email, opts.password); err != nil {
		return fmt.Errorf("sign-in failed: %s", api.ParseAPIError(err).Message)
	}
	return nil
}

func doRequest(ctx context.Context, client *api.Client, opts *options, out *json.RawMessage) error {
	rc := api.RequestConfig{
		Method:  opts.method,
		Path:    opts.path,
		Params:  opts.params,
		Timeout: opts.timeout,
	}
	if opts.ttl > 0 {
		return client.CachedDo(ctx, rc, opts.ttl, out)
	}
	if opts.data != nil {
		rc.Body = opts.data
	}
	return client.Do(ctx, rc, out)
}

// formatBody indents JSON bodies and returns anything else unchanged.
func formatBody(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var b bytes.Buffer
	if err := json.Indent(&b, raw, "", "  "); err != nil {
		return string(raw)
	}
	return b.String()
}
