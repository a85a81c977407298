// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rover/internal/agent"
	"github.com/xkilldash9x/rover/internal/config"
	"github.com/xkilldash9x/rover/internal/observability"
)

const (
	launchTimeout       = 30 * time.Second
	teardownGracePeriod = 15 * time.Second
)

// SetupError reports why a browser session could not be created.
type SetupError struct {
	URL string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("browser setup failed for %s: %v", e.URL, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Manager owns the process-wide browser session. There is at most one
// session at a time: a second Setup tears the first one down before
// launching a replacement.
type Manager struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	persona Persona

	mu      sync.Mutex
	session *Session
}

// NewManager creates a manager. No browser is launched until Setup.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		logger:  logger.Named("browser_manager"),
		cfg:     cfg,
		persona: NewPersona(cfg),
	}
}

// Current returns the active session, or nil when there is none.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Page returns the active session as an agent.Page.
func (m *Manager) Page() (agent.Page, bool) {
	s := m.Current()
	if s == nil {
		return nil, false
	}
	return s, true
}

// Setup launches a browser, applies the persona and opens url (the search
// URL when empty). A navigation failure falls back to the search URL before
// setup is declared failed. Failures are returned as *SetupError.
func (m *Manager) Setup(ctx context.Context, url string) (*Session, error) {
	if url == "" {
		url = m.cfg.SearchURL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.logger.Info("Replacing existing browser session.", zap.String("session_id", m.session.ID()))
		m.teardown(ctx)
	}

	s, err := m.launch(ctx)
	if err != nil {
		return nil, &SetupError{URL: url, Err: err}
	}
	if err := m.open(ctx, s, url); err != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownGracePeriod)
		defer cancel()
		_ = s.Close(closeCtx)
		return nil, &SetupError{URL: url, Err: err}
	}

	m.session = s
	observability.SetSessionActive(true)
	s.logger.Info("Browser session ready.", zap.String("url", url))
	return s, nil
}

// Cleanup tears down the active session. It is idempotent.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.teardown(ctx)
}

// teardown must be called with m.mu held.
func (m *Manager) teardown(ctx context.Context) error {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownGracePeriod)
	defer cancel()
	err := m.session.Close(closeCtx)
	m.session = nil
	observability.SetSessionActive(false)
	if err != nil {
		m.logger.Warn("Browser session did not close cleanly.", zap.Error(err))
	}
	return err
}

// launch starts a browser process and its single tab. The process outlives
// ctx; it is bound to the returned session instead.
func (m *Manager) launch(ctx context.Context) (*Session, error) {
	m.logger.Info("Launching browser...", zap.Bool("headless", m.cfg.Headless))

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	s := newSession(tabCtx, tabCancel, allocCancel, m.cfg, m.logger)

	// The first Run allocates the browser and binds it to tabCtx, so it
	// cannot carry a timeout of its own.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()

	timer := time.NewTimer(launchTimeout)
	defer timer.Stop()
	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, fmt.Errorf("browser failed to start: %w", err)
		}
	case <-timer.C:
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("browser did not start within %s", launchTimeout)
	case <-ctx.Done():
		tabCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	chromedp.ListenTarget(tabCtx, s.idle.handle)
	return s, nil
}

// open applies the persona and performs the initial navigation.
func (m *Manager) open(ctx context.Context, s *Session, url string) error {
	if err := s.run(ctx, ApplyPersona(m.persona, s.logger)); err != nil {
		return fmt.Errorf("failed to apply persona: %w", err)
	}

	err := s.navigate(ctx, url, s.navigationTimeout())
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Warn("Initial navigation failed; falling back to search page.", zap.String("url", url), zap.Error(err))

	fallback := m.cfg.FallbackTimeout
	if fallback <= 0 {
		fallback = 60 * time.Second
	}
	if ferr := s.navigate(ctx, m.cfg.SearchURL, fallback); ferr != nil {
		return fmt.Errorf("%w (fallback: %v)", err, ferr)
	}
	return nil
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions {
		opts = append(opts, opt)
	}
	flags := allocatorFlags(m.cfg, runtime.GOOS)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}
	if m.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(m.cfg.UserAgent))
	}
	if w, h := m.cfg.Viewport["width"], m.cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	return opts
}

// allocatorFlags assembles the command line flags for the browser. Flags
// from config come last and win.
func allocatorFlags(cfg config.BrowserConfig, goos string) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":                  cfg.Headless,
		"ignore-certificate-errors": cfg.IgnoreTLSErrors,
		"disable-extensions":        true,
		"disable-dev-shm-usage":     true,
		"disable-gpu":               cfg.Headless,
	}
	if goos == "linux" {
		flags["no-sandbox"] = true
		flags["disable-setuid-sandbox"] = true
	}
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}
