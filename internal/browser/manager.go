// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/internal/config"
)

const (
	startupTimeout      = 60 * time.Second
	shutdownGracePeriod = 10 * time.Second
)

// runner executes chromedp actions against a session context.
type runner func(ctx context.Context, actions ...chromedp.Action) error

// Session is the live browser handle: one Chrome process with one page, shared by
// every task in the process.
type Session struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	run       runner
	startedAt time.Time
}

// ID identifies the browser process instance. It changes after a restart.
func (s *Session) ID() string { return s.id }

func (s *Session) alive() bool {
	return s.ctx.Err() == nil
}

// Manager owns the Browser Handle. It starts Chrome lazily on the first Acquire, restarts
// it if it has crashed, and tears it down on Shutdown. Every operation on the session is
// routed through a single worker goroutine.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
	worker *worker

	mu      sync.Mutex
	session *Session
	holders int
	closed  bool

	start func(ctx context.Context) (*Session, error)
}

// Option configures a Manager.
type Option func(*Manager)

// withStarter replaces the Chrome launcher. Tests use it to run without a browser.
func withStarter(start func(ctx context.Context) (*Session, error)) Option {
	return func(m *Manager) { m.start = start }
}

// NewManager creates a manager. No browser is started until the first Acquire.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
	}
	m.start = m.launch
	for _, opt := range opts {
		opt(m)
	}
	m.worker = newWorker(cfg.QueueSize, m.logger)
	m.logger.Debug("Browser manager created (initialization deferred).",
		zap.String("user_data_dir", cfg.UserDataDir))
	return m
}

// Acquire returns the shared session, starting or restarting the browser as needed.
// Every successful Acquire must be paired with a Release.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrSessionClosed
	}

	if m.session != nil && !m.session.alive() {
		m.logger.Warn("Browser session is no longer alive, restarting.", zap.String("session_id", m.session.id))
		m.session.cancel()
		m.session = nil
	}

	if m.session == nil {
		s, err := m.start(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrowserUnavailable, err)
		}
		m.session = s
		m.logger.Info("Browser session started.", zap.String("session_id", s.id))
	}

	m.holders++
	return m.session, nil
}

// Release marks one holder of the session as done. The browser keeps running so that
// login state survives between tasks.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holders > 0 {
		m.holders--
	}
}

// Shutdown closes the browser, flushing the profile directory, and stops the worker.
// It is safe to call more than once.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	s := m.session
	m.session = nil
	if m.holders > 0 {
		m.logger.Warn("Shutting down browser with active holders.", zap.Int("holders", m.holders))
	}
	m.mu.Unlock()

	if s != nil {
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			// chromedp.Cancel closes the browser gracefully so the profile is written out.
			if err := chromedp.Cancel(s.ctx); err != nil {
				m.logger.Debug("Graceful browser close failed.", zap.Error(err))
			}
			s.cancel()
		}()
		select {
		case <-closed:
		case <-ctx.Done():
			s.cancel()
			m.logger.Warn("Browser close did not finish before the shutdown deadline.")
		}
	}

	m.worker.stop()
	m.logger.Info("Browser manager shut down.")
	return nil
}

// launch starts Chrome with the persistent profile and sizes the page to the viewport.
func (m *Manager) launch(ctx context.Context) (*Session, error) {
	if m.cfg.UserDataDir != "" {
		if err := os.MkdirAll(m.cfg.UserDataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create browser profile dir: %w", err)
		}
	}

	// The browser must outlive the caller's context, so it hangs off Background.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(m.cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(m.logger.Sugar().Debugf))
	cancel := func() {
		tabCancel()
		allocCancel()
	}

	started := make(chan error, 1)
	go func() {
		// The first Run on tabCtx allocates the browser; it must not carry a deadline.
		started <- chromedp.Run(tabCtx,
			chromedp.EmulateViewport(int64(m.cfg.Viewport.Width), int64(m.cfg.Viewport.Height)),
		)
	}()

	timer := time.NewTimer(startupTimeout)
	defer timer.Stop()

	select {
	case err := <-started:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	case <-timer.C:
		cancel()
		return nil, fmt.Errorf("browser did not start within %s", startupTimeout)
	}

	return &Session{
		id:        uuid.NewString(),
		ctx:       tabCtx,
		cancel:    cancel,
		run:       chromedp.Run,
		startedAt: time.Now(),
	}, nil
}

// allocatorOptions translates the browser config into chromedp allocator options.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height),
	)
	if runtime.GOOS == "linux" {
		opts = append(opts, chromedp.NoSandbox)
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	for _, arg := range cfg.Args {
		key, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if key == "" {
			continue
		}
		if !hasValue {
			opts = append(opts, chromedp.Flag(key, true))
			continue
		}
		opts = append(opts, chromedp.Flag(key, value))
	}
	return opts
}
