// internal/browser/executor.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/internal/config"
	"github.com/xkilldash9x/browserpilot/internal/metrics"
)

// Scroll directions.
const (
	ScrollUp   = "up"
	ScrollDown = "down"
)

// namedKeys maps the key names the model uses to chromedp key sequences.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"space":      " ",
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
}

// Executor performs single browser mutations and observations on the session owned by
// a Manager. It never decides what to do next.
type Executor struct {
	manager *Manager
	cfg     config.BrowserConfig
	metrics *metrics.Collector
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewExecutor binds an executor to the manager that owns the browser. collector may be nil.
func NewExecutor(manager *Manager, collector *metrics.Collector, logger *zap.Logger) *Executor {
	return &Executor{
		manager: manager,
		cfg:     manager.cfg,
		metrics: collector,
		logger:  logger.Named("executor"),
		sleep:   sleepContext,
	}
}

// Navigate loads url and waits for the load event. It returns the URL the page ended on.
func (e *Executor) Navigate(ctx context.Context, url string) (string, error) {
	var location string
	err := e.do(ctx, "navigate", e.cfg.NavigationTimeout, func(ctx context.Context, s *Session) error {
		if err := s.run(ctx, chromedp.Navigate(url), chromedp.Location(&location)); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w after %s: %v", ErrNavigationTimeout, e.cfg.NavigationTimeout, err)
			}
			if ctx.Err() == nil {
				return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if location == "" {
		location = url
	}
	return location, nil
}

// Click dispatches a left click at absolute viewport coordinates. Coordinates are not
// bounds-checked here.
func (e *Executor) Click(ctx context.Context, x, y float64) error {
	return e.do(ctx, "click", e.cfg.ActionTimeout, func(ctx context.Context, s *Session) error {
		return s.run(ctx,
			input.DispatchMouseEvent(input.MouseMoved, x, y),
			chromedp.MouseClickXY(x, y),
		)
	})
}

// Type sends text to the focused element one character at a time with the configured delay.
func (e *Executor) Type(ctx context.Context, text string) error {
	return e.do(ctx, "type", e.typingTimeout(text), func(ctx context.Context, s *Session) error {
		for _, r := range text {
			if err := s.run(ctx, chromedp.KeyEvent(string(r))); err != nil {
				return err
			}
			if err := e.sleep(ctx, e.cfg.TypeDelay); err != nil {
				return err
			}
		}
		return nil
	})
}

// PressKey sends one named key, e.g. "Enter" or "Tab", to the focused element.
func (e *Executor) PressKey(ctx context.Context, key string) error {
	seq, err := keySequence(key)
	if err != nil {
		return err
	}
	return e.do(ctx, "press_key", e.cfg.ActionTimeout, func(ctx context.Context, s *Session) error {
		return s.run(ctx, chromedp.KeyEvent(seq))
	})
}

// Scroll wheels the page by amount logical pixels. A non-positive amount uses the
// configured default.
func (e *Executor) Scroll(ctx context.Context, direction string, amount int) error {
	direction = strings.ToLower(strings.TrimSpace(direction))
	if direction != ScrollUp && direction != ScrollDown {
		return fmt.Errorf("invalid scroll direction %q", direction)
	}
	if amount <= 0 {
		amount = e.cfg.ScrollAmount
	}
	delta := float64(amount)
	if direction == ScrollUp {
		delta = -delta
	}

	cx := float64(e.cfg.Viewport.Width) / 2
	cy := float64(e.cfg.Viewport.Height) / 2
	return e.do(ctx, "scroll", e.cfg.ActionTimeout, func(ctx context.Context, s *Session) error {
		return s.run(ctx, input.DispatchMouseEvent(input.MouseWheel, cx, cy).WithDeltaX(0).WithDeltaY(delta))
	})
}

// Screenshot captures the visible viewport as PNG. It does not change page state.
func (e *Executor) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := e.do(ctx, "screenshot", e.cfg.ActionTimeout, func(ctx context.Context, s *Session) error {
		return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
			return err
		}))
	})
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty screenshot", ErrBrowserUnavailable)
	}
	return buf, nil
}

// GoBack navigates one entry back in the page history and returns the URL the page
// ended on.
func (e *Executor) GoBack(ctx context.Context) (string, error) {
	var location string
	err := e.do(ctx, "go_back", e.cfg.NavigationTimeout, func(ctx context.Context, s *Session) error {
		return s.run(ctx, chromedp.NavigateBack(), chromedp.Location(&location))
	})
	return location, err
}

// do runs fn on the worker against a live session, bounded by timeout. A transient
// failure (crashed browser, timeout) is retried once on a freshly acquired session.
func (e *Executor) do(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context, s *Session) error) error {
	err := e.attempt(ctx, op, timeout, fn)
	if err != nil && IsTransient(err) && ctx.Err() == nil {
		e.logger.Warn("Browser operation failed, retrying once.", zap.String("op", op), zap.Error(err))
		err = e.attempt(ctx, op, timeout, fn)
	}
	if err != nil {
		e.metrics.IncBrowserError(op)
	}
	return err
}

func (e *Executor) attempt(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context, s *Session) error) error {
	s, err := e.manager.Acquire(ctx)
	if err != nil {
		return err
	}
	defer e.manager.Release(s)

	return e.manager.worker.submit(ctx, func(jobCtx context.Context) error {
		opCtx, cancel := CombineContext(s.ctx, jobCtx)
		defer cancel()
		if timeout > 0 {
			var cancelTimeout context.CancelFunc
			opCtx, cancelTimeout = context.WithTimeout(opCtx, timeout)
			defer cancelTimeout()
		}

		err := fn(opCtx, s)
		switch {
		case err == nil:
			return nil
		case !s.alive():
			return fmt.Errorf("%w: session ended during %s: %v", ErrBrowserUnavailable, op, err)
		case jobCtx.Err() != nil:
			return jobCtx.Err()
		case errors.Is(err, ErrNavigationTimeout):
			return err
		case errors.Is(opCtx.Err(), context.DeadlineExceeded):
			return fmt.Errorf("%w: %s after %s", ErrActionTimeout, op, timeout)
		default:
			return fmt.Errorf("%s failed: %w", op, err)
		}
	})
}

// typingTimeout extends the action timeout by the time the inter-key delays take.
func (e *Executor) typingTimeout(text string) time.Duration {
	return e.cfg.ActionTimeout + time.Duration(len([]rune(text)))*e.cfg.TypeDelay
}

func keySequence(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if seq, ok := namedKeys[strings.ToLower(trimmed)]; ok {
		return seq, nil
	}
	if len([]rune(trimmed)) == 1 {
		return trimmed, nil
	}
	return "", fmt.Errorf("unsupported key %q", key)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
