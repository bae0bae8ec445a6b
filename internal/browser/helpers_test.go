package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/browserpilot/internal/config"
)

// fakeBrowser stands in for Chrome. Each run call consumes the next scripted step;
// once the script is exhausted calls succeed.
type fakeBrowser struct {
	mu       sync.Mutex
	script   []func(ctx context.Context) error
	calls    int
	actions  []int
	sessions []*Session

	starts      atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	startErr    error
}

func (f *fakeBrowser) start(ctx context.Context) (*Session, error) {
	n := f.starts.Add(1)
	if f.startErr != nil {
		return nil, f.startErr
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        fmt.Sprintf("fake-%d", n),
		ctx:       sctx,
		cancel:    cancel,
		run:       f.run,
		startedAt: time.Now(),
	}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	f.mu.Lock()
	var step func(ctx context.Context) error
	if f.calls < len(f.script) {
		step = f.script[f.calls]
	}
	f.calls++
	f.actions = append(f.actions, len(actions))
	f.mu.Unlock()

	// Widen the window in which overlapping calls would be observed.
	time.Sleep(time.Millisecond)
	if step != nil {
		return step(ctx)
	}
	return nil
}

func (f *fakeBrowser) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// crashCurrent simulates Chrome dying underneath the session.
func (f *fakeBrowser) crashCurrent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) > 0 {
		f.sessions[len(f.sessions)-1].cancel()
	}
}

// blockUntilDone is a script step that hangs until the operation context expires.
func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func testBrowserConfig() config.BrowserConfig {
	return config.BrowserConfig{
		Viewport:          config.ViewportConfig{Width: 1280, Height: 720},
		NavigationTimeout: 100 * time.Millisecond,
		ActionTimeout:     100 * time.Millisecond,
		TypeDelay:         0,
		ScrollAmount:      300,
		QueueSize:         4,
	}
}

// newTestManager builds a manager over a fake browser and shuts it down with the test.
func newTestManager(t *testing.T, fake *fakeBrowser) *Manager {
	t.Helper()
	m := NewManager(testBrowserConfig(), zaptest.NewLogger(t), withStarter(fake.start))
	t.Cleanup(func() {
		require.NoError(t, m.Shutdown(context.Background()))
	})
	return m
}

func newTestExecutor(t *testing.T, fake *fakeBrowser) (*Executor, *Manager) {
	t.Helper()
	m := newTestManager(t, fake)
	return NewExecutor(m, nil, zaptest.NewLogger(t)), m
}
