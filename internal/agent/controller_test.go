package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/browserpilot/internal/config"
	"github.com/xkilldash9x/browserpilot/internal/metrics"
)

// controllerHarness bundles a controller with its mocks and a record of every pause.
type controllerHarness struct {
	ctrl     *Controller
	browser  *MockBrowser
	decider  *MockDecider
	resolver *MockResolver

	mu     sync.Mutex
	sleeps []time.Duration
}

func newHarness(t *testing.T, cfg config.AgentConfig) *controllerHarness {
	t.Helper()
	h := &controllerHarness{
		browser:  new(MockBrowser),
		decider:  new(MockDecider),
		resolver: new(MockResolver),
	}
	h.ctrl = NewController(h.browser, h.decider, h.resolver, cfg, nil, zaptest.NewLogger(t))
	h.ctrl.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	uuidNewString = func() string { return "run-1" }
	t.Cleanup(func() { uuidNewString = defaultUUID })
	return h
}

var defaultUUID = uuidNewString

func (h *controllerHarness) screenshots() {
	h.browser.On("Screenshot", mock.Anything).Return(fakePNG, nil)
}

// decides queues the oracle's answers in order.
func (h *controllerHarness) decides(actions ...Action) {
	for _, a := range actions {
		h.decider.On("Decide", mock.Anything, fakePNG, mock.Anything, mock.Anything).Return(a).Once()
	}
}

func (h *controllerHarness) pauses() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func TestController_ScenarioA_LiteralURLSkipsSearch(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	task := "https://example.com/v=abc123 open this video"
	url := "https://example.com/v=abc123"

	h.browser.On("Navigate", mock.Anything, url).Return(url, nil).Once()
	h.screenshots()
	h.decider.On("Decide", mock.Anything, fakePNG, task, "Navigated to "+url).
		Return(CompleteAction{Message: "The video is open", Success: true}).Once()

	res := h.ctrl.Execute(context.Background(), task)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "The video is open", res.Message)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, []time.Duration{3 * time.Second}, h.pauses())
	h.resolver.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
	h.browser.AssertNumberOfCalls(t, "Navigate", 1)
	h.decider.AssertExpectations(t)
}

func TestController_ScenarioB_FastPathSearch(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	video := "https://www.youtube.com/watch?v=5EpyN_6dqyk"

	h.resolver.On("Resolve", mock.Anything, "timeless youtube").
		Return(SearchOutcome{VideoURL: video, URL: video, Source: SourceSearch}).Once()
	h.browser.On("Navigate", mock.Anything, video).Return(video, nil).Once()
	h.screenshots()
	h.decides(CompleteAction{Message: "Timeless is playing", Success: true})

	res := h.ctrl.Execute(context.Background(), "play timeless on youtube")

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "Timeless is playing", res.Message)
	h.resolver.AssertNumberOfCalls(t, "Resolve", 1)
	h.browser.AssertNumberOfCalls(t, "Navigate", 1)
	h.decider.AssertNumberOfCalls(t, "Decide", 1)
}

func TestController_FastPathFallsThroughToGeneralLoop(t *testing.T) {
	t.Run("unconfirmed navigation", func(t *testing.T) {
		h := newHarness(t, testAgentConfig())
		video := "https://youtu.be/abc123"

		h.resolver.On("Resolve", mock.Anything, mock.Anything).
			Return(SearchOutcome{VideoURL: video, URL: video, Source: SourceSearch}).Once()
		h.browser.On("Navigate", mock.Anything, video).Return(video, nil).Once()
		h.browser.On("Click", mock.Anything, 640.0, 360.0).Return(nil).Once()
		h.screenshots()
		h.decides(
			CompleteAction{Message: "not yet", Success: false},
			ClickAction{X: 640, Y: 360, Reason: "play button"},
			CompleteAction{Message: "Playing now", Success: true},
		)

		res := h.ctrl.Execute(context.Background(), "play some song on youtube")

		assert.Equal(t, OutcomeCompleted, res.Outcome)
		assert.Equal(t, "Playing now", res.Message)
		assert.Equal(t, 2, res.Iterations)
		assert.Equal(t, []string{"Navigated to " + video, "Clicked at (640, 360): play button"}, res.History)
	})

	t.Run("no link found", func(t *testing.T) {
		h := newHarness(t, testAgentConfig())
		h.resolver.On("Resolve", mock.Anything, mock.Anything).
			Return(SearchOutcome{Summary: "No search results found.", Source: SourceSearch}).Once()
		h.screenshots()
		h.decides(CompleteAction{Message: "done", Success: true})

		res := h.ctrl.Execute(context.Background(), "play something obscure on youtube")

		assert.Equal(t, OutcomeCompleted, res.Outcome)
		assert.Equal(t, 1, res.Iterations)
		h.browser.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
	})
}

func TestController_ScenarioC_VerifyLoopBreaker(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	verify := VerifyAction{Question: "Is the video playing?", Expected: "yes"}
	h.decides(verify, verify, verify)
	h.decider.On("Verify", mock.Anything, fakePNG, verify.Question, "yes").Return("no", nil).Twice()

	res := h.ctrl.Execute(context.Background(), "check that the dashboard loaded")

	assert.Equal(t, OutcomeUncertain, res.Outcome)
	assert.Equal(t, ErrCodeVerifyLoopDetected, res.Code)
	assert.Equal(t, "Task appears complete (verification loop detected, assuming success)", res.Message)
	assert.Equal(t, 3, res.Iterations)
	h.decider.AssertNumberOfCalls(t, "Decide", 3)
	h.decider.AssertNumberOfCalls(t, "Verify", 2)
	assert.Contains(t, res.History, "Verification failed: Is the video playing? - expected yes, got no")
}

func TestController_VerifyCounterResets(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	verify := VerifyAction{Question: "Done?", Expected: "yes"}
	click := ClickAction{X: 1, Y: 1}
	h.decides(verify, verify, click, verify, verify, click, CompleteAction{Message: "finished", Success: true})
	h.decider.On("Verify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("no", nil)
	h.browser.On("Click", mock.Anything, 1.0, 1.0).Return(nil)

	res := h.ctrl.Execute(context.Background(), "submit the form")

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "finished", res.Message)
	assert.Equal(t, 7, res.Iterations)
}

func TestController_VerifyPasses(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	h.decides(VerifyAction{Question: "Is the cart empty?", Expected: "Yes"})
	h.decider.On("Verify", mock.Anything, fakePNG, "Is the cart empty?", "Yes").Return("yes", nil).Once()

	res := h.ctrl.Execute(context.Background(), "empty the cart")

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "Task completed successfully. Verification: Is the cart empty? - yes", res.Message)
}

func TestController_VerifyAnswerUnreadable(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	h.decides(VerifyAction{Question: "Logged in?", Expected: "yes"}, CompleteAction{Message: "ok", Success: true})
	h.decider.On("Verify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("could not read a yes/no answer")).Once()

	res := h.ctrl.Execute(context.Background(), "log in")

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Contains(t, res.History, "Verification check: Logged in?")
}

func TestController_ScenarioD_UnparseableDecisionContinues(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	h.decides(
		ErrorAction{Message: unparseableMessage, Code: ErrCodeDecisionUnparseable},
		CompleteAction{Message: "done", Success: true},
	)

	res := h.ctrl.Execute(context.Background(), "do the thing")

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []string{"Decision error: no parseable response"}, res.History)
}

func TestController_ScenarioE_IterationCeiling(t *testing.T) {
	cfg := testAgentConfig()
	cfg.HistoryCap = 10
	h := newHarness(t, cfg)
	h.screenshots()
	h.decider.On("Decide", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(ScrollAction{Direction: "down", Amount: 300})
	h.browser.On("Scroll", mock.Anything, "down", 300).Return(nil)

	res := h.ctrl.Execute(context.Background(), "read the whole article")

	assert.Equal(t, OutcomeIterationExhausted, res.Outcome)
	assert.Equal(t, "Task incomplete after 20 steps. Last action: scroll", res.Message)
	assert.Equal(t, 20, res.Iterations)
	assert.Len(t, res.History, 10, "history is capped")
	h.decider.AssertNumberOfCalls(t, "Decide", 20)
}

func TestController_SearchThenAutoNavigate(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	url := "https://www.youtube.com/watch?v=jfKfPfyJRdk"
	h.decides(SearchWebAction{Query: "lofi girl live"}, CompleteAction{Message: "Stream is live", Success: true})
	h.resolver.On("Resolve", mock.Anything, "lofi girl live").
		Return(SearchOutcome{VideoURL: url, URL: url, Summary: "DIRECT YOUTUBE URL: " + url, Source: SourceSearch}).Once()
	h.browser.On("Navigate", mock.Anything, url).Return(url, nil).Once()

	res := h.ctrl.Execute(context.Background(), "search for the lofi girl stream")

	require.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{
		"Searched web for 'lofi girl live': DIRECT YOUTUBE URL: " + url,
		"Navigated to " + url,
	}, res.History)
	assert.Equal(t, 2, res.Iterations, "auto-navigate happens inside the search iteration")
	assert.Contains(t, h.pauses(), 2*time.Second)
}

func TestController_SearchWithoutLinkDoesNotNavigate(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	h.decides(SearchWebAction{Query: "nothing"}, CompleteAction{Message: "gave up politely", Success: true})
	h.resolver.On("Resolve", mock.Anything, "nothing").Return(SearchOutcome{Summary: "Search failed: boom", Source: SourceNone}).Once()

	res := h.ctrl.Execute(context.Background(), "search for nothing")

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{"Searched web for 'nothing': Search failed: boom"}, res.History)
	h.browser.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
}

func TestController_ActionsAndSettleDelays(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	h.decides(
		NavigateAction{URL: "https://shop.example"},
		ClickAction{X: 100, Y: 200, Reason: "search box"},
		TypeAction{Text: "socks", Reason: "query"},
		PressKeyAction{Key: "Enter"},
		ScrollAction{Direction: "down"},
		UnknownAction{Name: "dance"},
		CompleteAction{Message: "Found socks", Success: true},
	)
	h.browser.On("Navigate", mock.Anything, "https://shop.example").Return("https://shop.example/", nil).Once()
	h.browser.On("Click", mock.Anything, 100.0, 200.0).Return(nil).Once()
	h.browser.On("Type", mock.Anything, "socks").Return(nil).Once()
	h.browser.On("PressKey", mock.Anything, "Enter").Return(nil).Once()
	h.browser.On("Scroll", mock.Anything, "down", 0).Return(nil).Once()

	res := h.ctrl.Execute(context.Background(), "buy socks at the shop")

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{
		"Navigated to https://shop.example",
		"Clicked at (100, 200): search box",
		"Typed: socks",
		"Pressed: Enter",
		"Scrolled down",
		"Unknown action: dance",
	}, res.History)
	assert.Equal(t, []time.Duration{2 * time.Second, time.Second, 500 * time.Millisecond, time.Second, 0}, h.pauses())
	h.browser.AssertExpectations(t)
}

func TestController_WaitIsClamped(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	h.decides(
		WaitAction{Seconds: 3600, Reason: "model asked for an hour"},
		WaitAction{Seconds: -5},
		WaitAction{Seconds: 1.5},
		CompleteAction{Message: "ok", Success: true},
	)

	res := h.ctrl.Execute(context.Background(), "wait for the page")

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []time.Duration{30 * time.Second, 0, 1500 * time.Millisecond}, h.pauses())
	assert.Equal(t, []string{"Waited 30s", "Waited 0s", "Waited 1.5s"}, res.History)
}

func TestController_WaitWithoutCeiling(t *testing.T) {
	cfg := testAgentConfig()
	cfg.MaxWait = 0
	h := newHarness(t, cfg)
	h.screenshots()
	h.decides(
		WaitAction{Seconds: 1e10},
		WaitAction{Seconds: math.Inf(1)},
		CompleteAction{Message: "ok", Success: true},
	)

	res := h.ctrl.Execute(context.Background(), "wait forever")

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []time.Duration{fallbackMaxWait, fallbackMaxWait}, h.pauses())
	for _, d := range h.pauses() {
		assert.Positive(t, d)
	}
}

func TestController_ModelErrorFails(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	h.decides(ErrorAction{Message: "A captcha blocks the page"})

	res := h.ctrl.Execute(context.Background(), "log in to the bank")

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, ErrCodeModelError, res.Code)
	assert.Equal(t, "Error: A captcha blocks the page", res.Message)
}

func TestController_ExecutorFailureIsFatal(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	h.decides(ClickAction{X: 5, Y: 5})
	h.browser.On("Click", mock.Anything, 5.0, 5.0).Return(errors.New("browser action timed out: click after 15s")).Once()

	res := h.ctrl.Execute(context.Background(), "click the thing")

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, ErrCodeActionFailure, res.Code)
	assert.Equal(t, "Browser automation error: browser action timed out: click after 15s", res.Message)
	assert.Empty(t, res.History)
}

func TestController_ScreenshotFailureIsFatal(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.browser.On("Screenshot", mock.Anything).Return(nil, errors.New("browser unavailable")).Once()

	res := h.ctrl.Execute(context.Background(), "look at the page")

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "Browser automation error: browser unavailable", res.Message)
	assert.Equal(t, 1, res.Iterations)
}

func TestController_TaskTimeout(t *testing.T) {
	cfg := testAgentConfig()
	cfg.TaskTimeout = 50 * time.Millisecond
	h := newHarness(t, cfg)
	h.ctrl.sleep = sleepContext
	h.screenshots()
	h.decider.On("Decide", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(WaitAction{Seconds: 10})

	start := time.Now()
	res := h.ctrl.Execute(context.Background(), "wait forever")

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, OutcomeTimedOut, res.Outcome)
	assert.Equal(t, ErrCodeTaskTimeout, res.Code)
	assert.Equal(t, "Task timed out after 50ms. Last action: wait", res.Message)
}

func TestController_CallerCancellation(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.ctrl.Execute(ctx, "anything at all")

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "Browser automation error: context canceled", res.Message)
	h.browser.AssertNotCalled(t, "Screenshot", mock.Anything)
}

func TestController_RecoversPanics(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	h.decider.On("Decide", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("nil map write") }).
		Return(CompleteAction{})

	var res Result
	require.NotPanics(t, func() { res = h.ctrl.Execute(context.Background(), "crash please") })

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, ErrCodePanic, res.Code)
	assert.Equal(t, "Browser automation error: nil map write", res.Message)
	assert.Equal(t, 1, res.Iterations)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestController_RunReturnsMessage(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	h.decides(CompleteAction{Message: "all good", Success: true})

	assert.Equal(t, "all good", h.ctrl.Run(context.Background(), "say hi"))
}

func TestController_ScreenshotLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	state := newSessionState(5)
	state.History.Add("Navigated to https://example.com")
	before := *state
	beforeHistory := state.History.All()

	for i := 0; i < 2; i++ {
		_, err := h.browser.Screenshot(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, before.Iteration, state.Iteration)
	assert.Equal(t, before.ConsecutiveVerify, state.ConsecutiveVerify)
	assert.Equal(t, beforeHistory, state.History.All())
}

func TestController_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, testAgentConfig())
	h.ctrl.metrics = metrics.NewCollector(reg)
	h.screenshots()
	h.decides(CompleteAction{Message: "ok", Success: true})

	h.ctrl.Execute(context.Background(), "count me")

	n, err := testutil.GatherAndCount(reg, fmt.Sprintf("%s_runs_total", metrics.Namespace))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestController_UnknownActionsShareOneLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, testAgentConfig())
	h.ctrl.metrics = metrics.NewCollector(reg)
	h.screenshots()
	h.decides(
		UnknownAction{Name: "dance"},
		UnknownAction{Name: "juggle"},
		UnknownAction{Name: "moonwalk"},
		CompleteAction{Message: "ok", Success: true},
	)

	h.ctrl.Execute(context.Background(), "improvise")

	// One series for the invented kinds plus one for complete.
	n, err := testutil.GatherAndCount(reg, fmt.Sprintf("%s_actions_total", metrics.Namespace))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestController_GoBackRecordsLandingPage(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	h.decides(
		GoBackAction{Reason: "wrong result"},
		GoBackAction{},
		CompleteAction{Message: "back on the results", Success: true},
	)
	h.browser.On("GoBack", mock.Anything).Return("https://search.example/?q=socks", nil).Once()
	h.browser.On("GoBack", mock.Anything).Return("", nil).Once()

	res := h.ctrl.Execute(context.Background(), "go back to the results")

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{
		"Navigated back to https://search.example/?q=socks",
		"Navigated back to the previous page",
	}, res.History)
	h.browser.AssertExpectations(t)
}

func TestController_GoBackFailureIsFatal(t *testing.T) {
	h := newHarness(t, testAgentConfig())
	h.screenshots()
	h.decides(GoBackAction{})
	h.browser.On("GoBack", mock.Anything).Return("", errors.New("no history entry")).Once()

	res := h.ctrl.Execute(context.Background(), "go back")

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Message, "no history entry")
}
