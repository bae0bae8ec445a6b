// internal/agent/controller.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/internal/config"
	"github.com/xkilldash9x/browserpilot/internal/metrics"
)

var uuidNewString = uuid.NewString

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeFailed             Outcome = "failed"
	OutcomeIterationExhausted Outcome = "iteration_exhausted"
	// OutcomeUncertain is the verify-loop breaker: the run stopped asking and assumed success.
	OutcomeUncertain Outcome = "uncertain"
	OutcomeTimedOut  Outcome = "timed_out"
)

// State is a non-terminal controller state.
type State string

const (
	StateFastPath        State = "FAST_PATH"
	StateGeneralLoop     State = "GENERAL_LOOP"
	StateSearchCompleted State = "SEARCH_COMPLETED"
	StateAutoNavigate    State = "AUTO_NAVIGATE"
)

// Result messages.
const (
	msgVerified      = "Task completed successfully. Verification: %s - %s"
	msgAssumed       = "Task appears complete (verification loop detected, assuming success)"
	msgModelError    = "Error: %s"
	msgIncomplete    = "Task incomplete after %d steps. Last action: %s"
	msgBrowserError  = "Browser automation error: %s"
	msgTimedOut      = "Task timed out after %s. Last action: %s"
	msgDefaultFinish = "Task completed"
)

// Browser is the action executor as the controller sees it.
type Browser interface {
	Navigate(ctx context.Context, url string) (string, error)
	Click(ctx context.Context, x, y float64) error
	Type(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
	Scroll(ctx context.Context, direction string, amount int) error
	GoBack(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Decider is the decision oracle.
type Decider interface {
	Decide(ctx context.Context, screenshot []byte, task, history string) Action
	Verify(ctx context.Context, screenshot []byte, question, expected string) (string, error)
}

// Resolver is the search fallback oracle.
type Resolver interface {
	Resolve(ctx context.Context, query string) SearchOutcome
}

// Result is the structured outcome of one run.
type Result struct {
	RunID      string
	Task       string
	Outcome    Outcome
	Code       ErrorCode
	Message    string
	Iterations int
	History    []string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall-clock time the run took.
func (r Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// terminal is a finished run before bookkeeping is attached.
type terminal struct {
	outcome Outcome
	code    ErrorCode
	message string
}

// Controller drives the perceive-decide-act loop for one task at a time per call.
// Concurrent Execute calls are safe; their browser calls serialize in the executor.
type Controller struct {
	browser  Browser
	decider  Decider
	resolver Resolver
	cfg      config.AgentConfig
	metrics  *metrics.Collector
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewController wires the controller to its collaborators. collector may be nil.
func NewController(browser Browser, decider Decider, resolver Resolver, cfg config.AgentConfig, collector *metrics.Collector, logger *zap.Logger) *Controller {
	return &Controller{
		browser:  browser,
		decider:  decider,
		resolver: resolver,
		cfg:      cfg,
		metrics:  collector,
		logger:   logger.Named("controller"),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// Run executes task and returns only the result message.
func (c *Controller) Run(ctx context.Context, task string) string {
	return c.Execute(ctx, task).Message
}

// Execute runs task to a terminal state. It never panics and never returns an error;
// every exit is described by the Result.
func (c *Controller) Execute(ctx context.Context, task string) (res Result) {
	res = Result{RunID: uuidNewString(), Task: task, StartedAt: c.now()}
	state := newSessionState(c.cfg.HistoryCap)
	logger := c.logger.With(zap.String("run_id", res.RunID))

	if c.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic in automation run.", zap.Any("panic", r), zap.Stack("stack"))
			res.Outcome, res.Code = OutcomeFailed, ErrCodePanic
			res.Message = fmt.Sprintf(msgBrowserError, fmt.Sprint(r))
		}
		res.Iterations = state.Iteration
		res.History = state.History.All()
		res.FinishedAt = c.now()
		c.metrics.ObserveRun(string(res.Outcome), res.Iterations, res.Duration())
		logger.Info("Automation run finished.",
			zap.String("outcome", string(res.Outcome)),
			zap.String("code", string(res.Code)),
			zap.Int("iterations", res.Iterations),
			zap.Duration("elapsed", res.Duration()))
	}()

	logger.Info("Automation run started.", zap.String("task", task))
	t := c.run(ctx, task, state, logger)
	res.Outcome, res.Code, res.Message = t.outcome, t.code, t.message
	return res
}

func (c *Controller) run(ctx context.Context, task string, state *SessionState, logger *zap.Logger) terminal {
	if IsSimpleTask(task) {
		logger.Debug("Entering state.", zap.String("state", string(StateFastPath)))
		t, done := c.fastPath(ctx, task, state, logger)
		if done {
			return t
		}
	}
	logger.Debug("Entering state.", zap.String("state", string(StateGeneralLoop)))
	return c.generalLoop(ctx, task, state, logger)
}

// fastPath tries to finish a simple task with a single navigation. done is false
// when the caller should continue with the general loop.
func (c *Controller) fastPath(ctx context.Context, task string, state *SessionState, logger *zap.Logger) (terminal, bool) {
	target := ExtractURL(task)
	if target == "" {
		query := FastPathQuery(task)
		found := c.resolver.Resolve(ctx, query)
		if found.VideoURL == "" {
			logger.Info("Fast path found no direct link.", zap.String("query", query))
			var t terminal
			return t, c.stop(ctx, state, &t)
		}
		target = found.VideoURL
	}

	if _, err := c.browser.Navigate(ctx, target); err != nil {
		return c.failure(ctx, state, err), true
	}
	state.History.Add(fmt.Sprintf("Navigated to %s", target))
	if err := c.sleep(ctx, c.cfg.FastPathSettle); err != nil {
		return c.failure(ctx, state, err), true
	}

	shot, err := c.browser.Screenshot(ctx)
	if err != nil {
		return c.failure(ctx, state, err), true
	}
	verdict := c.decider.Decide(ctx, shot, task, fmt.Sprintf("Navigated to %s", target))
	if done, ok := verdict.(CompleteAction); ok && done.Success {
		return terminal{outcome: OutcomeCompleted, message: orDefault(done.Message, msgDefaultFinish)}, true
	}
	if ctx.Err() != nil {
		return c.failure(ctx, state, ctx.Err()), true
	}

	logger.Info("Fast path did not confirm completion, switching to the general loop.",
		zap.String("verdict", describe(verdict)))
	return terminal{}, false
}

// stop reports whether the run must end because ctx is done, filling t if so.
func (c *Controller) stop(ctx context.Context, state *SessionState, t *terminal) bool {
	if ctx.Err() == nil {
		return false
	}
	*t = c.failure(ctx, state, ctx.Err())
	return true
}

func (c *Controller) generalLoop(ctx context.Context, task string, state *SessionState, logger *zap.Logger) terminal {
	for state.Iteration < c.cfg.MaxIterations {
		var t terminal
		if c.stop(ctx, state, &t) {
			return t
		}
		state.Iteration++
		logger.Debug("Iteration.", zap.Int("iteration", state.Iteration), zap.Int("max", c.cfg.MaxIterations))

		shot, err := c.browser.Screenshot(ctx)
		if err != nil {
			return c.failure(ctx, state, err)
		}

		action := c.decider.Decide(ctx, shot, task, state.History.Context(c.cfg.HistoryWindow))
		c.metrics.IncAction(string(metricKind(action)))
		logger.Info("Decided.", zap.Int("iteration", state.Iteration), zap.String("action", describe(action)))

		if state.observe(action) > c.cfg.MaxConsecutiveVerify {
			logger.Warn("Too many consecutive verify actions, assuming success.")
			return terminal{outcome: OutcomeUncertain, code: ErrCodeVerifyLoopDetected, message: msgAssumed}
		}

		if t, done := c.dispatch(ctx, action, state, logger); done {
			return t
		}
	}

	return terminal{
		outcome: OutcomeIterationExhausted,
		code:    ErrCodeIterationExhausted,
		message: fmt.Sprintf(msgIncomplete, state.Iteration, state.LastAction),
	}
}

// dispatch applies one action. done is true when the action ended the run.
func (c *Controller) dispatch(ctx context.Context, action Action, state *SessionState, logger *zap.Logger) (terminal, bool) {
	var (
		settle time.Duration
		entry  string
		err    error
	)

	switch a := action.(type) {
	case SearchWebAction:
		return c.searchAndNavigate(ctx, a, state, logger)

	case NavigateAction:
		_, err = c.browser.Navigate(ctx, a.URL)
		settle, entry = c.cfg.Settle.Navigate, fmt.Sprintf("Navigated to %s", a.URL)

	case ClickAction:
		err = c.browser.Click(ctx, float64(a.X), float64(a.Y))
		settle, entry = c.cfg.Settle.Click, fmt.Sprintf("Clicked at (%d, %d): %s", a.X, a.Y, a.Reason)

	case TypeAction:
		err = c.browser.Type(ctx, a.Text)
		settle, entry = c.cfg.Settle.Type, fmt.Sprintf("Typed: %s", a.Text)

	case PressKeyAction:
		err = c.browser.PressKey(ctx, a.Key)
		settle, entry = c.cfg.Settle.Key, fmt.Sprintf("Pressed: %s", a.Key)

	case ScrollAction:
		err = c.browser.Scroll(ctx, a.Direction, a.Amount)
		settle, entry = c.cfg.Settle.Scroll, fmt.Sprintf("Scrolled %s", a.Direction)

	case GoBackAction:
		var location string
		location, err = c.browser.GoBack(ctx)
		settle, entry = c.cfg.Settle.Navigate, fmt.Sprintf("Navigated back to %s", orDefault(location, "the previous page"))

	case WaitAction:
		d := c.clampWait(a.Seconds)
		err = c.sleep(ctx, d)
		entry = fmt.Sprintf("Waited %ss", strconv.FormatFloat(d.Seconds(), 'f', -1, 64))

	case VerifyAction:
		return c.verify(ctx, a, state, logger)

	case CompleteAction:
		return terminal{outcome: OutcomeCompleted, message: orDefault(a.Message, msgDefaultFinish)}, true

	case ErrorAction:
		switch a.Code {
		case ErrCodeDecisionUnparseable:
			state.History.Add(fmt.Sprintf("Decision error: %s", a.Message))
			return terminal{}, false
		case ErrCodeTransientIO:
			if ctx.Err() != nil {
				return c.failure(ctx, state, ctx.Err()), true
			}
			return terminal{outcome: OutcomeFailed, code: ErrCodeTransientIO, message: fmt.Sprintf(msgModelError, a.Message)}, true
		}
		return terminal{outcome: OutcomeFailed, code: ErrCodeModelError, message: fmt.Sprintf(msgModelError, orDefault(a.Message, "Unknown error"))}, true

	case UnknownAction:
		logger.Warn("Model chose an unknown action.", zap.String("action", a.Name))
		state.History.Add(fmt.Sprintf("Unknown action: %s", a.Name))
		return terminal{}, false

	default:
		panic(fmt.Sprintf("unhandled action type %T", action))
	}

	if err != nil {
		return c.failure(ctx, state, err), true
	}
	state.History.Add(entry)
	if err := c.sleep(ctx, settle); err != nil {
		return c.failure(ctx, state, err), true
	}
	return terminal{}, false
}

// searchAndNavigate runs the two search transitions: record the lookup, then open
// what it found.
func (c *Controller) searchAndNavigate(ctx context.Context, a SearchWebAction, state *SessionState, logger *zap.Logger) (terminal, bool) {
	found := c.resolver.Resolve(ctx, a.Query)
	logger.Debug("Entering state.", zap.String("state", string(StateSearchCompleted)), zap.String("source", found.Source))
	state.History.Add(fmt.Sprintf("Searched web for '%s': %s", a.Query, truncate(found.Summary, 100)))
	if found.URL == "" {
		var t terminal
		return t, c.stop(ctx, state, &t)
	}

	logger.Debug("Entering state.", zap.String("state", string(StateAutoNavigate)), zap.String("url", found.URL))
	if _, err := c.browser.Navigate(ctx, found.URL); err != nil {
		return c.failure(ctx, state, err), true
	}
	state.History.Add(fmt.Sprintf("Navigated to %s", found.URL))
	if err := c.sleep(ctx, c.cfg.Settle.Navigate); err != nil {
		return c.failure(ctx, state, err), true
	}
	return terminal{}, false
}

func (c *Controller) verify(ctx context.Context, a VerifyAction, state *SessionState, logger *zap.Logger) (terminal, bool) {
	shot, err := c.browser.Screenshot(ctx)
	if err != nil {
		return c.failure(ctx, state, err), true
	}

	answer, err := c.decider.Verify(ctx, shot, a.Question, a.Expected)
	if err != nil {
		var t terminal
		if c.stop(ctx, state, &t) {
			return t, true
		}
		logger.Warn("Verification answer unreadable.", zap.Error(err))
		state.History.Add(fmt.Sprintf("Verification check: %s", a.Question))
		return terminal{}, false
	}

	if strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(a.Expected)) {
		return terminal{outcome: OutcomeCompleted, message: fmt.Sprintf(msgVerified, a.Question, answer)}, true
	}
	logger.Info("Verification failed.", zap.String("expected", a.Expected), zap.String("got", answer))
	state.History.Add(fmt.Sprintf("Verification failed: %s - expected %s, got %s", a.Question, a.Expected, answer))
	return terminal{}, false
}

// failure converts an error into a terminal result. A run whose own deadline passed
// is reported as timed out rather than failed.
func (c *Controller) failure(ctx context.Context, state *SessionState, err error) terminal {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return terminal{
			outcome: OutcomeTimedOut,
			code:    ErrCodeTaskTimeout,
			message: fmt.Sprintf(msgTimedOut, c.cfg.TaskTimeout, state.LastAction),
		}
	}
	return terminal{outcome: OutcomeFailed, code: ErrCodeActionFailure, message: fmt.Sprintf(msgBrowserError, err)}
}

// fallbackMaxWait caps pauses when the configured ceiling is unset.
const fallbackMaxWait = 30 * time.Second

// clampWait bounds a model-requested pause to [0, MaxWait]. The comparison happens
// in seconds so huge requests never overflow the Duration conversion.
func (c *Controller) clampWait(seconds float64) time.Duration {
	if math.IsNaN(seconds) || seconds <= 0 {
		return 0
	}
	ceiling := c.cfg.MaxWait
	if ceiling <= 0 {
		ceiling = fallbackMaxWait
	}
	if seconds >= ceiling.Seconds() {
		return ceiling
	}
	return time.Duration(seconds * float64(time.Second))
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
