// internal/agent/decision.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/api/schemas"
	"github.com/xkilldash9x/browserpilot/internal/config"
	"github.com/xkilldash9x/browserpilot/internal/llmutil"
	"github.com/xkilldash9x/browserpilot/internal/metrics"
)

// unparseableMessage is the message of the ErrorAction returned when a reply holds no
// usable action.
const unparseableMessage = "no parseable response"

// DecisionOracle asks a vision model for the next action given the current screenshot.
type DecisionOracle struct {
	llm      schemas.LLMClient
	viewport config.ViewportConfig
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewDecisionOracle builds an oracle quoting the given viewport to the model. The
// viewport must be the one screenshots are captured at.
func NewDecisionOracle(llm schemas.LLMClient, viewport config.ViewportConfig, collector *metrics.Collector, logger *zap.Logger) *DecisionOracle {
	return &DecisionOracle{
		llm:      llm,
		viewport: viewport,
		metrics:  collector,
		logger:   logger.Named("decision_oracle"),
	}
}

// Decide returns exactly one action. It never fails: a transport failure becomes an
// ErrorAction coded TRANSIENT_IO, and an unusable reply an ErrorAction coded
// DECISION_UNPARSEABLE.
func (o *DecisionOracle) Decide(ctx context.Context, screenshot []byte, task, history string) Action {
	req := schemas.GenerationRequest{
		SystemPrompt: decisionSystemPrompt(o.viewport.Width, o.viewport.Height),
		UserPrompt:   decisionUserPrompt(task, history, o.viewport.Width, o.viewport.Height),
		Images:       []schemas.Image{{MIMEType: "image/png", Data: screenshot}},
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	}

	start := time.Now()
	response, err := o.llm.Generate(ctx, req)
	o.metrics.ObserveOracle("decision", time.Since(start))
	if err != nil {
		o.logger.Error("Decision request failed.", zap.Error(err))
		return ErrorAction{Message: err.Error(), Code: ErrCodeTransientIO}
	}

	action, err := parseDecision(response)
	if err != nil {
		o.logger.Warn("Model reply held no usable action.",
			zap.String("raw_response", truncate(response, 300)),
			zap.Error(err))
		return ErrorAction{Message: unparseableMessage, Code: ErrCodeDecisionUnparseable}
	}

	o.logger.Debug("Model decided.", zap.String("action", describe(action)))
	return action
}

// Verify asks a focused yes/no question about the screenshot and returns the model's
// answer, lower-cased.
func (o *DecisionOracle) Verify(ctx context.Context, screenshot []byte, question, expected string) (string, error) {
	req := schemas.GenerationRequest{
		UserPrompt: verifyPrompt(question, expected),
		Images:     []schemas.Image{{MIMEType: "image/png", Data: screenshot}},
		Options:    schemas.GenerationOptions{ForceJSONFormat: true},
	}

	start := time.Now()
	response, err := o.llm.Generate(ctx, req)
	o.metrics.ObserveOracle("verify", time.Since(start))
	if err != nil {
		return "", fmt.Errorf("verification request failed: %w", err)
	}
	return parseAnswer(response)
}

func parseDecision(response string) (Action, error) {
	raw, ok := llmutil.ExtractJSONObject(response)
	if !ok {
		return nil, errors.New("no JSON object in reply")
	}
	return ParseAction([]byte(raw))
}

type verifyAnswer struct {
	Answer string `json:"answer"`
}

// parseAnswer reads {"answer": ...}, falling back to a bare yes or no in the text.
func parseAnswer(response string) (string, error) {
	if parsed, err := llmutil.ParseJSONResponse[verifyAnswer](response); err == nil && parsed.Answer != "" {
		return strings.ToLower(strings.TrimSpace(parsed.Answer)), nil
	}
	lower := strings.ToLower(response)
	switch {
	case containsWord(lower, "yes"):
		return "yes", nil
	case containsWord(lower, "no"):
		return "no", nil
	}
	return "", fmt.Errorf("could not read a yes/no answer from %q", truncate(response, 100))
}

func containsWord(s, word string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		if f == word {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
