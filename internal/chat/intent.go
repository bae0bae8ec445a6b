package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/api/schemas"
	"github.com/xkilldash9x/browserpilot/internal/llmutil"
	"github.com/xkilldash9x/browserpilot/internal/metrics"
	"github.com/xkilldash9x/browserpilot/internal/search"
)

// Intent is how a chat message gets handled.
type Intent string

const (
	// IntentBrowse runs the message as a browser task.
	IntentBrowse Intent = "browse"
	// IntentSearch answers from web search results without opening the browser.
	IntentSearch Intent = "search"
	// IntentReply answers directly, e.g. greetings and small talk.
	IntentReply Intent = "reply"
)

// contextEntries is how much of the conversation the classifier sees.
const contextEntries = 6

// Route is the classification of one message.
type Route struct {
	Intent Intent `json:"intent"`
	// Task is the browser task with references to earlier messages resolved.
	Task  string `json:"task"`
	Query string `json:"query"`
	Reply string `json:"reply"`
}

// Assistant decides how a message is handled and answers the ones that do not need
// the browser. *IntentRouter satisfies it.
type Assistant interface {
	Route(ctx context.Context, text string, history []Entry) Route
	Answer(ctx context.Context, question, query string) (string, error)
}

// Searcher is the web search backend used for search answers.
type Searcher interface {
	Enabled() bool
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// IntentRouter classifies messages with the LLM, using the recent conversation so
// follow-ups like "now open the second one" become complete tasks.
type IntentRouter struct {
	llm        schemas.LLMClient
	searcher   Searcher
	snippetLen int
	metrics    *metrics.Collector
	logger     *zap.Logger
}

var _ Assistant = (*IntentRouter)(nil)

// NewIntentRouter builds a router. With a nil llm every message is a browser task;
// without an enabled searcher search intents become browser tasks too.
func NewIntentRouter(llm schemas.LLMClient, searcher Searcher, snippetLen int, collector *metrics.Collector, logger *zap.Logger) *IntentRouter {
	return &IntentRouter{
		llm:        llm,
		searcher:   searcher,
		snippetLen: snippetLen,
		metrics:    collector,
		logger:     logger.Named("intent"),
	}
}

// Route never fails. Anything it cannot classify is treated as a browser task.
func (r *IntentRouter) Route(ctx context.Context, text string, history []Entry) Route {
	fallback := Route{Intent: IntentBrowse, Task: text}
	if r.llm == nil {
		return fallback
	}

	start := time.Now()
	response, err := r.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: intentSystemPrompt,
		UserPrompt:   intentUserPrompt(text, history),
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true},
	})
	r.metrics.ObserveOracle("intent", time.Since(start))
	if err != nil {
		r.logger.Warn("Intent classification failed, treating the message as a task.", zap.Error(err))
		return fallback
	}

	parsed, err := llmutil.ParseJSONResponse[Route](response)
	if err != nil {
		r.logger.Warn("Intent reply unreadable, treating the message as a task.", zap.Error(err))
		return fallback
	}
	return r.normalize(*parsed, text)
}

func (r *IntentRouter) normalize(route Route, text string) Route {
	route.Intent = Intent(strings.ToLower(strings.TrimSpace(string(route.Intent))))
	route.Task = strings.TrimSpace(route.Task)
	route.Query = strings.TrimSpace(route.Query)
	route.Reply = strings.TrimSpace(route.Reply)

	switch route.Intent {
	case IntentReply:
		if route.Reply != "" {
			return Route{Intent: IntentReply, Reply: route.Reply}
		}
	case IntentSearch:
		if r.searcher != nil && r.searcher.Enabled() {
			if route.Query == "" {
				route.Query = text
			}
			return Route{Intent: IntentSearch, Query: route.Query}
		}
	case IntentBrowse:
		if route.Task != "" {
			return Route{Intent: IntentBrowse, Task: route.Task}
		}
	}
	return Route{Intent: IntentBrowse, Task: text}
}

// Answer searches for query and has the LLM answer question from the results. When
// summarizing fails the formatted results are returned as they are.
func (r *IntentRouter) Answer(ctx context.Context, question, query string) (string, error) {
	if r.searcher == nil || !r.searcher.Enabled() {
		return "", search.ErrNotConfigured
	}
	results, err := r.searcher.Search(ctx, query)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if len(results) == 0 {
		return "", errors.New("search returned no results")
	}

	formatted := search.Format(results, r.snippetLen)
	if r.llm == nil {
		return formatted, nil
	}
	summary, err := r.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: answerSystemPrompt,
		UserPrompt:   fmt.Sprintf("Question: %s\n\nSearch results:\n%s", question, formatted),
		Options:      schemas.GenerationOptions{Temperature: 0.3},
	})
	if err != nil || strings.TrimSpace(summary) == "" {
		r.logger.Warn("Summarizing search results failed, sending them as they are.", zap.Error(err))
		return formatted, nil
	}
	return strings.TrimSpace(summary), nil
}

const intentSystemPrompt = `You route messages sent to a bot that can operate a real web browser.
Decide how to handle the LAST user message and answer with ONLY one JSON object:

{"intent": "browse", "task": "complete browser task"}
  The user wants something done in the browser: open, play, click, fill in, log in, buy.
  Rewrite follow-ups into a complete task using the conversation, e.g. "the second one" -> the actual item.

{"intent": "search", "query": "web search query"}
  The user asks a factual question that a web search answers without opening pages.

{"intent": "reply", "reply": "your answer"}
  Greetings, thanks, small talk or questions about the conversation itself.

When unsure, use "browse".`

const answerSystemPrompt = `Answer the user's question in a few sentences using only the search results provided.
Mention the source URL you relied on. If the results do not answer the question, say so.`

func intentUserPrompt(text string, history []Entry) string {
	var b strings.Builder
	if len(history) > contextEntries {
		history = history[len(history)-contextEntries:]
	}
	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, e := range history {
			who := "User"
			if e.Role == RoleBot {
				who = "Bot"
			}
			fmt.Fprintf(&b, "%s: %s\n", who, e.Text)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Last user message: %s", text)
	return b.String()
}
