package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/browserpilot/api/schemas"
	"github.com/xkilldash9x/browserpilot/internal/agent"
	"github.com/xkilldash9x/browserpilot/internal/search"
)

type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error { return nil }

type MockSearcher struct {
	mock.Mock
	disabled bool
}

func (m *MockSearcher) Enabled() bool { return !m.disabled }

func (m *MockSearcher) Search(ctx context.Context, query string) ([]search.Result, error) {
	args := m.Called(ctx, query)
	results, _ := args.Get(0).([]search.Result)
	return results, args.Error(1)
}

// isIntentRequest matches the classification call, as opposed to the answer call.
func isIntentRequest(req schemas.GenerationRequest) bool {
	return req.SystemPrompt == intentSystemPrompt
}

func isAnswerRequest(req schemas.GenerationRequest) bool {
	return req.SystemPrompt == answerSystemPrompt
}

func TestIntentRouter_Route(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
		disabled bool
		want     Route
	}{
		{"browse with rewritten task", `{"intent":"browse","task":"open the second video about Go generics"}`, nil, false,
			Route{Intent: IntentBrowse, Task: "open the second video about Go generics"}},
		{"search", "```json\n{\"intent\":\"search\",\"query\":\"capital of australia\"}\n```", nil, false,
			Route{Intent: IntentSearch, Query: "capital of australia"}},
		{"search without query uses message", `{"intent":"search"}`, nil, false,
			Route{Intent: IntentSearch, Query: "the message"}},
		{"search without backend browses", `{"intent":"search","query":"q"}`, nil, true,
			Route{Intent: IntentBrowse, Task: "the message"}},
		{"reply", `{"intent":"REPLY","reply":" Hello! "}`, nil, false,
			Route{Intent: IntentReply, Reply: "Hello!"}},
		{"empty reply browses", `{"intent":"reply","reply":""}`, nil, false,
			Route{Intent: IntentBrowse, Task: "the message"}},
		{"unknown intent browses", `{"intent":"dance"}`, nil, false,
			Route{Intent: IntentBrowse, Task: "the message"}},
		{"unreadable reply browses", "I think you want the browser.", nil, false,
			Route{Intent: IntentBrowse, Task: "the message"}},
		{"llm failure browses", "", errors.New("quota exceeded"), false,
			Route{Intent: IntentBrowse, Task: "the message"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := new(MockLLMClient)
			llm.On("Generate", mock.Anything, mock.MatchedBy(isIntentRequest)).Return(tt.response, tt.err).Once()
			router := NewIntentRouter(llm, &MockSearcher{disabled: tt.disabled}, 0, nil, zaptest.NewLogger(t))

			got := router.Route(context.Background(), "the message", nil)
			assert.Equal(t, tt.want, got)
			llm.AssertExpectations(t)
		})
	}
}

func TestIntentRouter_RouteWithoutLLM(t *testing.T) {
	router := NewIntentRouter(nil, nil, 0, nil, zaptest.NewLogger(t))
	assert.Equal(t, Route{Intent: IntentBrowse, Task: "play jazz"}, router.Route(context.Background(), "play jazz", nil))
}

func TestIntentRouter_RouteSendsConversation(t *testing.T) {
	llm := new(MockLLMClient)
	var captured schemas.GenerationRequest
	llm.On("Generate", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(1).(schemas.GenerationRequest) }).
		Return(`{"intent":"browse","task":"play the second result"}`, nil).Once()
	router := NewIntentRouter(llm, nil, 0, nil, zaptest.NewLogger(t))

	var history []Entry
	for i := 0; i < contextEntries; i++ {
		history = append(history, Entry{Role: RoleUser, Text: "old message", At: time.Now()})
	}
	history = append(history,
		Entry{Role: RoleUser, Text: "search lofi on youtube"},
		Entry{Role: RoleBot, Text: "Found three mixes."},
	)

	router.Route(context.Background(), "play the second one", history)

	assert.True(t, captured.Options.ForceJSONFormat)
	assert.Contains(t, captured.UserPrompt, "User: search lofi on youtube")
	assert.Contains(t, captured.UserPrompt, "Bot: Found three mixes.")
	assert.Contains(t, captured.UserPrompt, "Last user message: play the second one")
	assert.Equal(t, contextEntries-2, strings.Count(captured.UserPrompt, "User: old message"))
}

func TestIntentRouter_Answer(t *testing.T) {
	results := []search.Result{{Title: "Canberra", URL: "https://en.example.org/Canberra", Snippet: "Canberra is the capital of Australia."}}

	t.Run("summarizes results", func(t *testing.T) {
		llm := new(MockLLMClient)
		searcher := new(MockSearcher)
		searcher.On("Search", mock.Anything, "capital of australia").Return(results, nil).Once()
		llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
			return isAnswerRequest(req) && containsAll(req.UserPrompt, "Question: what is the capital?", "Source: https://en.example.org/Canberra")
		})).Return(" Canberra (https://en.example.org/Canberra). ", nil).Once()
		router := NewIntentRouter(llm, searcher, 0, nil, zaptest.NewLogger(t))

		answer, err := router.Answer(context.Background(), "what is the capital?", "capital of australia")
		require.NoError(t, err)
		assert.Equal(t, "Canberra (https://en.example.org/Canberra).", answer)
		llm.AssertExpectations(t)
	})

	t.Run("falls back to formatted results", func(t *testing.T) {
		llm := new(MockLLMClient)
		searcher := new(MockSearcher)
		searcher.On("Search", mock.Anything, "capital of australia").Return(results, nil).Once()
		llm.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("timeout")).Once()
		router := NewIntentRouter(llm, searcher, 0, nil, zaptest.NewLogger(t))

		answer, err := router.Answer(context.Background(), "what is the capital?", "capital of australia")
		require.NoError(t, err)
		assert.Equal(t, search.Format(results, 0), answer)
	})

	t.Run("search failure", func(t *testing.T) {
		searcher := new(MockSearcher)
		searcher.On("Search", mock.Anything, "q").Return(nil, errors.New("503")).Once()
		router := NewIntentRouter(new(MockLLMClient), searcher, 0, nil, zaptest.NewLogger(t))

		_, err := router.Answer(context.Background(), "q", "q")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "search failed")
	})

	t.Run("no results", func(t *testing.T) {
		searcher := new(MockSearcher)
		searcher.On("Search", mock.Anything, "q").Return([]search.Result{}, nil).Once()
		router := NewIntentRouter(new(MockLLMClient), searcher, 0, nil, zaptest.NewLogger(t))

		_, err := router.Answer(context.Background(), "q", "q")
		require.Error(t, err)
	})

	t.Run("backend disabled", func(t *testing.T) {
		router := NewIntentRouter(new(MockLLMClient), &MockSearcher{disabled: true}, 0, nil, zaptest.NewLogger(t))
		_, err := router.Answer(context.Background(), "q", "q")
		assert.ErrorIs(t, err, search.ErrNotConfigured)
	})
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

// -- Routing through the webhook --

func newRoutedServer(t *testing.T, llm *MockLLMClient, searcher *MockSearcher) (*Server, *MockRunner, *recordingSender, *recordingRecorder) {
	t.Helper()
	runner := new(MockRunner)
	sender := &recordingSender{}
	recorder := &recordingRecorder{}
	router := NewIntentRouter(llm, searcher, 0, nil, zaptest.NewLogger(t))
	s := NewServer(testServerConfig(), runner, sender, Options{Recorder: recorder, Assistant: router}, zaptest.NewLogger(t))
	return s, runner, sender, recorder
}

func TestWebhook_RoutesReply(t *testing.T) {
	llm := new(MockLLMClient)
	llm.On("Generate", mock.Anything, mock.MatchedBy(isIntentRequest)).
		Return(`{"intent":"reply","reply":"You're welcome!"}`, nil).Once()
	s, runner, sender, recorder := newRoutedServer(t, llm, new(MockSearcher))

	postUpdate(t, s.Router(), `{"update_id":1,"message":{"chat":{"id":9},"text":"thanks!"}}`)
	drain(t, s)

	runner.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assert.Equal(t, []sentMessage{{chatID: 9, text: "You're welcome!"}}, sender.messages())
	assert.Empty(t, recorder.results[9])
	assert.Equal(t, 2, s.Conversations().Len(9))
}

func TestWebhook_RoutesSearch(t *testing.T) {
	llm := new(MockLLMClient)
	searcher := new(MockSearcher)
	llm.On("Generate", mock.Anything, mock.MatchedBy(isIntentRequest)).
		Return(`{"intent":"search","query":"go 1.25 release date"}`, nil).Once()
	searcher.On("Search", mock.Anything, "go 1.25 release date").
		Return([]search.Result{{Title: "Go 1.25", URL: "https://go.example/blog", Snippet: "Released in August."}}, nil).Once()
	llm.On("Generate", mock.Anything, mock.MatchedBy(isAnswerRequest)).
		Return("Go 1.25 was released in August (https://go.example/blog).", nil).Once()
	s, runner, sender, _ := newRoutedServer(t, llm, searcher)

	postUpdate(t, s.Router(), `{"update_id":1,"message":{"chat":{"id":9},"text":"when did go 1.25 come out?"}}`)
	drain(t, s)

	runner.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
	assert.Equal(t, []sentMessage{{chatID: 9, text: "Go 1.25 was released in August (https://go.example/blog)."}}, sender.messages())
	llm.AssertExpectations(t)
	searcher.AssertExpectations(t)
}

func TestWebhook_SearchFailureRunsBrowser(t *testing.T) {
	llm := new(MockLLMClient)
	searcher := new(MockSearcher)
	llm.On("Generate", mock.Anything, mock.MatchedBy(isIntentRequest)).
		Return(`{"intent":"search","query":"weather berlin"}`, nil).Once()
	searcher.On("Search", mock.Anything, "weather berlin").Return(nil, errors.New("503")).Once()
	s, runner, sender, _ := newRoutedServer(t, llm, searcher)
	runner.On("Execute", mock.Anything, "weather in berlin?").
		Return(agent.Result{RunID: "run-2", Outcome: agent.OutcomeCompleted, Message: "12°C and cloudy."}).Once()

	postUpdate(t, s.Router(), `{"update_id":1,"message":{"chat":{"id":9},"text":"weather in berlin?"}}`)
	drain(t, s)

	runner.AssertExpectations(t)
	assert.Equal(t, []sentMessage{{chatID: 9, text: "12°C and cloudy."}}, sender.messages())
}

func TestWebhook_RoutesBrowseWithConversation(t *testing.T) {
	llm := new(MockLLMClient)
	s, runner, sender, recorder := newRoutedServer(t, llm, new(MockSearcher))
	s.Conversations().Append(9, RoleUser, "search lofi mixes on youtube")
	s.Conversations().Append(9, RoleBot, "Found a few mixes.")

	llm.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return isIntentRequest(req) && containsAll(req.UserPrompt, "User: search lofi mixes on youtube", "Last user message: play the first one")
	})).Return(`{"intent":"browse","task":"play the first lofi mix on youtube"}`, nil).Once()
	runner.On("Execute", mock.Anything, "play the first lofi mix on youtube").
		Return(agent.Result{RunID: "run-3", Outcome: agent.OutcomeCompleted, Message: "Playing."}).Once()

	postUpdate(t, s.Router(), `{"update_id":1,"message":{"chat":{"id":9},"text":"play the first one"}}`)
	drain(t, s)

	runner.AssertExpectations(t)
	llm.AssertExpectations(t)
	assert.Equal(t, []sentMessage{{chatID: 9, text: "Playing."}}, sender.messages())
	require.Len(t, recorder.results[9], 1)

	log := s.Conversations().Get(9)
	require.Len(t, log, 4)
	assert.Equal(t, "play the first one", log[2].Text, "the log keeps what the user wrote")
}
