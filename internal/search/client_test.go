package search

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/browserpilot/internal/config"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c := NewClient(config.SearchConfig{
		Provider:   "tavily",
		APIKey:     "tvly-test",
		Endpoint:   endpoint,
		MaxResults: 2,
		Timeout:    5 * time.Second,
	}, zaptest.NewLogger(t))
	c.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestClient_Search(t *testing.T) {
	var gotBody tavilyRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"query":"timeless","results":[
			{"title":"Timeless (Official Video)","url":"https://www.youtube.com/watch?v=abc_123","content":"The official video","score":0.9},
			{"title":"Lyrics","url":"https://lyrics.example/timeless","content":"lyrics"},
			{"title":"Third","url":"https://third.example","content":"dropped"}
		]}`)
	}))
	defer srv.Close()

	results, err := newTestClient(t, srv.URL).Search(context.Background(), "  timeless youtube ")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tvly-test", gotAuth)
	assert.Equal(t, "timeless youtube", gotBody.Query)
	assert.Equal(t, 2, gotBody.MaxResults)
	assert.Equal(t, "basic", gotBody.SearchDepth)

	require.Len(t, results, 2, "results are capped at max_results")
	assert.Equal(t, "https://www.youtube.com/watch?v=abc_123", results[0].URL)
	assert.Equal(t, "The official video", results[0].Snippet)
}

func TestClient_SearchRetriesServerErrorsOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"results":[{"title":"ok","url":"https://ok.example","content":"fine"}]}`)
	}))
	defer srv.Close()

	results, err := newTestClient(t, srv.URL).Search(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_SearchGivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Search(context.Background(), "down")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_SearchClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"invalid key"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Search(context.Background(), "forbidden")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_SearchMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Search(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(config.SearchConfig{Endpoint: "http://unused"}, zaptest.NewLogger(t))
	assert.False(t, c.Enabled())

	_, err := c.Search(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNotConfigured)

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
}

func TestClient_EmptyQuery(t *testing.T) {
	_, err := newTestClient(t, "http://unused").Search(context.Background(), "   ")
	assert.Error(t, err)
}

func TestFormat(t *testing.T) {
	out := Format([]Result{
		{Title: "First", URL: "https://a.example", Snippet: "abcdefghij"},
		{Title: "", URL: "https://b.example", Snippet: "short"},
	}, 4)

	assert.Equal(t,
		"1. First\nabcd\nSource: https://a.example\n\n2. No title\nshor\nSource: https://b.example",
		out)
	assert.Equal(t, "No search results found.", Format(nil, 200))
	assert.Contains(t, Format([]Result{{Title: "x", Snippet: "whole snippet"}}, 0), "whole snippet")
}
