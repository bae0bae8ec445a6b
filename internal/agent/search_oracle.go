// internal/agent/search_oracle.go
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/api/schemas"
	"github.com/xkilldash9x/browserpilot/internal/metrics"
	"github.com/xkilldash9x/browserpilot/internal/search"
)

// Sources a SearchOutcome can come from.
const (
	SourceSearch = "search"
	SourceModel  = "model"
	SourceNone   = "none"
)

// Searcher is the web search backend.
type Searcher interface {
	Enabled() bool
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// SearchOutcome is what a lookup produced. An empty URL is a normal outcome.
type SearchOutcome struct {
	// VideoURL is the first direct video link found, if any.
	VideoURL string
	// URL is the best link to open: VideoURL when present, else the top result.
	URL     string
	Summary string
	Source  string
}

// SearchOracle resolves a natural-language target to a URL, preferring the search
// backend and degrading to a text-only model answer.
type SearchOracle struct {
	searcher   Searcher
	llm        schemas.LLMClient
	snippetLen int
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// NewSearchOracle builds a search oracle. searcher and llm may each be nil, but a
// lookup with neither always finds nothing.
func NewSearchOracle(searcher Searcher, llm schemas.LLMClient, snippetLen int, collector *metrics.Collector, logger *zap.Logger) *SearchOracle {
	return &SearchOracle{
		searcher:   searcher,
		llm:        llm,
		snippetLen: snippetLen,
		metrics:    collector,
		logger:     logger.Named("search_oracle"),
	}
}

// Resolve never fails; failures are described in the outcome's Summary.
func (o *SearchOracle) Resolve(ctx context.Context, query string) SearchOutcome {
	start := time.Now()
	defer func() { o.metrics.ObserveOracle("search", time.Since(start)) }()

	query = enhanceQuery(strings.TrimSpace(query))
	o.logger.Info("Resolving link.", zap.String("query", query))

	var searchErr error
	if o.searcher != nil && o.searcher.Enabled() {
		results, err := o.searcher.Search(ctx, query)
		if err == nil {
			return o.fromResults(query, results)
		}
		searchErr = err
		o.logger.Warn("Search backend failed, asking the model instead.", zap.Error(err))
	}

	outcome, err := o.fromModel(ctx, query)
	if err == nil {
		if searchErr != nil {
			outcome.Summary = "[search backend failed, using model answer] " + outcome.Summary
		}
		return outcome
	}
	o.logger.Error("Link lookup failed.", zap.Error(err))

	cause := err
	if searchErr != nil {
		cause = searchErr
	}
	return SearchOutcome{Summary: fmt.Sprintf("Search failed: %v", cause), Source: SourceNone}
}

func (o *SearchOracle) fromResults(query string, results []search.Result) SearchOutcome {
	out := SearchOutcome{Source: SourceSearch}
	if len(results) == 0 {
		out.Summary = "No search results found."
		return out
	}

	for _, r := range results {
		if v := ExtractVideoURL(r.URL); v != "" {
			out.VideoURL = v
			break
		}
	}
	out.URL = out.VideoURL
	if out.URL == "" {
		out.URL = results[0].URL
	}

	body := search.Format(results, o.snippetLen)
	if out.VideoURL != "" {
		body = fmt.Sprintf("DIRECT YOUTUBE URL: %s\n\n%s", out.VideoURL, body)
		o.logger.Info("Found direct video link.", zap.String("url", out.VideoURL))
	}
	out.Summary = fmt.Sprintf("Search results for '%s':\n\n%s", query, body)
	return out
}

func (o *SearchOracle) fromModel(ctx context.Context, query string) (SearchOutcome, error) {
	if o.llm == nil {
		return SearchOutcome{}, fmt.Errorf("no search backend or model available for %q", query)
	}
	o.metrics.IncSearchFallback()

	text, err := o.llm.Generate(ctx, schemas.GenerationRequest{UserPrompt: linkLookupPrompt(query)})
	if err != nil {
		return SearchOutcome{}, fmt.Errorf("model link lookup failed: %w", err)
	}
	text = strings.TrimSpace(text)
	out := SearchOutcome{
		VideoURL: ExtractVideoURL(text),
		URL:      ExtractURL(text),
		Summary:  text,
		Source:   SourceModel,
	}
	if out.VideoURL != "" {
		out.URL = out.VideoURL
	}
	return out, nil
}
