package search

import (
	"fmt"
	"strings"
)

// Format renders results as numbered "title / snippet / Source: url" blocks, cutting
// each snippet to snippetLen characters. A non-positive snippetLen keeps snippets whole.
func Format(results []Result, snippetLen int) string {
	if len(results) == 0 {
		return "No search results found."
	}
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = "No title"
		}
		blocks = append(blocks, fmt.Sprintf("%d. %s\n%s\nSource: %s",
			i+1, title, truncate(strings.TrimSpace(r.Snippet), snippetLen), r.URL))
	}
	return strings.Join(blocks, "\n\n")
}
