// internal/agent/classify.go
package agent

import (
	"regexp"
	"strings"
)

var (
	// videoURLPattern matches direct YouTube watch and short links.
	videoURLPattern = regexp.MustCompile(`https?://(?:www\.)?(?:youtube\.com/watch\?v=|youtu\.be/)[A-Za-z0-9_-]+`)

	anyURLPattern = regexp.MustCompile(`https?://[^\s"'<>)\]]+`)

	intentWords   = regexp.MustCompile(`(?i)\b(play|open)\b`)
	complexWords  = regexp.MustCompile(`(?i)\b(search|find|look for|then|after)\b`)
	fastPathNoise = regexp.MustCompile(`(?i)\b(on youtube|youtube|play|open|show me|find)\b`)
	mediaWords    = regexp.MustCompile(`(?i)\b(play|song|music|video|youtube)\b`)
	spaces        = regexp.MustCompile(`\s+`)
)

// IsSimpleTask reports whether task is a single-target "play/open X" request that
// the fast path can try. The target is either YouTube or a URL given in the task.
// Multi-step wording ("then", "after", "search", ...) always disqualifies it.
func IsSimpleTask(task string) bool {
	if !intentWords.MatchString(task) || complexWords.MatchString(task) {
		return false
	}
	return strings.Contains(strings.ToLower(task), "youtube") || ExtractURL(task) != ""
}

// ExtractURL returns the first literal http(s) URL in text, or "".
func ExtractURL(text string) string {
	return strings.TrimRight(anyURLPattern.FindString(text), ".,;:!?")
}

// ExtractVideoURL returns the first direct YouTube link in text, or "".
func ExtractVideoURL(text string) string {
	return videoURLPattern.FindString(text)
}

// FastPathQuery strips the intent words from task and targets the search at YouTube.
func FastPathQuery(task string) string {
	q := fastPathNoise.ReplaceAllString(strings.ToLower(task), " ")
	q = strings.TrimSpace(spaces.ReplaceAllString(q, " "))
	return strings.TrimSpace(q + " youtube")
}

// enhanceQuery points media-sounding queries at YouTube.
func enhanceQuery(query string) string {
	if mediaWords.MatchString(query) && !strings.Contains(strings.ToLower(query), "youtube") {
		return query + " youtube"
	}
	return query
}
