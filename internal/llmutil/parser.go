// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fenceRegex matches a fenced block with an optional language tag. \x60 is a backtick.
var fenceRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")

// StripCodeFences returns the body of the first fenced block in s, or s trimmed
// when there is no fence.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRegex.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ExtractJSONObject returns the first balanced {...} object in a model reply, ignoring
// code fences and conversational text around it. Braces inside JSON strings are not
// counted. ok is false when no complete object is present.
func ExtractJSONObject(response string) (string, bool) {
	body := StripCodeFences(response)
	start := strings.IndexByte(body, '{')
	for start != -1 {
		if end := closingBrace(body, start); end != -1 {
			return body[start : end+1], true
		}
		next := strings.IndexByte(body[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}
	return "", false
}

// closingBrace returns the index of the brace that closes the one at open, or -1.
func closingBrace(s string, open int) int {
	depth := 0
	inString, escaped := false, false
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseJSONResponse extracts a JSON object from an LLM response and decodes it into T.
func ParseJSONResponse[T any](response string) (*T, error) {
	candidate, ok := ExtractJSONObject(response)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in LLM response: %s", truncateString(response, 200))
	}

	var result T
	if err := json.UnmarshalFromString(candidate, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(candidate, 500))
	}
	return &result, nil
}

// truncateString cuts s to maxLen bytes, appending "..." when it was longer.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
