// internal/agent/prompts.go
package agent

import (
	"fmt"
	"strings"
)

// decisionSystemPrompt lists the action vocabulary. The coordinate space quoted here
// must match the screenshot resolution exactly.
func decisionSystemPrompt(width, height int) string {
	return fmt.Sprintf(`You are controlling a web browser to complete a task for a user.
You see the browser through a screenshot of the visible viewport (%[1]dx%[2]d pixels, top-left is 0,0).

Your response MUST be ONLY one JSON object with one of these actions:

1. SEARCH WEB (when you need to find a link, e.g. a YouTube video):
{"action": "search_web", "query": "exact search query"}

2. NAVIGATE (open a URL):
{"action": "navigate", "url": "https://example.com"}

3. CLICK (click the CENTER of an element):
{"action": "click", "x": 640, "y": 360, "reason": "clicking the search button"}

4. TYPE (type into the focused field; click the field first):
{"action": "type", "text": "text to type", "reason": "typing search query"}

5. PRESS KEY (Enter, Tab, Escape, Backspace, ArrowDown, ...):
{"action": "press_key", "key": "Enter", "reason": "submitting search"}

6. SCROLL:
{"action": "scroll", "direction": "down", "amount": 300, "reason": "revealing more results"}

7. GO BACK (return to the previous page):
{"action": "go_back", "reason": "wrong search result"}

8. WAIT (let the page load):
{"action": "wait", "seconds": 2, "reason": "waiting for video to load"}

9. VERIFY (only when truly uncertain whether the task is done):
{"action": "verify", "question": "Is the video playing without errors?", "expected": "yes"}

10. COMPLETE (you can SEE the task is done):
{"action": "complete", "message": "Video is playing", "success": true}

11. ERROR (the task cannot be completed):
{"action": "error", "message": "what went wrong"}

Rules:
- Give exact pixel coordinates inside the %[1]dx%[2]d screenshot for clicks.
- Include "reason" for clicks, typing, key presses, scrolls, going back and waits.
- If you can see that the task is already done, use "complete" immediately instead of "verify".
- For YouTube, a video player with visible controls means the video is playing.
- Respond with ONLY valid JSON, no other text.`, width, height)
}

func decisionUserPrompt(task, history string, width, height int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", task)
	if history != "" {
		fmt.Fprintf(&b, "Previous context:\n%s\n\n", history)
	}
	fmt.Fprintf(&b, "Analyze this %dx%d screenshot and decide the next action.", width, height)
	return b.String()
}

func verifyPrompt(question, expected string) string {
	return fmt.Sprintf(`%s

Analyze this screenshot and answer with ONLY a JSON response:
{"answer": "yes"} - if the answer is yes
{"answer": "no"} - if the answer is no

Expected answer: %s

Be concise. Respond ONLY with JSON.`, question, expected)
}

func linkLookupPrompt(query string) string {
	return fmt.Sprintf(`Search the web for: %s

Reply with the single most relevant direct URL on the first line (for videos, a
https://www.youtube.com/watch?v=... link), followed by one short sentence describing it.
If you do not know a real URL, say so instead of inventing one.`, query)
}
