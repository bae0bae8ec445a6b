// internal/agent/history.go
package agent

import "strings"

// History is the run's bounded log of step summaries, oldest first. Once full, each
// Add evicts the oldest entry.
type History struct {
	limit   int
	entries []string
}

// NewHistory returns an empty history holding at most limit entries. A non-positive
// limit is treated as 1.
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{limit: limit, entries: make([]string, 0, limit)}
}

// Add appends an entry, evicting from the front when the cap is reached.
func (h *History) Add(entry string) {
	if len(h.entries) == h.limit {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, entry)
}

// Len returns the number of retained entries.
func (h *History) Len() int { return len(h.entries) }

// Recent returns up to n of the newest entries, oldest first.
func (h *History) Recent(n int) []string {
	if n <= 0 {
		return nil
	}
	if n > len(h.entries) {
		n = len(h.entries)
	}
	out := make([]string, n)
	copy(out, h.entries[len(h.entries)-n:])
	return out
}

// All returns a copy of every retained entry.
func (h *History) All() []string {
	return h.Recent(len(h.entries))
}

// Context joins the newest n entries into the text handed to the decision oracle.
func (h *History) Context(n int) string {
	return strings.Join(h.Recent(n), "\n")
}

// SessionState is the controller's per-run bookkeeping. It has a single writer,
// the run that owns it.
type SessionState struct {
	Iteration         int
	ConsecutiveVerify int
	History           *History
	LastAction        Kind
}

func newSessionState(historyCap int) *SessionState {
	return &SessionState{History: NewHistory(historyCap), LastAction: "none"}
}

// observe updates the verify-loop counter for the action just decided and reports
// the new count.
func (s *SessionState) observe(a Action) int {
	s.LastAction = a.Kind()
	if a.Kind() == KindVerify {
		s.ConsecutiveVerify++
	} else {
		s.ConsecutiveVerify = 0
	}
	return s.ConsecutiveVerify
}
