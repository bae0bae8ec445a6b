package chat

import (
	"sync"
	"time"
)

// Roles in a conversation log.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// Entry is one message in a chat's conversation log.
type Entry struct {
	Role string
	Text string
	At   time.Time
}

// Conversations keeps the most recent messages of every chat in memory. Each chat's
// log holds at most limit entries; older ones are dropped first.
type Conversations struct {
	mu    sync.Mutex
	limit int
	chats map[int64][]Entry
}

// NewConversations creates an empty store. A non-positive limit defaults to 20.
func NewConversations(limit int) *Conversations {
	if limit <= 0 {
		limit = 20
	}
	return &Conversations{limit: limit, chats: make(map[int64][]Entry)}
}

// Append records a message for chatID.
func (c *Conversations) Append(chatID int64, role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := append(c.chats[chatID], Entry{Role: role, Text: text, At: time.Now()})
	if over := len(log) - c.limit; over > 0 {
		log = append([]Entry(nil), log[over:]...)
	}
	c.chats[chatID] = log
}

// Get returns a copy of chatID's log, oldest first.
func (c *Conversations) Get(chatID int64) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.chats[chatID]...)
}

// Len reports how many messages are held for chatID.
func (c *Conversations) Len(chatID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chats[chatID])
}
