package chat

import (
	"sync"

	"github.com/google/uuid"
)

// Conversation is an append-only, ordered message history.
// It is safe for concurrent use.
type Conversation struct {
	id string

	mu        sync.RWMutex
	messages  []Message
	observers []func(index int, m Message)
}

// NewConversation starts a conversation with a fresh ID seeded with the
// given messages (usually Greeting()).
func NewConversation(initial ...Message) *Conversation {
	return ResumeConversation(uuid.New().String(), initial...)
}

// ResumeConversation rebuilds a conversation from stored history.
// Seeded messages do not trigger OnAppend observers.
func ResumeConversation(id string, history ...Message) *Conversation {
	c := &Conversation{id: id, messages: make([]Message, 0, len(history)+2)}
	for _, m := range history {
		c.messages = append(c.messages, m.clone())
	}
	return c
}

func (c *Conversation) ID() string { return c.id }

// Append adds m to the end of the history. It returns the index of m and a
// snapshot of the history up to and including m.
func (c *Conversation) Append(m Message) (int, []Message) {
	m = m.clone()

	c.mu.Lock()
	c.messages = append(c.messages, m)
	index := len(c.messages) - 1
	snapshot := make([]Message, len(c.messages))
	copy(snapshot, c.messages)
	observers := c.observers
	c.mu.Unlock()

	for _, fn := range observers {
		fn(index, m)
	}
	return index, snapshot
}

// Messages returns a snapshot of the full history.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// OnAppend registers fn to be called after every subsequent Append.
// Observers run on the appending goroutine, outside the lock.
func (c *Conversation) OnAppend(fn func(index int, m Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers[:len(c.observers):len(c.observers)], fn)
}
