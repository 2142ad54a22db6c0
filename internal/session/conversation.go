// Package session implements the agent execution engine: the
// iterate-until-done control loop, the bounded parallel tool batch executor,
// and the subagent scheduler.
package session

import (
	"sync"
	"time"

	"ratchet/internal/types"
)

// Conversation is the default ConversationManager: an ordered, capped
// message history. When the cap is exceeded the oldest non-system messages
// are dropped; the system prompt always survives.
type Conversation struct {
	mu       sync.RWMutex
	messages []types.Message
	cap      int
}

// NewConversation creates a history bounded to cap messages; cap <= 0 means
// unbounded.
func NewConversation(cap int) *Conversation {
	return &Conversation{cap: cap}
}

// Append adds a message, stamping it and trimming to the cap.
func (c *Conversation) Append(msg types.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.messages = append(c.messages, msg)
	c.trim()
}

// trim drops the oldest non-system messages until the history fits.
// Caller holds the lock.
func (c *Conversation) trim() {
	if c.cap <= 0 || len(c.messages) <= c.cap {
		return
	}
	for len(c.messages) > c.cap {
		dropped := false
		for i, m := range c.messages {
			if m.Role != types.RoleSystem {
				c.messages = append(c.messages[:i], c.messages[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			return
		}
	}
}

// Messages returns a copy of the history in append order.
func (c *Conversation) Messages() []types.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the current history length.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
