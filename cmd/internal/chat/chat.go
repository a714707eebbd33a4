// Package chat owns chat records: membership lists and the ordered story of
// message ids per chat. The story is newest-first; it holds message id
// references, never message content.
package chat

import (
	"slices"
	"time"
)

// Chat is a chat record.
//
// Invariant: every id in Story resolves to a message whose ChatID equals this
// chat's ID, until that message is deleted.
type Chat struct {
	ID        int64
	Members   []int64
	Story     []int64
	CreatedAt time.Time
}

// HasMember reports whether userID is a member of the chat.
func (c Chat) HasMember(userID int64) bool {
	return slices.Contains(c.Members, userID)
}

// HasMessage reports whether messageID is currently present in the story.
func (c Chat) HasMessage(messageID int64) bool {
	return slices.Contains(c.Story, messageID)
}

// clone returns a deep copy so store internals never escape.
func (c Chat) clone() Chat {
	out := c
	out.Members = slices.Clone(c.Members)
	out.Story = slices.Clone(c.Story)
	return out
}
