// Package message owns message records and per-viewer hide tombstones, plus
// the orchestration that keeps them consistent with chat stories.
package message

import (
	"slices"
	"time"
)

// Message is a message record. ChatID is the chat the message was authored
// into (its home chat); ForwardedChats lists every additional chat the
// message id was propagated to, in propagation order, so deletion can
// cascade.
type Message struct {
	ID             int64
	ChatID         int64
	OwnerID        int64
	Text           string
	ForwardedChats []int64
	CreatedAt      time.Time
}

func (m Message) clone() Message {
	out := m
	out.ForwardedChats = slices.Clone(m.ForwardedChats)
	return out
}

// Hide is a per-viewer tombstone: userID no longer sees messageID inside
// chatID. It never affects what other members see and is permanent (there is
// no unhide operation).
type Hide struct {
	MessageID int64
	ChatID    int64
	UserID    int64
	CreatedAt time.Time
}
