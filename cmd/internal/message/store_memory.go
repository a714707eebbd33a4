package message

import (
	"context"
	"slices"
	"sync"
	"time"
)

type hideKey struct {
	messageID int64
	chatID    int64
	userID    int64
}

// InMemoryStore is a Store backed by process memory.
//
// Messages are kept in insertion order; ids are assigned max+1 so the last
// element carries the max id. One mutex guards every mutation.
type InMemoryStore struct {
	mu    sync.Mutex
	msgs  []*Message
	byID  map[int64]*Message
	hides map[hideKey]Hide
}

// NewInMemoryStore constructs an empty message store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[int64]*Message),
		hides: make(map[hideKey]Hide),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Create implements Store.
func (s *InMemoryStore) Create(ctx context.Context, chatID, ownerID int64, text string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64 = 1
	if n := len(s.msgs); n > 0 {
		id = s.msgs[n-1].ID + 1
	}

	m := &Message{
		ID:        id,
		ChatID:    chatID,
		OwnerID:   ownerID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	s.msgs = append(s.msgs, m)
	s.byID[id] = m
	return m.clone(), nil
}

// Get implements Store.
func (s *InMemoryStore) Get(ctx context.Context, id int64) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return m.clone(), nil
}

// GetMany implements Store. Strict by contract: one missing id fails the
// whole batch.
func (s *InMemoryStore) GetMany(ctx context.Context, ids []int64) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		m, ok := s.byID[id]
		if !ok {
			return nil, ErrMessageNotFound
		}
		out = append(out, m.clone())
	}
	return out, nil
}

// ListForOwner implements Store.
func (s *InMemoryStore) ListForOwner(ctx context.Context, ownerID int64, offset, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var all []Message
	for _, m := range s.msgs {
		if m.OwnerID == ownerID {
			all = append(all, m.clone())
		}
	}
	return sliceWindow(all, offset, limit), nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(ctx context.Context, id int64) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	delete(s.byID, id)
	if i := slices.IndexFunc(s.msgs, func(x *Message) bool { return x.ID == id }); i >= 0 {
		s.msgs = slices.Delete(s.msgs, i, i+1)
	}
	return m.clone(), nil
}

// AddForwardedChat implements Store.
func (s *InMemoryStore) AddForwardedChat(ctx context.Context, id, chatID int64) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	if !slices.Contains(m.ForwardedChats, chatID) {
		m.ForwardedChats = append(m.ForwardedChats, chatID)
	}
	return m.clone(), nil
}

// Hide implements Store. Idempotent: the existing tombstone wins.
func (s *InMemoryStore) Hide(ctx context.Context, messageID, chatID, userID int64) (Hide, error) {
	if err := ctx.Err(); err != nil {
		return Hide{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := hideKey{messageID: messageID, chatID: chatID, userID: userID}
	if h, ok := s.hides[key]; ok {
		return h, nil
	}
	h := Hide{
		MessageID: messageID,
		ChatID:    chatID,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	s.hides[key] = h
	return h, nil
}

// HiddenFor implements Store.
func (s *InMemoryStore) HiddenFor(ctx context.Context, chatID, userID int64) (map[int64]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]struct{})
	for key := range s.hides {
		if key.chatID == chatID && key.userID == userID {
			out[key.messageID] = struct{}{}
		}
	}
	return out, nil
}

// sliceWindow returns v[offset : offset+limit) clamped to valid bounds.
func sliceWindow[T any](v []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	if offset >= len(v) {
		return nil
	}
	end := offset + limit
	if end > len(v) {
		end = len(v)
	}
	return v[offset:end]
}
