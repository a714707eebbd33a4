package chat

import (
	"context"
	"slices"
	"sync"
	"time"
)

// InMemoryStore is a Store backed by process memory.
//
// Chats are kept in insertion order; since ids are assigned max+1 and new
// chats are appended, the last element always carries the max id.
// One mutex guards every mutation, which linearizes story updates per §5 of
// the store contract without per-chat locks.
type InMemoryStore struct {
	mu    sync.Mutex
	chats []*Chat
	byID  map[int64]*Chat
}

// NewInMemoryStore constructs an empty chat store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byID: make(map[int64]*Chat)}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// Create implements Store.
func (s *InMemoryStore) Create(ctx context.Context, members []int64) (Chat, error) {
	if len(members) == 0 {
		return Chat{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Chat{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64 = 1
	if n := len(s.chats); n > 0 {
		id = s.chats[n-1].ID + 1
	}

	c := &Chat{
		ID:        id,
		Members:   slices.Clone(members),
		CreatedAt: time.Now().UTC(),
	}
	s.chats = append(s.chats, c)
	s.byID[id] = c
	return c.clone(), nil
}

// Get implements Store.
func (s *InMemoryStore) Get(ctx context.Context, chatID int64) (Chat, error) {
	if err := ctx.Err(); err != nil {
		return Chat{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[chatID]
	if !ok {
		return Chat{}, ErrChatNotFound
	}
	return c.clone(), nil
}

// ListForUser implements Store.
func (s *InMemoryStore) ListForUser(ctx context.Context, userID int64, offset, limit int) ([]Chat, error) {
	all, err := s.AllForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return sliceWindow(all, offset, limit), nil
}

// AllForUser implements Store.
func (s *InMemoryStore) AllForUser(ctx context.Context, userID int64) ([]Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Chat
	for _, c := range s.chats {
		if c.HasMember(userID) {
			out = append(out, c.clone())
		}
	}
	return out, nil
}

// StoryWindow implements Store.
func (s *InMemoryStore) StoryWindow(ctx context.Context, chatID int64, offset, limit int) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	return slices.Clone(sliceWindow(c.Story, offset, limit)), nil
}

// PrependMessage implements Store.
func (s *InMemoryStore) PrependMessage(ctx context.Context, chatID, messageID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[chatID]
	if !ok {
		return ErrChatNotFound
	}
	c.Story = append([]int64{messageID}, c.Story...)
	return nil
}

// RemoveMessage implements Store.
func (s *InMemoryStore) RemoveMessage(ctx context.Context, chatID, messageID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[chatID]
	if !ok {
		return ErrChatNotFound
	}
	if i := slices.Index(c.Story, messageID); i >= 0 {
		c.Story = slices.Delete(c.Story, i, i+1)
	}
	return nil
}

// RemoveMember implements Store.
func (s *InMemoryStore) RemoveMember(ctx context.Context, chatID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[chatID]
	if !ok {
		return ErrChatNotFound
	}
	i := slices.Index(c.Members, userID)
	if i < 0 {
		return ErrNotAMember
	}
	c.Members = slices.Delete(c.Members, i, i+1)
	return nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(ctx context.Context, chatID int64) (Chat, error) {
	if err := ctx.Err(); err != nil {
		return Chat{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[chatID]
	if !ok {
		return Chat{}, ErrChatNotFound
	}
	delete(s.byID, chatID)
	if i := slices.IndexFunc(s.chats, func(x *Chat) bool { return x.ID == chatID }); i >= 0 {
		s.chats = slices.Delete(s.chats, i, i+1)
	}
	return c.clone(), nil
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
