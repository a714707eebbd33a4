package chat

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestInMemoryStore_CreateAssignsMaxPlusOne(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore()

	a, err := s.Create(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := s.Create(ctx, []int64{2, 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("expected ids 1,2 got %d,%d", a.ID, b.ID)
	}

	// Deleting the chat carrying the max id frees that id for reuse.
	if _, err := s.Delete(ctx, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	c, err := s.Create(ctx, []int64{4})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.ID != 2 {
		t.Fatalf("expected id 2 after deleting max, got %d", c.ID)
	}
}

func TestInMemoryStore_StoryPrependAndRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore()

	c, err := s.Create(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, id := range []int64{10, 11, 12} {
		if err := s.PrependMessage(ctx, c.ID, id); err != nil {
			t.Fatalf("prepend %d: %v", id, err)
		}
	}

	got, err := s.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want := []int64{12, 11, 10}; !slices.Equal(got.Story, want) {
		t.Fatalf("story newest-first: got %v want %v", got.Story, want)
	}

	if err := s.RemoveMessage(ctx, c.ID, 11); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// Removing an id that is not in the story is a no-op, not an error.
	if err := s.RemoveMessage(ctx, c.ID, 999); err != nil {
		t.Fatalf("remove absent id: %v", err)
	}

	got, _ = s.Get(ctx, c.ID)
	if want := []int64{12, 10}; !slices.Equal(got.Story, want) {
		t.Fatalf("story after removal: got %v want %v", got.Story, want)
	}

	if err := s.PrependMessage(ctx, 404, 1); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("prepend to missing chat: expected ErrChatNotFound, got %v", err)
	}
	if err := s.RemoveMessage(ctx, 404, 1); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("remove from missing chat: expected ErrChatNotFound, got %v", err)
	}
}

func TestInMemoryStore_StoryWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore()

	c, _ := s.Create(ctx, []int64{1})
	for id := int64(1); id <= 5; id++ {
		if err := s.PrependMessage(ctx, c.ID, id); err != nil {
			t.Fatalf("prepend: %v", err)
		}
	}

	win, err := s.StoryWindow(ctx, c.ID, 1, 2)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if want := []int64{4, 3}; !slices.Equal(win, want) {
		t.Fatalf("window: got %v want %v", win, want)
	}

	if win, _ := s.StoryWindow(ctx, c.ID, 10, 5); len(win) != 0 {
		t.Fatalf("out-of-range window should be empty, got %v", win)
	}
	if _, err := s.StoryWindow(ctx, 404, 0, 1); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("missing chat: expected ErrChatNotFound, got %v", err)
	}
}

func TestInMemoryStore_ListForUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore()

	for i := 0; i < 4; i++ {
		members := []int64{1}
		if i%2 == 1 {
			members = []int64{2}
		}
		if _, err := s.Create(ctx, members); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	all, err := s.ListForUser(ctx, 1, 0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != 1 || all[1].ID != 3 {
		t.Fatalf("expected chats [1 3], got %+v", all)
	}

	page, err := s.ListForUser(ctx, 1, 1, 1)
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 1 || page[0].ID != 3 {
		t.Fatalf("expected page [3], got %+v", page)
	}
}

func TestInMemoryStore_RemoveMember(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewInMemoryStore()

	c, _ := s.Create(ctx, []int64{1, 2})

	if err := s.RemoveMember(ctx, c.ID, 3); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
	if err := s.RemoveMember(ctx, 404, 1); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}

	if err := s.RemoveMember(ctx, c.ID, 2); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	got, _ := s.Get(ctx, c.ID)
	if !slices.Equal(got.Members, []int64{1}) {
		t.Fatalf("members after removal: got %v", got.Members)
	}

	// The now single-member chat survives; emptying it would not delete it
	// either.
	if err := s.RemoveMember(ctx, c.ID, 1); err != nil {
		t.Fatalf("remove last member: %v", err)
	}
	if _, err := s.Get(ctx, c.ID); err != nil {
		t.Fatalf("empty chat must survive: %v", err)
	}
}
