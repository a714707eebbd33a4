package message

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"ember/cmd/internal/chat"
	"ember/cmd/internal/directory"
)

type delivery struct {
	kind      string
	userID    int64
	messageID int64
}

// chanNotifier records deliveries on a buffered channel so tests can wait for
// the detached fan-out goroutines without sleeping.
type chanNotifier struct {
	ch chan delivery
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{ch: make(chan delivery, 64)}
}

func (n *chanNotifier) NotifyNewMessage(_ context.Context, userID int64, msg Message) error {
	n.ch <- delivery{kind: "new", userID: userID, messageID: msg.ID}
	return nil
}

func (n *chanNotifier) NotifyMessageDeleted(_ context.Context, userID int64, msg Message) error {
	n.ch <- delivery{kind: "deleted", userID: userID, messageID: msg.ID}
	return nil
}

// collect drains exactly n deliveries or fails the test.
func (n *chanNotifier) collect(t *testing.T, want int) []delivery {
	t.Helper()
	out := make([]delivery, 0, want)
	timeout := time.After(5 * time.Second)
	for len(out) < want {
		select {
		case d := <-n.ch:
			out = append(out, d)
		case <-timeout:
			t.Fatalf("timed out waiting for deliveries: got %d, want %d", len(out), want)
		}
	}
	return out
}

// assertQuiet verifies no stray delivery arrives.
func (n *chanNotifier) assertQuiet(t *testing.T) {
	t.Helper()
	select {
	case d := <-n.ch:
		t.Fatalf("unexpected delivery: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

type fixture struct {
	dir      *directory.InMemoryDirectory
	chats    *chat.Service
	store    *InMemoryStore
	svc      *Service
	notifier *chanNotifier
}

func newFixture(t *testing.T, userCount int) *fixture {
	t.Helper()

	dir := directory.NewInMemoryDirectory()
	for i := 0; i < userCount; i++ {
		if _, err := dir.Register(string(rune('a'+i)), ""); err != nil {
			t.Fatalf("register user %d: %v", i, err)
		}
	}

	chats, err := chat.NewService(slog.Default(), chat.NewInMemoryStore(), dir)
	if err != nil {
		t.Fatalf("chat service: %v", err)
	}

	store := NewInMemoryStore()
	notifier := newChanNotifier()
	svc, err := NewService(slog.Default(), store, chats, dir, notifier)
	if err != nil {
		t.Fatalf("message service: %v", err)
	}
	return &fixture{dir: dir, chats: chats, store: store, svc: svc, notifier: notifier}
}

func (f *fixture) mustChat(t *testing.T, requesterID int64, others ...int64) chat.Chat {
	t.Helper()
	c, err := f.chats.CreateChat(context.Background(), requesterID, others...)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return c
}

func TestService_Post(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3)
	c := f.mustChat(t, 1, 2, 3)

	msg, err := f.svc.Post(ctx, c.ID, 2, "hello")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if msg.ChatID != c.ID || msg.OwnerID != 2 || msg.Text != "hello" {
		t.Fatalf("message: got %+v", msg)
	}

	// The story now leads with the new message.
	ids, err := f.chats.StoryWindow(ctx, c.ID, 0, 10)
	if err != nil {
		t.Fatalf("story: %v", err)
	}
	if len(ids) != 1 || ids[0] != msg.ID {
		t.Fatalf("story: got %v, want [%d]", ids, msg.ID)
	}

	// Every member is notified, the author included.
	got := f.notifier.collect(t, 3)
	seen := map[int64]bool{}
	for _, d := range got {
		if d.kind != "new" || d.messageID != msg.ID {
			t.Fatalf("delivery: got %+v", d)
		}
		seen[d.userID] = true
	}
	for _, userID := range c.Members {
		if !seen[userID] {
			t.Fatalf("member %d was not notified", userID)
		}
	}
}

func TestService_Post_NonMember(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3)
	c := f.mustChat(t, 1, 2)

	if _, err := f.svc.Post(ctx, c.ID, 3, "intrusion"); !errors.Is(err, chat.ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}

	// Neither store changed.
	if ids, _ := f.chats.StoryWindow(ctx, c.ID, 0, 10); len(ids) != 0 {
		t.Fatalf("story must stay empty, got %v", ids)
	}
	if msgs, _ := f.store.ListForOwner(ctx, 3, 0, 10); len(msgs) != 0 {
		t.Fatalf("message store must stay empty, got %v", msgs)
	}
	f.notifier.assertQuiet(t)
}

func TestService_Post_UnknownChat(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	if _, err := f.svc.Post(context.Background(), 99, 1, "x"); !errors.Is(err, chat.ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}

func TestService_Delete_CascadesAcrossForwards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 4)
	home := f.mustChat(t, 1, 2)
	fwd1 := f.mustChat(t, 1, 3)
	fwd2 := f.mustChat(t, 1, 4)

	msg, err := f.svc.Post(ctx, home.ID, 1, "spread me")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	f.notifier.collect(t, 2)

	for _, target := range []chat.Chat{fwd1, fwd2} {
		if _, err := f.svc.Forward(ctx, msg.ID, target.ID, 1); err != nil {
			t.Fatalf("forward to %d: %v", target.ID, err)
		}
		f.notifier.collect(t, 2)
	}

	// One forwarded chat vanishes before the delete; the cascade tolerates it.
	if _, err := f.chats.DeleteChat(ctx, fwd1.ID); err != nil {
		t.Fatalf("delete chat: %v", err)
	}

	deleted, err := f.svc.Delete(ctx, msg.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.ID != msg.ID {
		t.Fatalf("deleted record: got %+v", deleted)
	}

	for _, chatID := range []int64{home.ID, fwd2.ID} {
		if ids, _ := f.chats.StoryWindow(ctx, chatID, 0, 10); len(ids) != 0 {
			t.Fatalf("chat %d story must be empty after cascade, got %v", chatID, ids)
		}
	}
	if _, err := f.store.Get(ctx, msg.ID); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound after delete, got %v", err)
	}

	// Home chat members learn about the deletion.
	got := f.notifier.collect(t, 2)
	for _, d := range got {
		if d.kind != "deleted" || d.messageID != msg.ID {
			t.Fatalf("delivery: got %+v", d)
		}
	}
}

func TestService_Hide(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3)
	c := f.mustChat(t, 1, 2)

	msg, err := f.svc.Post(ctx, c.ID, 1, "awkward")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	f.notifier.collect(t, 2)

	// A non-member viewer gets a user lookup failure, not a membership error.
	if _, err := f.svc.Hide(ctx, msg.ID, c.ID, 3); !errors.Is(err, directory.ErrUserNotFound) {
		t.Fatalf("non-member hide: expected ErrUserNotFound, got %v", err)
	}

	// A message outside the story is not found.
	if _, err := f.svc.Hide(ctx, 99, c.ID, 2); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("unknown message hide: expected ErrMessageNotFound, got %v", err)
	}

	first, err := f.svc.Hide(ctx, msg.ID, c.ID, 2)
	if err != nil {
		t.Fatalf("hide: %v", err)
	}
	second, err := f.svc.Hide(ctx, msg.ID, c.ID, 2)
	if err != nil {
		t.Fatalf("re-hide: %v", err)
	}
	if second != first {
		t.Fatalf("hide is idempotent: %+v vs %+v", second, first)
	}

	// Hidden for the viewer, visible for everybody else.
	if msgs, err := f.svc.ChatMessages(ctx, c.ID, 2, 0, 10); err != nil || len(msgs) != 0 {
		t.Fatalf("viewer 2: msgs=%v err=%v", msgs, err)
	}
	msgs, err := f.svc.ChatMessages(ctx, c.ID, 1, 0, 10)
	if err != nil || len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Fatalf("viewer 1: msgs=%v err=%v", msgs, err)
	}

	// Hiding never notifies.
	f.notifier.assertQuiet(t)
}

func TestService_ChatMessages_NonMember(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3)
	c := f.mustChat(t, 1, 2)

	if _, err := f.svc.ChatMessages(ctx, c.ID, 3, 0, 10); !errors.Is(err, directory.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestService_ChatMessages_NewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 2)
	c := f.mustChat(t, 1, 2)

	var ids []int64
	for _, text := range []string{"one", "two", "three"} {
		m, err := f.svc.Post(ctx, c.ID, 1, text)
		if err != nil {
			t.Fatalf("post %q: %v", text, err)
		}
		ids = append(ids, m.ID)
		f.notifier.collect(t, 2)
	}

	msgs, err := f.svc.ChatMessages(ctx, c.ID, 2, 0, 2)
	if err != nil {
		t.Fatalf("chat messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != ids[2] || msgs[1].ID != ids[1] {
		t.Fatalf("expected newest-first window [%d %d], got %v", ids[2], ids[1], msgs)
	}
}

func TestService_Forward(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, 3)
	home := f.mustChat(t, 1, 2)
	target := f.mustChat(t, 2, 3)

	msg, err := f.svc.Post(ctx, home.ID, 1, "pass it on")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	f.notifier.collect(t, 2)

	// Only members of the target chat may forward into it.
	if _, err := f.svc.Forward(ctx, msg.ID, target.ID, 1); !errors.Is(err, chat.ErrNotAMember) {
		t.Fatalf("expected ErrNotAMember, got %v", err)
	}
	f.notifier.assertQuiet(t)

	fwd, err := f.svc.Forward(ctx, msg.ID, target.ID, 2)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(fwd.ForwardedChats) != 1 || fwd.ForwardedChats[0] != target.ID {
		t.Fatalf("forwarded chats: got %v", fwd.ForwardedChats)
	}
	if ids, _ := f.chats.StoryWindow(ctx, target.ID, 0, 10); len(ids) != 1 || ids[0] != msg.ID {
		t.Fatalf("target story: got %v", ids)
	}
	f.notifier.collect(t, 2)

	// Re-forwarding into the same chat is a no-op.
	again, err := f.svc.Forward(ctx, msg.ID, target.ID, 2)
	if err != nil {
		t.Fatalf("re-forward: %v", err)
	}
	if len(again.ForwardedChats) != 1 {
		t.Fatalf("re-forward must not duplicate: %v", again.ForwardedChats)
	}
	if ids, _ := f.chats.StoryWindow(ctx, target.ID, 0, 10); len(ids) != 1 {
		t.Fatalf("target story after re-forward: got %v", ids)
	}
	f.notifier.assertQuiet(t)
}

func TestService_OwnerMessages_UnknownOwner(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 1)
	if _, err := f.svc.OwnerMessages(context.Background(), 42, 0, 10); !errors.Is(err, directory.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
