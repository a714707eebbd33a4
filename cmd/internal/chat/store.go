package chat

import "context"

// Store persists chat records.
//
// Requirements:
//   - Ids are assigned max existing id + 1 (1 when empty).
//   - Story mutations for one chat are linearized: concurrent prepends and
//     removals must not lose or duplicate an id.
//   - Membership/user validity is checked by the caller, not the store.
type Store interface {
	// Create stores a new chat with the given members and assigns its id.
	Create(ctx context.Context, members []int64) (Chat, error)

	// Get returns the chat or ErrChatNotFound.
	Get(ctx context.Context, chatID int64) (Chat, error)

	// ListForUser returns chats containing userID in insertion order,
	// sliced to [offset, offset+limit).
	ListForUser(ctx context.Context, userID int64, offset, limit int) ([]Chat, error)

	// AllForUser returns every chat containing userID in insertion order.
	AllForUser(ctx context.Context, userID int64) ([]Chat, error)

	// StoryWindow returns a window of the chat's story (newest first),
	// sliced to [offset, offset+limit). ErrChatNotFound when absent.
	StoryWindow(ctx context.Context, chatID int64, offset, limit int) ([]int64, error)

	// PrependMessage pushes messageID to the head of the story.
	PrependMessage(ctx context.Context, chatID, messageID int64) error

	// RemoveMessage removes messageID from the story. Removing an id that
	// is not present is a no-op; a missing chat is ErrChatNotFound.
	RemoveMessage(ctx context.Context, chatID, messageID int64) error

	// RemoveMember removes userID from the member list.
	// ErrChatNotFound / ErrNotAMember on failure.
	RemoveMember(ctx context.Context, chatID, userID int64) error

	// Delete hard-deletes the chat and returns the deleted record.
	Delete(ctx context.Context, chatID int64) (Chat, error)

	Close() error
}
