package message

import "context"

// Store persists message records and hide tombstones.
//
// Requirements:
//   - Ids are assigned max existing id + 1 (1 when empty).
//   - Mutations are atomic per message id.
//   - Hide is strictly idempotent: re-hiding returns the existing tombstone.
type Store interface {
	// Create stores a new message with an empty forwarded set.
	Create(ctx context.Context, chatID, ownerID int64, text string) (Message, error)

	// Get returns the message or ErrMessageNotFound.
	Get(ctx context.Context, id int64) (Message, error)

	// GetMany resolves every id, in input order. It is strict: the moment
	// any id cannot be resolved the whole batch fails ErrMessageNotFound
	// and partial results are discarded. Callers needing partial results
	// must fetch individually.
	GetMany(ctx context.Context, ids []int64) ([]Message, error)

	// ListForOwner returns messages authored by ownerID in store order,
	// sliced to [offset, offset+limit).
	ListForOwner(ctx context.Context, ownerID int64, offset, limit int) ([]Message, error)

	// Delete removes the message and returns the deleted record so the
	// caller can cascade over ChatID and ForwardedChats.
	Delete(ctx context.Context, id int64) (Message, error)

	// AddForwardedChat records chatID as a propagation target of the
	// message. Order is preserved; duplicates are ignored.
	AddForwardedChat(ctx context.Context, id, chatID int64) (Message, error)

	// Hide creates (or returns the existing) tombstone for
	// (messageID, chatID, userID).
	Hide(ctx context.Context, messageID, chatID, userID int64) (Hide, error)

	// HiddenFor returns the set of message ids hidden from userID in chatID.
	HiddenFor(ctx context.Context, chatID, userID int64) (map[int64]struct{}, error)

	Close() error
}
