package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ember/cmd/internal/directory"
)

// Observer receives story lifecycle events. Observers replace silent
// side-effect stubs: the hooks always fire, whether or not anything listens.
type Observer interface {
	MessagePosted(chatID, messageID int64)
	MessageDeleted(chatID, messageID int64)
	MessageHidden(chatID, messageID, userID int64)
}

// Service is the chat orchestration layer: it validates users against the
// membership directory before delegating to the Store, and owns matchmaking.
// It holds no chat state of its own.
type Service struct {
	log   *slog.Logger
	store Store
	dir   directory.Directory

	obsMu     sync.RWMutex
	observers []Observer
}

// NewService constructs a chat Service.
func NewService(log *slog.Logger, store Store, dir directory.Directory) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil || dir == nil {
		return nil, ErrInvalidInput
	}
	return &Service{log: log, store: store, dir: dir}, nil
}

// Subscribe registers an observer for story lifecycle events.
func (s *Service) Subscribe(o Observer) {
	if o == nil {
		return
	}
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

// CreateChat validates every member id against the directory and creates the
// chat. The first unresolvable id fails with ErrInvalidMember naming the id.
func (s *Service) CreateChat(ctx context.Context, requesterID int64, otherIDs ...int64) (Chat, error) {
	members := append([]int64{requesterID}, otherIDs...)
	for _, id := range members {
		if _, err := s.dir.ResolveUser(ctx, id); err != nil {
			if errors.Is(err, directory.ErrUserNotFound) {
				return Chat{}, fmt.Errorf("%w: %w: user %d", ErrInvalidMember, err, id)
			}
			return Chat{}, err
		}
	}

	c, err := s.store.Create(ctx, members)
	if err != nil {
		return Chat{}, err
	}
	s.log.Info("chat.created", "chat_id", c.ID, "members", len(c.Members))
	return c, nil
}

// MatchRequester creates a two-party chat between the requester and a user
// they do not already share a chat with.
//
// The exclusion set is the requester plus every co-member across all of the
// requester's chats. No eligible candidate is a valid outcome: ok is false
// and no chat is created.
func (s *Service) MatchRequester(ctx context.Context, requesterID int64) (Chat, bool, error) {
	if _, err := s.dir.ResolveUser(ctx, requesterID); err != nil {
		return Chat{}, false, err
	}

	chats, err := s.store.AllForUser(ctx, requesterID)
	if err != nil {
		return Chat{}, false, err
	}

	excluding := map[int64]struct{}{requesterID: {}}
	for _, c := range chats {
		for _, id := range c.Members {
			excluding[id] = struct{}{}
		}
	}

	candidate, ok, err := s.dir.PickRandomUser(ctx, excluding)
	if err != nil {
		return Chat{}, false, err
	}
	if !ok {
		s.log.Info("chat.match.exhausted", "requester_id", requesterID, "excluded", len(excluding))
		return Chat{}, false, nil
	}

	c, err := s.CreateChat(ctx, requesterID, candidate.ID)
	if err != nil {
		return Chat{}, false, err
	}
	s.log.Info("chat.matched", "chat_id", c.ID, "requester_id", requesterID, "candidate_id", candidate.ID)
	return c, true, nil
}

// Chat returns a chat by id.
func (s *Service) Chat(ctx context.Context, chatID int64) (Chat, error) {
	return s.store.Get(ctx, chatID)
}

// UserChats lists the user's chats with pagination. The user must resolve in
// the directory.
func (s *Service) UserChats(ctx context.Context, userID int64, offset, limit int) ([]Chat, error) {
	if _, err := s.dir.ResolveUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListForUser(ctx, userID, offset, limit)
}

// StoryWindow returns a window of the chat's story, newest first.
func (s *Service) StoryWindow(ctx context.Context, chatID int64, offset, limit int) ([]int64, error) {
	return s.store.StoryWindow(ctx, chatID, offset, limit)
}

// AttachMessage prepends a message id to the chat's story and fires the
// MessagePosted hook.
func (s *Service) AttachMessage(ctx context.Context, chatID, messageID int64) error {
	if err := s.store.PrependMessage(ctx, chatID, messageID); err != nil {
		return err
	}
	s.eachObserver(func(o Observer) { o.MessagePosted(chatID, messageID) })
	return nil
}

// DetachMessage removes a message id from the chat's story and fires the
// MessageDeleted hook. Removing an id that is not present is a no-op.
func (s *Service) DetachMessage(ctx context.Context, chatID, messageID int64) error {
	if err := s.store.RemoveMessage(ctx, chatID, messageID); err != nil {
		return err
	}
	s.eachObserver(func(o Observer) { o.MessageDeleted(chatID, messageID) })
	return nil
}

// NoteMessageHidden fires the MessageHidden hook. Hiding mutates no chat
// state, so this is observation only.
func (s *Service) NoteMessageHidden(chatID, messageID, userID int64) {
	s.eachObserver(func(o Observer) { o.MessageHidden(chatID, messageID, userID) })
}

// Leave removes the user from the chat's member list.
// Empty chats are NOT deleted; abandonment is explicit, never implicit.
func (s *Service) Leave(ctx context.Context, chatID, userID int64) error {
	if err := s.store.RemoveMember(ctx, chatID, userID); err != nil {
		return err
	}
	s.log.Info("chat.member.left", "chat_id", chatID, "user_id", userID)
	return nil
}

// DeleteChat hard-deletes the chat and returns the deleted record.
func (s *Service) DeleteChat(ctx context.Context, chatID int64) (Chat, error) {
	c, err := s.store.Delete(ctx, chatID)
	if err != nil {
		return Chat{}, err
	}
	s.log.Info("chat.deleted", "chat_id", chatID)
	return c, nil
}

func (s *Service) eachObserver(fn func(Observer)) {
	s.obsMu.RLock()
	obs := s.observers
	s.obsMu.RUnlock()
	for _, o := range obs {
		fn(o)
	}
}
