package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ember/cmd/internal/chat"
	"ember/cmd/internal/directory"
)

// ChatGateway is the slice of the chat layer the message orchestration needs.
// Implemented by chat.Service.
type ChatGateway interface {
	Chat(ctx context.Context, chatID int64) (chat.Chat, error)
	AttachMessage(ctx context.Context, chatID, messageID int64) error
	DetachMessage(ctx context.Context, chatID, messageID int64) error
	StoryWindow(ctx context.Context, chatID int64, offset, limit int) ([]int64, error)
	NoteMessageHidden(chatID, messageID, userID int64)
}

// Notifier delivers chat events to individual users. Implementations must be
// best-effort: a returned error means the recipient lookup itself failed, not
// that delivery failed.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, userID int64, msg Message) error
	NotifyMessageDeleted(ctx context.Context, userID int64, msg Message) error
}

// NopNotifier is a Notifier that does nothing.
type NopNotifier struct{}

func (NopNotifier) NotifyNewMessage(context.Context, int64, Message) error     { return nil }
func (NopNotifier) NotifyMessageDeleted(context.Context, int64, Message) error { return nil }

// Service is the message orchestration layer. It validates membership before
// mutation, keeps the message store and chat stories consistent, and triggers
// notification fan-out after state changes commit.
type Service struct {
	log      *slog.Logger
	store    Store
	chats    ChatGateway
	dir      directory.Directory
	notifier Notifier
}

// NewService constructs a message Service.
func NewService(log *slog.Logger, store Store, chats ChatGateway, dir directory.Directory, notifier Notifier) (*Service, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil || chats == nil || dir == nil {
		return nil, ErrInvalidInput
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{log: log, store: store, chats: chats, dir: dir, notifier: notifier}, nil
}

// Post authors a message into a chat.
//
// Create + prepend form one logical transaction: the membership check runs
// before anything is written, and if the prepend fails (the chat vanished
// between check and commit) the created message is rolled back. After commit
// every member of the chat is notified, including the author.
func (s *Service) Post(ctx context.Context, chatID, ownerID int64, text string) (Message, error) {
	c, err := s.chats.Chat(ctx, chatID)
	if err != nil {
		return Message{}, err
	}
	if !c.HasMember(ownerID) {
		return Message{}, chat.ErrNotAMember
	}

	msg, err := s.store.Create(ctx, chatID, ownerID, text)
	if err != nil {
		return Message{}, err
	}

	if err := s.chats.AttachMessage(ctx, chatID, msg.ID); err != nil {
		if _, delErr := s.store.Delete(ctx, msg.ID); delErr != nil {
			s.log.Error("message.post.rollback_fail", "message_id", msg.ID, "err", delErr)
		}
		return Message{}, fmt.Errorf("attach message to chat %d: %w", chatID, err)
	}

	s.log.Info("message.posted", "message_id", msg.ID, "chat_id", chatID, "owner_id", ownerID)
	s.fanout(ctx, c.Members, msg, s.notifier.NotifyNewMessage)
	return msg, nil
}

// Delete removes a message and cascades the removal of its id from the home
// chat's story and from every forwarded chat, in order. A chat that no longer
// exists is a non-fatal skip; the deletion itself still succeeds. Afterwards
// the home chat's current members are notified.
func (s *Service) Delete(ctx context.Context, messageID int64) (Message, error) {
	msg, err := s.store.Delete(ctx, messageID)
	if err != nil {
		return Message{}, err
	}

	for _, chatID := range append([]int64{msg.ChatID}, msg.ForwardedChats...) {
		if err := s.chats.DetachMessage(ctx, chatID, messageID); err != nil {
			if errors.Is(err, chat.ErrChatNotFound) {
				s.log.Info("message.delete.chat_gone", "message_id", messageID, "chat_id", chatID)
				continue
			}
			// The message record is already gone; later chats still get
			// their turn. Stale story ids are tolerated over failing the
			// committed deletion.
			s.log.Error("message.delete.detach_fail", "message_id", messageID, "chat_id", chatID, "err", err)
		}
	}

	s.log.Info("message.deleted", "message_id", messageID, "chat_id", msg.ChatID)

	if home, err := s.chats.Chat(ctx, msg.ChatID); err == nil {
		s.fanout(ctx, home.Members, msg, s.notifier.NotifyMessageDeleted)
	}
	return msg, nil
}

// Hide creates a per-viewer tombstone for the message inside the chat.
//
// A non-member viewer fails with directory.ErrUserNotFound rather than a
// membership error, so non-members cannot probe chat existence. Hiding never
// mutates the story and never notifies other members.
func (s *Service) Hide(ctx context.Context, messageID, chatID, viewerID int64) (Hide, error) {
	c, err := s.chats.Chat(ctx, chatID)
	if err != nil {
		return Hide{}, err
	}
	if !c.HasMember(viewerID) {
		return Hide{}, directory.ErrUserNotFound
	}
	if !c.HasMessage(messageID) {
		return Hide{}, ErrMessageNotFound
	}

	h, err := s.store.Hide(ctx, messageID, chatID, viewerID)
	if err != nil {
		return Hide{}, err
	}
	s.chats.NoteMessageHidden(chatID, messageID, viewerID)
	s.log.Info("message.hidden", "message_id", messageID, "chat_id", chatID, "user_id", viewerID)
	return h, nil
}

// Forward propagates a message's id into another chat. The forwarding user
// must be a member of the target chat. The target's members are notified as
// for a new message.
func (s *Service) Forward(ctx context.Context, messageID, toChatID, byUserID int64) (Message, error) {
	if _, err := s.store.Get(ctx, messageID); err != nil {
		return Message{}, err
	}
	target, err := s.chats.Chat(ctx, toChatID)
	if err != nil {
		return Message{}, err
	}
	if !target.HasMember(byUserID) {
		return Message{}, chat.ErrNotAMember
	}
	if target.HasMessage(messageID) {
		// Already present in the target story; nothing to do.
		return s.store.Get(ctx, messageID)
	}

	msg, err := s.store.AddForwardedChat(ctx, messageID, toChatID)
	if err != nil {
		return Message{}, err
	}
	if err := s.chats.AttachMessage(ctx, toChatID, messageID); err != nil {
		return Message{}, fmt.Errorf("attach forwarded message to chat %d: %w", toChatID, err)
	}

	s.log.Info("message.forwarded", "message_id", messageID, "chat_id", toChatID, "user_id", byUserID)
	s.fanout(ctx, target.Members, msg, s.notifier.NotifyNewMessage)
	return msg, nil
}

// Message returns a message by id.
func (s *Service) Message(ctx context.Context, id int64) (Message, error) {
	return s.store.Get(ctx, id)
}

// ChatMessages resolves a window of a chat's story for one viewer, newest
// first, with that viewer's hide tombstones subtracted. Membership failures
// use the same not-found mapping as Hide.
func (s *Service) ChatMessages(ctx context.Context, chatID, viewerID int64, offset, limit int) ([]Message, error) {
	c, err := s.chats.Chat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !c.HasMember(viewerID) {
		return nil, directory.ErrUserNotFound
	}

	ids, err := s.chats.StoryWindow(ctx, chatID, offset, limit)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	hidden, err := s.store.HiddenFor(ctx, chatID, viewerID)
	if err != nil {
		return nil, err
	}
	if len(hidden) == 0 {
		return msgs, nil
	}

	out := msgs[:0]
	for _, m := range msgs {
		if _, ok := hidden[m.ID]; ok {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// OwnerMessages lists messages authored by a user. The user must resolve in
// the directory.
func (s *Service) OwnerMessages(ctx context.Context, ownerID int64, offset, limit int) ([]Message, error) {
	if _, err := s.dir.ResolveUser(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.store.ListForOwner(ctx, ownerID, offset, limit)
}

// fanout notifies each recipient independently and off the critical path.
// Delivery is fire-and-forget: there is no handle, no retry, and no ordering
// guarantee across recipients. Only a failed recipient lookup is logged as a
// defect.
func (s *Service) fanout(ctx context.Context, members []int64, msg Message, deliver func(context.Context, int64, Message) error) {
	detached := context.WithoutCancel(ctx)
	for _, userID := range members {
		go func(userID int64) {
			if err := deliver(detached, userID, msg); err != nil {
				s.log.Error("message.fanout.fail", "user_id", userID, "message_id", msg.ID, "err", err)
			}
		}(userID)
	}
}
