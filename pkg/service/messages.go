package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/model"
)

// ListMessages returns the history of a chat the caller belongs to, oldest first.
func (s *ChatService) ListMessages(ctx context.Context, caller model.Identity, chatID string) ([]model.MessageDetail, error) {
	chat, err := s.memberChat(ctx, caller, chatID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", chatID, err)
	}
	detail, err := s.detailChat(ctx, chat)
	if err != nil {
		return nil, err
	}
	return s.detailMessages(ctx, detail, msgs)
}

// SendMessage persists the message, moves the chat's latest message and then
// publishes it to the chat's current members. Publishing is best effort: a
// failure is logged and the send still succeeds.
func (s *ChatService) SendMessage(ctx context.Context, caller model.Identity, chatID, content string) (model.MessageDetail, error) {
	if strings.TrimSpace(content) == "" {
		return model.MessageDetail{}, common.ErrorMissingField
	}
	if _, err := s.memberChat(ctx, caller, chatID); err != nil {
		return model.MessageDetail{}, err
	}

	msg := &model.Message{
		ID:        s.ids.Generate(),
		ChatID:    chatID,
		SenderID:  caller.ID,
		Content:   content,
		LikedBy:   []string{},
		CreatedAt: s.now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return model.MessageDetail{}, fmt.Errorf("create message: %w", err)
	}
	if err := s.chats.SetLatestMessage(ctx, chatID, msg); err != nil {
		return model.MessageDetail{}, fmt.Errorf("set latest message of %s: %w", chatID, err)
	}

	// reload so the event carries the members as of now
	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		return model.MessageDetail{}, fmt.Errorf("reload chat %s: %w", chatID, err)
	}
	detail, err := s.detailChat(ctx, chat)
	if err != nil {
		return model.MessageDetail{}, err
	}
	details, err := s.detailMessages(ctx, detail, []model.Message{*msg})
	if err != nil {
		return model.MessageDetail{}, err
	}
	sent := details[0]

	if err := s.publisher.Publish(ctx, model.MessageEvent{Message: sent}); err != nil {
		s.log.Warn("Failed to publish message", "message_id", msg.ID, "chat_id", chatID, "error", err)
	}
	return sent, nil
}

// LikeMessage appends the caller to the message's likers. Only current
// members of the message's chat may like it. Liking twice is recorded twice.
func (s *ChatService) LikeMessage(ctx context.Context, caller model.Identity, messageID int64) (model.MessageDetail, error) {
	found, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return model.MessageDetail{}, fmt.Errorf("find message %d: %w", messageID, err)
	}
	chat, err := s.memberChat(ctx, caller, found.ChatID)
	if err != nil {
		return model.MessageDetail{}, err
	}
	msg, err := s.messages.Like(ctx, messageID, caller.ID)
	if err != nil {
		return model.MessageDetail{}, fmt.Errorf("like message %d: %w", messageID, err)
	}
	detail, err := s.detailChat(ctx, chat)
	if err != nil {
		return model.MessageDetail{}, err
	}
	details, err := s.detailMessages(ctx, detail, []model.Message{*msg})
	if err != nil {
		return model.MessageDetail{}, err
	}
	return details[0], nil
}
