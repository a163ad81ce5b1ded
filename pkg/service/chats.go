package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/samber/lo"
)

// minGroupInvitees is how many users besides the creator a new group needs.
const minGroupInvitees = 2

// AccessChat returns the individual chat between caller and otherID, creating
// it on first access.
func (s *ChatService) AccessChat(ctx context.Context, caller model.Identity, otherID string) (model.ChatDetail, error) {
	if otherID == caller.ID {
		return model.ChatDetail{}, common.ErrorRequirementNotMet
	}
	if _, err := s.users.FindByID(ctx, otherID); err != nil {
		return model.ChatDetail{}, fmt.Errorf("find user %s: %w", otherID, err)
	}

	now := s.now()
	chat, created, err := s.chats.CreateIndividual(ctx, &model.Chat{
		ID:        uuid.NewString(),
		Name:      model.IndividualChatName,
		Users:     []string{caller.ID, otherID},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return model.ChatDetail{}, fmt.Errorf("access chat: %w", err)
	}
	if created {
		s.log.Info("Individual chat created", "chat_id", chat.ID, "users", chat.Users)
	}
	return s.detailChat(ctx, chat)
}

func (s *ChatService) FetchChats(ctx context.Context, caller model.Identity) ([]model.ChatDetail, error) {
	chats, err := s.chats.ListForUser(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return s.detailChats(ctx, chats)
}

// CreateGroup needs at least two invitees besides the caller, who becomes the
// group admin and its last member.
func (s *ChatService) CreateGroup(ctx context.Context, caller model.Identity, name string, userIDs []string) (model.ChatDetail, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.ChatDetail{}, common.ErrorMissingField
	}
	invitees := lo.Without(lo.Uniq(userIDs), caller.ID, "")
	if len(invitees) < minGroupInvitees {
		return model.ChatDetail{}, common.ErrorRequirementNotMet
	}
	found, err := s.users.FindMany(ctx, invitees)
	if err != nil {
		return model.ChatDetail{}, fmt.Errorf("find invitees: %w", err)
	}
	if len(found) != len(invitees) {
		return model.ChatDetail{}, common.ErrorNotFound
	}

	now := s.now()
	chat := &model.Chat{
		ID:        uuid.NewString(),
		Name:      name,
		IsGroup:   true,
		Users:     append(invitees, caller.ID),
		AdminID:   caller.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.chats.CreateGroup(ctx, chat); err != nil {
		return model.ChatDetail{}, fmt.Errorf("create group: %w", err)
	}
	s.log.Info("Group chat created", "chat_id", chat.ID, "admin", caller.ID, "members", len(chat.Users))
	return s.detailChat(ctx, chat)
}

// group loads a group chat; individual chats are reported as not found.
func (s *ChatService) group(ctx context.Context, chatID string) (*model.Chat, error) {
	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("find chat %s: %w", chatID, err)
	}
	if !chat.IsGroup {
		return nil, common.ErrorNotFound
	}
	return chat, nil
}

// RenameGroup is open to any member.
func (s *ChatService) RenameGroup(ctx context.Context, caller model.Identity, chatID, name string) (model.ChatDetail, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.ChatDetail{}, common.ErrorMissingField
	}
	chat, err := s.group(ctx, chatID)
	if err != nil {
		return model.ChatDetail{}, err
	}
	if !chat.HasMember(caller.ID) {
		return model.ChatDetail{}, common.ErrorNoPermission
	}
	chat, err = s.chats.Rename(ctx, chatID, name)
	if err != nil {
		return model.ChatDetail{}, fmt.Errorf("rename chat %s: %w", chatID, err)
	}
	return s.detailChat(ctx, chat)
}

// AddToGroup is reserved to the group admin. Adding a member twice is a no-op.
func (s *ChatService) AddToGroup(ctx context.Context, caller model.Identity, chatID, userID string) (model.ChatDetail, error) {
	chat, err := s.group(ctx, chatID)
	if err != nil {
		return model.ChatDetail{}, err
	}
	if chat.AdminID != caller.ID {
		return model.ChatDetail{}, common.ErrorNoPermission
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return model.ChatDetail{}, fmt.Errorf("find user %s: %w", userID, err)
	}
	chat, err = s.chats.AddMember(ctx, chatID, userID)
	if err != nil {
		return model.ChatDetail{}, fmt.Errorf("add member to %s: %w", chatID, err)
	}
	s.log.Info("Member added", "chat_id", chatID, "user_id", userID, "by", caller.ID)
	return s.detailChat(ctx, chat)
}

// RemoveFromGroup is allowed to the group admin, or to a member removing
// themselves. Removing a non-member is a no-op. The removed user gets no
// further pushes for this chat.
func (s *ChatService) RemoveFromGroup(ctx context.Context, caller model.Identity, chatID, userID string) (model.ChatDetail, error) {
	chat, err := s.group(ctx, chatID)
	if err != nil {
		return model.ChatDetail{}, err
	}
	if chat.AdminID != caller.ID && userID != caller.ID {
		return model.ChatDetail{}, common.ErrorNoPermission
	}
	chat, err = s.chats.RemoveMember(ctx, chatID, userID)
	if err != nil {
		return model.ChatDetail{}, fmt.Errorf("remove member from %s: %w", chatID, err)
	}
	s.log.Info("Member removed", "chat_id", chatID, "user_id", userID, "by", caller.ID)
	return s.detailChat(ctx, chat)
}

// OnlineMembers lists the members of a chat that hold an open push channel.
func (s *ChatService) OnlineMembers(ctx context.Context, caller model.Identity, chatID string) ([]model.Profile, error) {
	chat, err := s.memberChat(ctx, caller, chatID)
	if err != nil {
		return nil, err
	}
	online, err := s.presence.Filter(ctx, chat.Users)
	if err != nil {
		return nil, fmt.Errorf("presence of %s: %w", chatID, err)
	}
	profiles, err := s.profiles(ctx, online)
	if err != nil {
		return nil, err
	}
	return pick(profiles, online), nil
}

// memberChat loads a chat the caller belongs to.
func (s *ChatService) memberChat(ctx context.Context, caller model.Identity, chatID string) (*model.Chat, error) {
	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("find chat %s: %w", chatID, err)
	}
	if !chat.HasMember(caller.ID) {
		return nil, common.ErrorNoPermission
	}
	return chat, nil
}
