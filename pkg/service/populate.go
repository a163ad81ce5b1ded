package service

import (
	"context"
	"fmt"

	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/samber/lo"
)

func (s *ChatService) profiles(ctx context.Context, ids []string) (map[string]model.Profile, error) {
	users, err := s.users.FindMany(ctx, lo.Uniq(ids))
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	return lo.SliceToMap(users, func(u model.User) (string, model.Profile) {
		return u.ID, u.Profile()
	}), nil
}

// pick resolves ids against profiles, dropping users that no longer exist.
func pick(profiles map[string]model.Profile, ids []string) []model.Profile {
	out := make([]model.Profile, 0, len(ids))
	for _, id := range ids {
		if p, ok := profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *ChatService) detailChats(ctx context.Context, chats []model.Chat) ([]model.ChatDetail, error) {
	latestIDs := lo.FilterMap(chats, func(c model.Chat, _ int) (int64, bool) {
		return c.LatestMessageID, c.LatestMessageID != 0
	})
	latest, err := s.messages.FindMany(ctx, latestIDs)
	if err != nil {
		return nil, fmt.Errorf("load latest messages: %w", err)
	}
	latestByID := lo.KeyBy(latest, func(m model.Message) int64 { return m.ID })

	var userIDs []string
	for _, c := range chats {
		userIDs = append(userIDs, c.Users...)
		if c.AdminID != "" {
			userIDs = append(userIDs, c.AdminID)
		}
	}
	for _, m := range latest {
		userIDs = append(userIDs, m.SenderID)
	}
	profiles, err := s.profiles(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	details := make([]model.ChatDetail, 0, len(chats))
	for _, c := range chats {
		d := model.ChatDetail{
			ID:        c.ID,
			Name:      c.Name,
			IsGroup:   c.IsGroup,
			Users:     pick(profiles, c.Users),
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
		}
		if admin, ok := profiles[c.AdminID]; ok {
			d.GroupAdmin = &admin
		}
		if m, ok := latestByID[c.LatestMessageID]; ok {
			d.LatestMessage = &model.LatestMessage{
				ID:        m.ID,
				Sender:    profiles[m.SenderID],
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			}
		}
		details = append(details, d)
	}
	return details, nil
}

func (s *ChatService) detailChat(ctx context.Context, chat *model.Chat) (model.ChatDetail, error) {
	details, err := s.detailChats(ctx, []model.Chat{*chat})
	if err != nil {
		return model.ChatDetail{}, err
	}
	return details[0], nil
}

func (s *ChatService) detailMessages(ctx context.Context, chat model.ChatDetail, msgs []model.Message) ([]model.MessageDetail, error) {
	var userIDs []string
	for _, m := range msgs {
		userIDs = append(userIDs, m.SenderID)
		userIDs = append(userIDs, m.LikedBy...)
	}
	profiles, err := s.profiles(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	return lo.Map(msgs, func(m model.Message, _ int) model.MessageDetail {
		sender, ok := profiles[m.SenderID]
		if !ok {
			sender = model.Profile{ID: m.SenderID}
		}
		return model.MessageDetail{
			ID:        m.ID,
			Sender:    sender,
			Content:   m.Content,
			Chat:      chat,
			LikedBy:   pick(profiles, m.LikedBy),
			CreatedAt: m.CreatedAt,
		}
	}), nil
}
