// Package service holds the chat business rules shared by the HTTP API and
// the push channel: who may see, change and post to which conversation.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mahaj/chatwithme/pkg/auth"
	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/fanout"
	"github.com/mahaj/chatwithme/pkg/presence"
	"github.com/mahaj/chatwithme/pkg/store"
)

// IDGenerator hands out time-ordered message ids.
type IDGenerator interface {
	Generate() int64
}

type Deps struct {
	Store     store.Store
	Hasher    auth.Hasher
	Tokens    *auth.TokenService
	Publisher fanout.Publisher
	IDs       IDGenerator
	Presence  presence.Tracker
	Log       *slog.Logger
	Now       func() time.Time
}

type ChatService struct {
	users     store.Users
	chats     store.Chats
	messages  store.Messages
	hasher    auth.Hasher
	tokens    *auth.TokenService
	publisher fanout.Publisher
	ids       IDGenerator
	presence  presence.Tracker
	log       *slog.Logger
	now       func() time.Time
}

func New(d Deps) *ChatService {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	tracker := d.Presence
	if tracker == nil {
		tracker = presence.Nop{}
	}
	return &ChatService{
		users:     d.Store.Users(),
		chats:     d.Store.Chats(),
		messages:  d.Store.Messages(),
		hasher:    d.Hasher,
		tokens:    d.Tokens,
		publisher: d.Publisher,
		ids:       d.IDs,
		presence:  tracker,
		log:       d.Log,
		now:       func() time.Time { return now().UTC() },
	}
}

// IsMember lets the push channel admit only members into a conversation room.
func (s *ChatService) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	chat, err := s.chats.FindByID(ctx, chatID)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return chat.HasMember(userID), nil
}
