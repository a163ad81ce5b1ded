package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/mahaj/chatwithme/pkg/store"
	"github.com/samber/lo"
)

type chatRepository struct {
	s *Store
}

func chatKey(id string) string { return "chat:" + id }

func chatPairKey(a, b string) string { return "chat-pair:" + store.PairKey(a, b) }

func memberPrefix(userID string) string { return "member:" + userID + ":" }

func memberKey(userID, chatID string) string { return memberPrefix(userID) + chatID }

func (r *chatRepository) CreateIndividual(_ context.Context, chat *model.Chat) (*model.Chat, bool, error) {
	if len(chat.Users) != 2 {
		return nil, false, fmt.Errorf("individual chat needs two members, got %d", len(chat.Users))
	}

	var (
		stored  model.Chat
		created bool
	)
	err := r.s.update(func(txn *badger.Txn) error {
		pair := chatPairKey(chat.Users[0], chat.Users[1])
		id, err := getString(txn, pair)
		if err == nil {
			created = false
			return getJSON(txn, chatKey(id), &stored)
		}
		if !errors.Is(err, common.ErrorNotFound) {
			return err
		}

		if err := txn.Set([]byte(pair), []byte(chat.ID)); err != nil {
			return err
		}
		if err := r.put(txn, chat, nil); err != nil {
			return err
		}
		stored, created = *chat, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

func (r *chatRepository) CreateGroup(_ context.Context, chat *model.Chat) error {
	return r.s.update(func(txn *badger.Txn) error {
		return r.put(txn, chat, nil)
	})
}

// put writes chat and reconciles the member index against the previous member list.
func (r *chatRepository) put(txn *badger.Txn, chat *model.Chat, previous []string) error {
	added, removed := lo.Difference(chat.Users, previous)
	for _, userID := range added {
		if err := txn.Set([]byte(memberKey(userID, chat.ID)), []byte{}); err != nil {
			return err
		}
	}
	for _, userID := range removed {
		if err := txn.Delete([]byte(memberKey(userID, chat.ID))); err != nil {
			return err
		}
	}
	return setJSON(txn, chatKey(chat.ID), chat)
}

func (r *chatRepository) FindByID(_ context.Context, id string) (*model.Chat, error) {
	var chat model.Chat
	err := r.s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, chatKey(id), &chat)
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (r *chatRepository) ListForUser(_ context.Context, userID string) ([]model.Chat, error) {
	var chats []model.Chat
	err := r.s.db.View(func(txn *badger.Txn) error {
		prefix := memberPrefix(userID)
		for _, key := range keysWithPrefix(txn, prefix) {
			var chat model.Chat
			if err := getJSON(txn, chatKey(strings.TrimPrefix(key, prefix)), &chat); err != nil {
				return err
			}
			chats = append(chats, chat)
		}
		return nil
	})
	sort.SliceStable(chats, func(i, j int) bool { return chats[i].UpdatedAt.After(chats[j].UpdatedAt) })
	return chats, err
}

func (r *chatRepository) Rename(_ context.Context, id, name string) (*model.Chat, error) {
	return r.mutate(id, func(chat *model.Chat) {
		chat.Name = name
	})
}

// AddMember is a no-op for an existing member.
func (r *chatRepository) AddMember(_ context.Context, id, userID string) (*model.Chat, error) {
	return r.mutate(id, func(chat *model.Chat) {
		if !chat.HasMember(userID) {
			chat.Users = append(chat.Users, userID)
		}
	})
}

func (r *chatRepository) RemoveMember(_ context.Context, id, userID string) (*model.Chat, error) {
	return r.mutate(id, func(chat *model.Chat) {
		chat.Users = lo.Without(chat.Users, userID)
	})
}

func (r *chatRepository) SetLatestMessage(_ context.Context, id string, msg *model.Message) error {
	_, err := r.mutate(id, func(chat *model.Chat) {
		chat.LatestMessageID = msg.ID
		chat.UpdatedAt = msg.CreatedAt
	})
	return err
}

func (r *chatRepository) mutate(id string, fn func(chat *model.Chat)) (*model.Chat, error) {
	var chat model.Chat
	err := r.s.update(func(txn *badger.Txn) error {
		chat = model.Chat{}
		if err := getJSON(txn, chatKey(id), &chat); err != nil {
			return err
		}
		previous := append([]string(nil), chat.Users...)
		chat.UpdatedAt = time.Now().UTC()
		fn(&chat)
		return r.put(txn, &chat, previous)
	})
	if err != nil {
		return nil, err
	}
	return &chat, nil
}
