package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/model"
)

type messageRepository struct {
	s *Store
}

func messageKey(id int64) string { return "msg:" + strconv.FormatInt(id, 10) }

func chatMessagesPrefix(chatID string) string { return "chat-msg:" + chatID + ":" }

// Snowflake ids are time ordered; zero padding keeps key order equal to send order.
func chatMessageKey(chatID string, id int64) string {
	return fmt.Sprintf("%s%020d", chatMessagesPrefix(chatID), id)
}

func (r *messageRepository) Create(_ context.Context, msg *model.Message) error {
	return r.s.update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(chatKey(msg.ChatID))); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return common.ErrorNotFound
			}
			return err
		}
		if err := txn.Set([]byte(chatMessageKey(msg.ChatID, msg.ID)), []byte{}); err != nil {
			return err
		}
		return setJSON(txn, messageKey(msg.ID), msg)
	})
}

func (r *messageRepository) FindByID(_ context.Context, id int64) (*model.Message, error) {
	var msg model.Message
	err := r.s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, messageKey(id), &msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// FindMany skips ids that do not exist.
func (r *messageRepository) FindMany(_ context.Context, ids []int64) ([]model.Message, error) {
	msgs := make([]model.Message, 0, len(ids))
	err := r.s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			var msg model.Message
			err := getJSON(txn, messageKey(id), &msg)
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	return msgs, err
}

func (r *messageRepository) ListByChat(_ context.Context, chatID string) ([]model.Message, error) {
	var msgs []model.Message
	err := r.s.db.View(func(txn *badger.Txn) error {
		prefix := chatMessagesPrefix(chatID)
		for _, key := range keysWithPrefix(txn, prefix) {
			id, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
			if err != nil {
				return fmt.Errorf("corrupt message index %q: %w", key, err)
			}
			var msg model.Message
			if err := getJSON(txn, messageKey(id), &msg); err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	return msgs, err
}

func (r *messageRepository) Like(_ context.Context, id int64, userID string) (*model.Message, error) {
	var msg model.Message
	err := r.s.update(func(txn *badger.Txn) error {
		msg = model.Message{}
		if err := getJSON(txn, messageKey(id), &msg); err != nil {
			return err
		}
		msg.LikedBy = append(msg.LikedBy, userID)
		return setJSON(txn, messageKey(id), &msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
