package scyllastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/model"
)

const messageColumns = `chat_id, id, sender_id, content, liked_by, created_at`

type messageRepository struct {
	s *Store
}

func (r *messageRepository) Create(ctx context.Context, msg *model.Message) error {
	var chatID string
	if err := r.s.session.Query(`SELECT id FROM chats WHERE id = ?`, msg.ChatID).WithContext(ctx).Scan(&chatID); err != nil {
		return notFound(err)
	}

	err := r.s.session.Query(
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.ID, msg.SenderID, msg.Content, msg.LikedBy, msg.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	err = r.s.session.Query(`INSERT INTO messages_by_id (id, chat_id) VALUES (?, ?)`, msg.ID, msg.ChatID).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("index message: %w", err)
	}
	return nil
}

func (r *messageRepository) chatOf(ctx context.Context, id int64) (string, error) {
	var chatID string
	err := r.s.session.Query(`SELECT chat_id FROM messages_by_id WHERE id = ?`, id).WithContext(ctx).Scan(&chatID)
	if err != nil {
		return "", notFound(err)
	}
	return chatID, nil
}

func (r *messageRepository) FindByID(ctx context.Context, id int64) (*model.Message, error) {
	chatID, err := r.chatOf(ctx, id)
	if err != nil {
		return nil, err
	}
	var m model.Message
	err = r.s.session.Query(`SELECT `+messageColumns+` FROM messages WHERE chat_id = ? AND id = ?`, chatID, id).
		WithContext(ctx).Scan(&m.ChatID, &m.ID, &m.SenderID, &m.Content, &m.LikedBy, &m.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// FindMany skips ids that do not exist.
func (r *messageRepository) FindMany(ctx context.Context, ids []int64) ([]model.Message, error) {
	msgs := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := r.FindByID(ctx, id)
		if errors.Is(err, common.ErrorNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, nil
}

func (r *messageRepository) ListByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	iter := r.s.session.Query(`SELECT `+messageColumns+` FROM messages WHERE chat_id = ?`, chatID).WithContext(ctx).Iter()
	var msgs []model.Message
	for {
		var m model.Message
		if !iter.Scan(&m.ChatID, &m.ID, &m.SenderID, &m.Content, &m.LikedBy, &m.CreatedAt) {
			break
		}
		msgs = append(msgs, m)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Like appends to the list column, so a repeated like is recorded twice.
func (r *messageRepository) Like(ctx context.Context, id int64, userID string) (*model.Message, error) {
	chatID, err := r.chatOf(ctx, id)
	if err != nil {
		return nil, err
	}
	err = r.s.session.Query(`UPDATE messages SET liked_by = liked_by + ? WHERE chat_id = ? AND id = ?`,
		[]string{userID}, chatID, id).WithContext(ctx).Exec()
	if err != nil {
		return nil, fmt.Errorf("like message: %w", err)
	}
	return r.FindByID(ctx, id)
}
