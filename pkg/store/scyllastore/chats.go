package scyllastore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/mahaj/chatwithme/pkg/store"
	"github.com/samber/lo"
)

const chatColumns = `id, name, is_group, users, admin_id, latest_message_id, created_at, updated_at`

type chatRepository struct {
	s *Store
}

// CreateIndividual writes the chat row before reserving the pair, so a pair
// always points at a stored chat. The loser of a race deletes its row and
// returns the winner's chat.
func (r *chatRepository) CreateIndividual(ctx context.Context, chat *model.Chat) (*model.Chat, bool, error) {
	if len(chat.Users) != 2 {
		return nil, false, fmt.Errorf("individual chat needs two members, got %d", len(chat.Users))
	}
	if err := r.insertRow(ctx, chat); err != nil {
		return nil, false, err
	}

	existing := map[string]interface{}{}
	applied, err := r.s.session.Query(
		`INSERT INTO chat_pairs (pair, chat_id) VALUES (?, ?) IF NOT EXISTS`,
		store.PairKey(chat.Users[0], chat.Users[1]), chat.ID,
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		// the reservation may still have been applied, so the row is kept
		return nil, false, fmt.Errorf("reserve chat pair: %w", err)
	}
	if !applied {
		r.discard(ctx, chat.ID)
		id, _ := existing["chat_id"].(string)
		stored, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("find reserved chat %s: %w", id, err)
		}
		// heals an index the winner did not finish writing
		if err := r.reindex(ctx, stored.ID, stored.Users, nil); err != nil {
			return nil, false, err
		}
		return stored, false, nil
	}

	if err := r.reindex(ctx, chat.ID, chat.Users, nil); err != nil {
		return nil, false, err
	}
	return chat, true, nil
}

// discard removes a chat row that lost the pair reservation. A failure only
// leaves an unreferenced row behind.
func (r *chatRepository) discard(ctx context.Context, id string) {
	if err := r.s.session.Query(`DELETE FROM chats WHERE id = ?`, id).WithContext(ctx).Exec(); err != nil {
		r.s.log.Warn("Failed to delete unreserved chat", "chat_id", id, "error", err)
	}
}

func (r *chatRepository) CreateGroup(ctx context.Context, chat *model.Chat) error {
	if err := r.insertRow(ctx, chat); err != nil {
		return err
	}
	return r.reindex(ctx, chat.ID, chat.Users, nil)
}

func (r *chatRepository) insertRow(ctx context.Context, chat *model.Chat) error {
	err := r.s.session.Query(
		`INSERT INTO chats (`+chatColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.Name, chat.IsGroup, chat.Users, chat.AdminID, chat.LatestMessageID, chat.CreatedAt, chat.UpdatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// reindex brings chats_by_user in line with a membership change.
func (r *chatRepository) reindex(ctx context.Context, chatID string, current, previous []string) error {
	added, removed := lo.Difference(current, previous)
	for _, userID := range added {
		if err := r.s.session.Query(`INSERT INTO chats_by_user (user_id, chat_id) VALUES (?, ?)`, userID, chatID).
			WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("index member: %w", err)
		}
	}
	for _, userID := range removed {
		if err := r.s.session.Query(`DELETE FROM chats_by_user WHERE user_id = ? AND chat_id = ?`, userID, chatID).
			WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("unindex member: %w", err)
		}
	}
	return nil
}

func (r *chatRepository) FindByID(ctx context.Context, id string) (*model.Chat, error) {
	var c model.Chat
	err := r.s.session.Query(`SELECT `+chatColumns+` FROM chats WHERE id = ?`, id).WithContext(ctx).
		Scan(&c.ID, &c.Name, &c.IsGroup, &c.Users, &c.AdminID, &c.LatestMessageID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (r *chatRepository) ListForUser(ctx context.Context, userID string) ([]model.Chat, error) {
	iter := r.s.session.Query(`SELECT chat_id FROM chats_by_user WHERE user_id = ?`, userID).WithContext(ctx).Iter()
	var ids []string
	var id string
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	chats := make([]model.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := r.FindByID(ctx, id)
		if errors.Is(err, common.ErrorNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		chats = append(chats, *chat)
	}
	sort.SliceStable(chats, func(i, j int) bool { return chats[i].UpdatedAt.After(chats[j].UpdatedAt) })
	return chats, nil
}

func (r *chatRepository) Rename(ctx context.Context, id, name string) (*model.Chat, error) {
	chat, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	chat.Name = name
	chat.UpdatedAt = time.Now().UTC()
	err = r.s.session.Query(`UPDATE chats SET name = ?, updated_at = ? WHERE id = ? IF EXISTS`, chat.Name, chat.UpdatedAt, id).
		WithContext(ctx).Exec()
	if err != nil {
		return nil, fmt.Errorf("rename chat: %w", err)
	}
	return chat, nil
}

// AddMember is a no-op for an existing member.
func (r *chatRepository) AddMember(ctx context.Context, id, userID string) (*model.Chat, error) {
	return r.swapUsers(ctx, id, func(users []string) []string {
		if lo.Contains(users, userID) {
			return users
		}
		return append(users, userID)
	})
}

func (r *chatRepository) RemoveMember(ctx context.Context, id, userID string) (*model.Chat, error) {
	return r.swapUsers(ctx, id, func(users []string) []string {
		return lo.Without(users, userID)
	})
}

// swapUsers compares-and-sets the member list so concurrent adds and removes
// on the same chat never lose each other's update.
func (r *chatRepository) swapUsers(ctx context.Context, id string, fn func([]string) []string) (*model.Chat, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		chat, err := r.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		previous := append([]string(nil), chat.Users...)
		chat.Users = fn(append([]string(nil), previous...))
		chat.UpdatedAt = time.Now().UTC()

		applied, err := r.s.session.Query(
			`UPDATE chats SET users = ?, updated_at = ? WHERE id = ? IF users = ?`,
			chat.Users, chat.UpdatedAt, id, previous,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return nil, fmt.Errorf("update members: %w", err)
		}
		if !applied {
			r.s.log.Debug("Member list changed concurrently, retrying", "chat_id", id, "attempt", attempt+1)
			continue
		}
		if err := r.reindex(ctx, id, chat.Users, previous); err != nil {
			return nil, err
		}
		return chat, nil
	}
	return nil, fmt.Errorf("update members of chat %s: too much contention", id)
}

func (r *chatRepository) SetLatestMessage(ctx context.Context, id string, msg *model.Message) error {
	err := r.s.session.Query(`UPDATE chats SET latest_message_id = ?, updated_at = ? WHERE id = ? IF EXISTS`,
		msg.ID, msg.CreatedAt, id).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("set latest message: %w", err)
	}
	return nil
}
