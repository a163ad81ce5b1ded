package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/model"
)

type userRepository struct {
	s *Store
}

func userKey(id string) string { return "user:" + id }

func emailKey(email string) string { return "user-email:" + strings.ToLower(email) }

func (r *userRepository) Create(_ context.Context, user *model.User) error {
	return r.s.update(func(txn *badger.Txn) error {
		taken, err := exists(txn, emailKey(user.Email))
		if err != nil {
			return err
		}
		if taken {
			return common.ErrorConflict
		}
		if err := txn.Set([]byte(emailKey(user.Email)), []byte(user.ID)); err != nil {
			return err
		}
		return setJSON(txn, userKey(user.ID), user)
	})
}

func (r *userRepository) FindByID(_ context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) FindByEmail(_ context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.s.db.View(func(txn *badger.Txn) error {
		id, err := getString(txn, emailKey(email))
		if err != nil {
			return err
		}
		return getJSON(txn, userKey(id), &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindMany skips ids that do not exist.
func (r *userRepository) FindMany(_ context.Context, ids []string) ([]model.User, error) {
	users := make([]model.User, 0, len(ids))
	err := r.s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			var user model.User
			err := getJSON(txn, userKey(id), &user)
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	return users, err
}

func (r *userRepository) Update(_ context.Context, id string, patch model.UserPatch) (*model.User, error) {
	var user model.User
	err := r.s.update(func(txn *badger.Txn) error {
		if err := getJSON(txn, userKey(id), &user); err != nil {
			return err
		}

		if patch.Email != nil && !strings.EqualFold(*patch.Email, user.Email) {
			taken, err := exists(txn, emailKey(*patch.Email))
			if err != nil {
				return err
			}
			if taken {
				return common.ErrorConflict
			}
			if err := txn.Delete([]byte(emailKey(user.Email))); err != nil {
				return err
			}
			if err := txn.Set([]byte(emailKey(*patch.Email)), []byte(user.ID)); err != nil {
				return err
			}
			user.Email = *patch.Email
		}
		if patch.Name != nil {
			user.Name = *patch.Name
		}
		if patch.PasswordHash != nil {
			user.PasswordHash = *patch.PasswordHash
		}
		if patch.IsAdmin != nil {
			user.IsAdmin = *patch.IsAdmin
		}
		user.UpdatedAt = time.Now().UTC()
		return setJSON(txn, userKey(id), &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Search(_ context.Context, keyword string, excludeID string) ([]model.User, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	var users []model.User
	err := r.s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("user:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var user model.User
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &user)
			}); err != nil {
				return err
			}
			if user.ID == excludeID {
				continue
			}
			if keyword == "" ||
				strings.Contains(strings.ToLower(user.Name), keyword) ||
				strings.Contains(strings.ToLower(user.Email), keyword) {
				users = append(users, user)
			}
		}
		return nil
	})
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, err
}
