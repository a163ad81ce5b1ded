package scyllastore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/model"
)

const userColumns = `id, name, email, password_hash, is_admin, created_at, updated_at`

type userRepository struct {
	s *Store
}

func scanUser(row interface{ Scan(dest ...interface{}) error }) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	applied, err := r.s.session.Query(
		`INSERT INTO users_by_email (email, id) VALUES (?, ?) IF NOT EXISTS`,
		strings.ToLower(user.Email), user.ID,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("reserve email: %w", err)
	}
	if !applied {
		return common.ErrorConflict
	}

	err = r.s.session.Query(
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.IsAdmin, user.CreatedAt, user.UpdatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(r.s.session.Query(`SELECT `+userColumns+` FROM users WHERE id = ?`, id).WithContext(ctx))
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var id string
	err := r.s.session.Query(`SELECT id FROM users_by_email WHERE email = ?`, strings.ToLower(email)).
		WithContext(ctx).Scan(&id)
	if err != nil {
		return nil, notFound(err)
	}
	return r.FindByID(ctx, id)
}

func (r *userRepository) FindMany(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	iter := r.s.session.Query(`SELECT `+userColumns+` FROM users WHERE id IN ?`, ids).WithContext(ctx).Iter()
	byID := make(map[string]model.User, len(ids))
	for {
		var u model.User
		if !iter.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt) {
			break
		}
		byID[u.ID] = u
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}

	users := make([]model.User, 0, len(byID))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (r *userRepository) Update(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Email != nil && !strings.EqualFold(*patch.Email, user.Email) {
		applied, err := r.s.session.Query(
			`INSERT INTO users_by_email (email, id) VALUES (?, ?) IF NOT EXISTS`,
			strings.ToLower(*patch.Email), user.ID,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return nil, fmt.Errorf("reserve email: %w", err)
		}
		if !applied {
			return nil, common.ErrorConflict
		}
		if err := r.s.session.Query(`DELETE FROM users_by_email WHERE email = ?`, strings.ToLower(user.Email)).
			WithContext(ctx).Exec(); err != nil {
			return nil, fmt.Errorf("release email: %w", err)
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

	err = r.s.session.Query(
		`UPDATE users SET name = ?, email = ?, password_hash = ?, is_admin = ?, updated_at = ? WHERE id = ?`,
		user.Name, user.Email, user.PasswordHash, user.IsAdmin, user.UpdatedAt, user.ID,
	).WithContext(ctx).Exec()
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// Search scans the users table; fine for the deployment sizes this serves.
func (r *userRepository) Search(ctx context.Context, keyword string, excludeID string) ([]model.User, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	iter := r.s.session.Query(`SELECT ` + userColumns + ` FROM users`).WithContext(ctx).Iter()

	var users []model.User
	for {
		var u model.User
		if !iter.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt) {
			break
		}
		if u.ID == excludeID {
			continue
		}
		if keyword == "" ||
			strings.Contains(strings.ToLower(u.Name), keyword) ||
			strings.Contains(strings.ToLower(u.Email), keyword) {
			users = append(users, u)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}
