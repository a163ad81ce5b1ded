package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mahaj/chatwithme/pkg/auth"
	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/model"
	"github.com/samber/lo"
)

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	IsAdmin  bool
}

type UpdateUserInput struct {
	Name     *string
	Email    *string
	Password *string
	IsAdmin  *bool
}

// Login never says whether the email or the password was wrong.
func (s *ChatService) Login(ctx context.Context, email, password string) (model.Identity, auth.Credential, error) {
	user, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, common.ErrorNotFound) {
		return model.Identity{}, "", common.ErrorAuthorizationFailed
	}
	if err != nil {
		return model.Identity{}, "", fmt.Errorf("find user: %w", err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return model.Identity{}, "", common.ErrorAuthorizationFailed
	}

	identity := user.Identity()
	cred, err := s.tokens.Issue(identity)
	if err != nil {
		return model.Identity{}, "", fmt.Errorf("issue credential: %w", err)
	}
	return identity, cred, nil
}

func (s *ChatService) Register(ctx context.Context, caller model.Identity, in RegisterInput) (model.Identity, error) {
	if !caller.IsAdmin {
		return model.Identity{}, common.ErrorNoPermission
	}
	user, err := s.createUser(ctx, in)
	if err != nil {
		return model.Identity{}, err
	}
	s.log.Info("User registered", "user_id", user.ID, "by", caller.ID)
	return user.Identity(), nil
}

func (s *ChatService) createUser(ctx context.Context, in RegisterInput) (*model.User, error) {
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	user := &model.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		IsAdmin:      in.IsAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *ChatService) UpdateUser(ctx context.Context, caller model.Identity, id string, in UpdateUserInput) (model.Identity, error) {
	if !caller.IsAdmin {
		return model.Identity{}, common.ErrorNoPermission
	}
	patch := model.UserPatch{Name: in.Name, Email: in.Email, IsAdmin: in.IsAdmin}
	if in.Password != nil {
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return model.Identity{}, fmt.Errorf("hash password: %w", err)
		}
		patch.PasswordHash = &hash
	}
	user, err := s.users.Update(ctx, id, patch)
	if err != nil {
		return model.Identity{}, fmt.Errorf("update user %s: %w", id, err)
	}
	return user.Identity(), nil
}

func (s *ChatService) SearchUsers(ctx context.Context, caller model.Identity, keyword string) ([]model.Profile, error) {
	users, err := s.users.Search(ctx, keyword, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return lo.Map(users, func(u model.User, _ int) model.Profile { return u.Profile() }), nil
}

// BootstrapAdmin creates the configured admin unless the email is taken.
func (s *ChatService) BootstrapAdmin(ctx context.Context, name, email, password string) error {
	_, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return fmt.Errorf("find admin: %w", err)
	}
	user, err := s.createUser(ctx, RegisterInput{Name: name, Email: email, Password: password, IsAdmin: true})
	if errors.Is(err, common.ErrorConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Info("Bootstrap admin created", "user_id", user.ID, "email", user.Email)
	return nil
}
