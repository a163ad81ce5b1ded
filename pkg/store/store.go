// Package store defines the persistence collaborator: users, chats and
// messages keyed by opaque ids. Implementations live in badgerstore and
// scyllastore and must provide their own atomicity for membership updates.
package store

import (
	"context"

	"github.com/mahaj/chatwithme/pkg/model"
)

type Users interface {
	// Create fails with common.ErrorConflict when the email is taken.
	Create(ctx context.Context, user *model.User) error
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindMany(ctx context.Context, ids []string) ([]model.User, error)
	Update(ctx context.Context, id string, patch model.UserPatch) (*model.User, error)
	// Search matches name or email case-insensitively; an empty keyword matches everyone.
	Search(ctx context.Context, keyword string, excludeID string) ([]model.User, error)
}

type Chats interface {
	// CreateIndividual returns the existing individual chat between the two
	// members of chat.Users, or stores chat when there is none. created
	// reports which one happened.
	CreateIndividual(ctx context.Context, chat *model.Chat) (stored *model.Chat, created bool, err error)
	CreateGroup(ctx context.Context, chat *model.Chat) error
	FindByID(ctx context.Context, id string) (*model.Chat, error)
	// ListForUser returns chats the user belongs to, most recently updated first.
	ListForUser(ctx context.Context, userID string) ([]model.Chat, error)
	Rename(ctx context.Context, id, name string) (*model.Chat, error)
	AddMember(ctx context.Context, id, userID string) (*model.Chat, error)
	RemoveMember(ctx context.Context, id, userID string) (*model.Chat, error)
	SetLatestMessage(ctx context.Context, id string, msg *model.Message) error
}

type Messages interface {
	Create(ctx context.Context, msg *model.Message) error
	FindByID(ctx context.Context, id int64) (*model.Message, error)
	FindMany(ctx context.Context, ids []int64) ([]model.Message, error)
	// ListByChat returns the chat history oldest first.
	ListByChat(ctx context.Context, chatID string) ([]model.Message, error)
	// Like appends userID to LikedBy without deduplication.
	Like(ctx context.Context, id int64, userID string) (*model.Message, error)
}

// Store hands out the repositories of one backend.
type Store interface {
	Users() Users
	Chats() Chats
	Messages() Messages
	Close() error
}
