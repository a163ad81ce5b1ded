// Package scyllastore is the ScyllaDB/Cassandra store backend. Uniqueness
// (emails, individual chat pairs) and membership changes use lightweight
// transactions so concurrent requests cannot race.
package scyllastore

import (
	"errors"
	"log/slog"

	"github.com/gocql/gocql"
	"github.com/mahaj/chatwithme/pkg/common"
	"github.com/mahaj/chatwithme/pkg/db"
	"github.com/mahaj/chatwithme/pkg/store"
)

const maxCASRetries = 10

type Store struct {
	session *db.Session
	log     *slog.Logger
}

var _ store.Store = (*Store)(nil)

func New(session *db.Session, log *slog.Logger) *Store {
	return &Store{session: session, log: log}
}

func (s *Store) Users() store.Users { return &userRepository{s} }
func (s *Store) Chats() store.Chats { return &chatRepository{s} }
func (s *Store) Messages() store.Messages { return &messageRepository{s} }

func (s *Store) Close() error {
	s.session.Close()
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return common.ErrorNotFound
	}
	return err
}
