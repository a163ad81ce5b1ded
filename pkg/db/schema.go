package db

import (
	"fmt"
	"log/slog"
	"regexp"
)

var keyspaceName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// Tables lists the CQL schema in creation order.
var Tables = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id text PRIMARY KEY,
		name text,
		email text,
		password_hash text,
		is_admin boolean,
		created_at timestamp,
		updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_email (
		email text PRIMARY KEY,
		id text
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id text PRIMARY KEY,
		name text,
		is_group boolean,
		users list<text>,
		admin_id text,
		latest_message_id bigint,
		created_at timestamp,
		updated_at timestamp
	)`,
	`CREATE TABLE IF NOT EXISTS chat_pairs (
		pair text PRIMARY KEY,
		chat_id text
	)`,
	`CREATE TABLE IF NOT EXISTS chats_by_user (
		user_id text,
		chat_id text,
		PRIMARY KEY (user_id, chat_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		chat_id text,
		id bigint,
		sender_id text,
		content text,
		liked_by list<text>,
		created_at timestamp,
		PRIMARY KEY (chat_id, id)
	) WITH CLUSTERING ORDER BY (id ASC)`,
	`CREATE TABLE IF NOT EXISTS messages_by_id (
		id bigint PRIMARY KEY,
		chat_id text
	)`,
}

// CreateKeyspace creates keyspace through a session bound to the system keyspace.
func CreateKeyspace(hosts []string, keyspace string, replication int, log *slog.Logger) error {
	if !keyspaceName.MatchString(keyspace) {
		return fmt.Errorf("invalid keyspace name %q", keyspace)
	}

	sysSession, err := NewSession(hosts, "system", log)
	if err != nil {
		return fmt.Errorf("connect to system keyspace: %w", err)
	}
	defer sysSession.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`, keyspace, replication)
	if err := sysSession.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

// Migrate creates every table that does not exist yet.
func Migrate(session *Session, log *slog.Logger) error {
	for _, stmt := range Tables {
		if err := session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	log.Info("Schema is up to date", "tables", len(Tables))
	return nil
}

// DropTables removes every table; used by the migrate tool's reset mode.
func DropTables(session *Session, log *slog.Logger) error {
	for _, table := range []string{"messages_by_id", "messages", "chats_by_user", "chat_pairs", "chats", "users_by_email", "users"} {
		log.Info("Dropping table", "table", table)
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			return fmt.Errorf("drop table %s: %w", table, err)
		}
	}
	return nil
}
