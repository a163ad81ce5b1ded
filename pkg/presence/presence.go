// Package presence records which users hold at least one open push channel
// on any replica.
package presence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const onlineKey = "presence:online"

// release decrements a user's replica count and removes the field once no
// replica holds a connection for them.
var release = redis.NewScript(`
local n = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call("HDEL", KEYS[1], ARGV[1])
end
return n
`)

// Tracker is shared by every replica. Each replica calls Online when its
// first connection for a user is set up and Offline when its last one goes
// away; a user stays online while any replica still counts them.
type Tracker interface {
	Online(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string) error
	// Filter returns the subset of ids that are online, in input order.
	Filter(ctx context.Context, ids []string) ([]string, error)
}

type Redis struct {
	rdb *redis.Client
	key string
	log *slog.Logger
}

func NewRedis(addr string, log *slog.Logger) *Redis {
	return &Redis{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		key: onlineKey,
		log: log,
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Online(ctx context.Context, userID string) error {
	if err := r.rdb.HIncrBy(ctx, r.key, userID, 1).Err(); err != nil {
		return fmt.Errorf("set presence for %s: %w", userID, err)
	}
	return nil
}

func (r *Redis) Offline(ctx context.Context, userID string) error {
	if err := release.Run(ctx, r.rdb, []string{r.key}, userID).Err(); err != nil {
		return fmt.Errorf("delete presence for %s: %w", userID, err)
	}
	return nil
}

func (r *Redis) Filter(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	counts, err := r.rdb.HMGet(ctx, r.key, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch presence: %w", err)
	}
	online := make([]string, 0, len(ids))
	for i, count := range counts {
		if count != nil {
			online = append(online, ids[i])
		}
	}
	return online, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Nop tracks nothing and reports nobody online; used when no redis is configured.
type Nop struct{}

func (Nop) Online(context.Context, string) error { return nil }
func (Nop) Offline(context.Context, string) error { return nil }
func (Nop) Filter(context.Context, []string) ([]string, error) { return nil, nil }
