package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const (
	connCountKeyPrefix = "presence:connections:"
	onlineSetKey       = "presence:online"
)

// RedisCounter shares connection counts across processes so presence stays
// consistent when the server scales horizontally. Keys carry a TTL so a
// crashed process can't pin a user online forever.
type RedisCounter struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRedisCounter(client *goredis.Client, ttl time.Duration) *RedisCounter {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCounter{client: client, ttl: ttl}
}

func (c *RedisCounter) Increment(ctx context.Context, userID uuid.UUID) (int64, error) {
	key := connCountKeyPrefix + userID.String()
	pipe := c.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, c.ttl)
	pipe.SAdd(ctx, onlineSetKey, userID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCounter) Decrement(ctx context.Context, userID uuid.UUID) (int64, error) {
	key := connCountKeyPrefix + userID.String()
	count, err := c.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		pipe := c.client.Pipeline()
		pipe.Del(ctx, key)
		pipe.SRem(ctx, onlineSetKey, userID.String())
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return count, nil
}

func (c *RedisCounter) Get(ctx context.Context, userID uuid.UUID) (int64, error) {
	key := connCountKeyPrefix + userID.String()
	count, err := c.client.Get(ctx, key).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (c *RedisCounter) Online(ctx context.Context) ([]uuid.UUID, error) {
	members, err := c.client.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, err
	}
	users := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		users = append(users, id)
	}
	return users, nil
}
