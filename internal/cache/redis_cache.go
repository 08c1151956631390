package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	ProviderMessageIDs []string  `json:"providerMessageIds"`
	SentAt             time.Time `json:"sentAt"`
}

func (c *RedisCache) StoreSent(ctx context.Context, scheduledID string, providerMessageIDs []string, sentAt time.Time) error {
	key := "sched:" + scheduledID
	val := sentValue{
		ProviderMessageIDs: providerMessageIDs,
		SentAt:             sentAt.UTC(),
	}

	b, err := json.Marshal(val)
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}
