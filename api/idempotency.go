package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper remembers Idempotency-Key values per board in Redis, shared
// by every API instance. Keys expire after ttl.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func dedupeKey(boardID, key string) string {
	return "idem:" + boardID + ":" + key
}

// Add claims key for boardID. It returns false when the key was already
// claimed.
func (r *RedisDeduper) Add(ctx context.Context, boardID, key string) (bool, error) {
	return r.client.SetNX(ctx, dedupeKey(boardID, key), time.Now().UnixMilli(), r.ttl).Result()
}

// Remove releases key so a failed write can be retried with it.
func (r *RedisDeduper) Remove(ctx context.Context, boardID, key string) error {
	return r.client.Del(ctx, dedupeKey(boardID, key)).Err()
}
