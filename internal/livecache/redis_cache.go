package livecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// RedisCache backs the display snapshot with Redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func key(storeID uuid.UUID) string {
	return "display:" + storeID.String()
}

func (c *RedisCache) Get(ctx context.Context, storeID uuid.UUID) (*Snapshot, bool, error) {
	val, err := c.client.Get(ctx, key(storeID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

func (c *RedisCache) Set(ctx context.Context, storeID uuid.UUID, snap *Snapshot, ttl time.Duration) error {
	if snap == nil {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(storeID), payload, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, storeID uuid.UUID) error {
	return c.client.Del(ctx, key(storeID)).Err()
}
