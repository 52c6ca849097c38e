package service

import (
	"context"
	"time"

	"github.com/armanrma7/rmbg/config"
	"github.com/redis/go-redis/v9"
)

// RedisCache is an optional shared cache tier for encoded cutouts, so a fleet
// of instances can reuse each other's work. It mirrors the MemoryCache
// contract; entries expire server-side.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(cfg *config.RedisConfig) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisCache{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get returns the cached PNG for the content hash, or (nil, nil) on a miss.
func (c *RedisCache) Get(ctx context.Context, hash string) ([]byte, error) {
	data, err := c.client.Get(ctx, "cutout:"+hash).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (c *RedisCache) Put(ctx context.Context, hash string, data []byte) error {
	return c.client.Set(ctx, "cutout:"+hash, data, c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
