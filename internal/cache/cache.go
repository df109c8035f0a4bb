// Package cache は分析レスポンスのキャッシュを提供する。
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache はバイト列を期限付きで保存するキャッシュ。
type Cache interface {
	// Get はkeyの値を返す。存在しない場合はfound=falseを返す。
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// NopCache は何も保存しないCache実装。REDIS_URL未設定時に使用する。
type NopCache struct{}

// Get は常に未ヒットを返す。
func (NopCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

// Set は何もしない。
func (NopCache) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// RedisCache はRedisに保存するCache実装。
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache はRedisCacheを生成する。keyPrefixが空の場合は"pubadmin:"を使用する。
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "pubadmin:"
	}
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

// NewRedisClient はredis://形式のURLからクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Get はキャッシュから値を取得する。
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, true, nil
}

// Set はキャッシュに値を保存する。
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// compile-time interface check
var (
	_ Cache = NopCache{}
	_ Cache = (*RedisCache)(nil)
)
