package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "finsight:cache:"

// RedisStore keeps blobs in Redis so several processes can share one cache.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to the Redis server at url and verifies connectivity.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// redisOwnerPrefix escapes owner so it holds no '/' or glob characters and
// can anchor a SCAN pattern.
func redisOwnerPrefix(owner string) string {
	return redisPrefix + url.QueryEscape(owner) + "/"
}

func redisKey(key Key) string {
	return redisOwnerPrefix(key.Owner) + strings.TrimPrefix(key.String(), key.Owner+"/")
}

func (r *RedisStore) Load(ctx context.Context, key Key) ([]byte, error) {
	data, err := r.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Store writes without expiry; freshness is decided by the envelope timestamp.
func (r *RedisStore) Store(ctx context.Context, key Key, data []byte) error {
	if err := r.rdb.Set(ctx, redisKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	return r.deleteMatching(ctx, redisPrefix+"*")
}

func (r *RedisStore) ClearOwner(ctx context.Context, owner string) error {
	return r.deleteMatching(ctx, redisOwnerPrefix(owner)+"*")
}

func (r *RedisStore) deleteMatching(ctx context.Context, pattern string) error {
	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
