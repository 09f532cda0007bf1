package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the native Store backend, used when a Redis deployment is
// configured. Glob matching is delegated to Redis's own SCAN MATCH, which
// already speaks the `*`/`?` grammar the design requires.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if err := decode(data, dst); err != nil {
		return false, err
	}

	return true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, key, data, ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisStore) FindKeys(ctx context.Context, glob string) ([]string, error) {
	var keys []string

	iter := r.client.Scan(ctx, 0, glob, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

func (r *RedisStore) DeleteByPattern(ctx context.Context, glob string) (int, error) {
	keys, err := r.FindKeys(ctx, glob)
	if err != nil {
		return 0, err
	}

	if len(keys) == 0 {
		return 0, nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}

	return len(keys), nil
}
