package authstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Redis is the general-purpose fallback backend.
type Redis struct {
	client *redis.Client
}

var _ Backend = (*Redis)(nil)

// NewRedis wraps an existing redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the value for key.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, nil
}

// Set writes the value without expiry; auth blobs live until sign-out.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Delete removes the key. Absence is not an error.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: delete %s: %w", key, err)
	}
	return nil
}

// Keys lists keys matching prefix.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.client.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list keys: %w", err)
	}
	return keys, nil
}
