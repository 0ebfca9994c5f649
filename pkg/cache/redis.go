package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanCount = 100

// Redis is a Backend on a Redis server
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr and verifies the connection
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &Redis{client: client}, nil
}

// Get implements Backend
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", wrapRedis("get", key, err)
	}
	return val, nil
}

// Set implements Backend
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return wrapRedis("set", key, err)
	}
	return nil
}

// Del implements Backend
func (r *Redis) Del(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, wrapRedis("del", strings.Join(keys, ","), err)
	}
	return int(n), nil
}

// RPush implements Backend. The push and the expiry refresh run in one MULTI block.
func (r *Redis) RPush(ctx context.Context, key string, ttl time.Duration, values ...string) error {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, args...)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return wrapRedis("rpush", key, err)
	}
	return nil
}

// LRange implements Backend
func (r *Redis) LRange(ctx context.Context, key string) ([]string, error) {
	vals, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, wrapRedis("lrange", key, err)
	}
	return vals, nil
}

// Keys implements Backend with SCAN rather than KEYS
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	seen := make(map[string]bool)
	iter := r.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for iter.Next(ctx) {
		// SCAN may return a key more than once
		if key := iter.Val(); !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, wrapRedis("scan", pattern, err)
	}
	return keys, nil
}

// Ping implements Backend
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Backend
func (r *Redis) Close() error {
	return r.client.Close()
}

func wrapRedis(op, key string, err error) error {
	if strings.HasPrefix(err.Error(), "WRONGTYPE") {
		return fmt.Errorf("%w: %s", ErrWrongType, key)
	}
	return fmt.Errorf("redis %s %s: %w", op, key, err)
}
