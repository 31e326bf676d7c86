package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"safeping/internal/config"

	"github.com/redis/go-redis/v9"
)

// RedisNotificationState keeps alert bookkeeping in Redis so renotify
// decisions survive the agent restarting between wake-ups.
type RedisNotificationState struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisNotificationState(client *redis.Client, ttl time.Duration) *RedisNotificationState {
	return &RedisNotificationState{
		client: client,
		ttl:    ttl,
	}
}

type shownRecord struct {
	At time.Time `json:"at"`
}

func (r *RedisNotificationState) LastShown(ctx context.Context, tag string) (time.Time, bool, error) {
	if r.client == nil {
		return time.Time{}, false, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("alert_tag:%s", tag)
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get alert tag from redis: %w", err)
	}

	var rec shownRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return time.Time{}, false, fmt.Errorf("failed to unmarshal alert tag: %w", err)
	}

	return rec.At, true, nil
}

func (r *RedisNotificationState) MarkShown(ctx context.Context, tag string, at time.Time) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("alert_tag:%s", tag)
	data, err := json.Marshal(shownRecord{At: at})
	if err != nil {
		return fmt.Errorf("failed to marshal alert tag: %w", err)
	}

	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set alert tag in redis: %w", err)
	}

	return nil
}

func (r *RedisNotificationState) ClearTag(ctx context.Context, tag string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("alert_tag:%s", tag)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete alert tag from redis: %w", err)
	}
	return nil
}

func (r *RedisNotificationState) CheckRateLimit(ctx context.Context, tag string, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf("realert_limit:%s", tag)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment re-alert limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}

// Ping verifies the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
