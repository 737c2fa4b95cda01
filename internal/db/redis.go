package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"health-service/internal/models"
)

// RedisCache stores computed SLA results.
type RedisCache struct {
	*redis.Client
	ttl time.Duration
}

// NewRedisCache connects to url and verifies the connection.
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisCache{Client: client, ttl: ttl}, nil
}

// GetSla returns the cached result for key, if any.
func (r *RedisCache) GetSla(ctx context.Context, key string) (models.SlaData, bool, error) {
	raw, err := r.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.SlaData{}, false, nil
	}
	if err != nil {
		return models.SlaData{}, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	var data models.SlaData
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.SlaData{}, false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return data, true, nil
}

// SetSla caches data under key for the configured TTL.
func (r *RedisCache) SetSla(ctx context.Context, key string, data models.SlaData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := r.Set(ctx, key, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (r *RedisCache) HealthCheck(ctx context.Context) error {
	return r.Ping(ctx).Err()
}
