package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/studyhall/studyhall/pkg/models"
)

// Cache fronts job-status polls and backs rate limiting. The database record
// stays authoritative; cache misses and errors fall through to the store.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SetJob(ctx context.Context, job *models.Job, ttl time.Duration) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) SetJob(ctx context.Context, job *models.Job, ttl time.Duration) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, JobKey(job.ID), data, ttl).Err()
}

func (c *RedisCache) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, bool, error) {
	data, err := c.client.Get(ctx, JobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, false, err
	}
	return &job, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
