package store

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

type (
	// RedisStore keeps the latest content under the path used as key.
	RedisStore struct {
		client *redis.Client
	}

	RedisConfig struct {
		Port int
		Host string
	}
)

var _ Saver = (*RedisStore)(nil)

func NewRedisStore(config RedisConfig) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", config.Host, config.Port),
	})}
}

func (r *RedisStore) Save(ctx context.Context, content, path string) {
	if err := r.client.Set(ctx, path, content, 0).Err(); err != nil {
		log.WithField("key", path).Errorf("failed to save secrets to redis: %v", err)
	}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (r *RedisStore) Close() { _ = r.client.Close() }
