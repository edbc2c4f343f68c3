package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the connection to the external key/value store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type redisBackend struct {
	client *redis.Client
}

// NewRedisBackend dials the backing store. The client owns connection
// pooling and transparent reconnection. Queue.Push reports a failure only
// after its own retry budget is exhausted; Queue.PopBatch does not retry
// and returns a backend error on its first failure.
func NewRedisBackend(cfg RedisConfig) (Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("queue: redis addr must not be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	return &redisBackend{client: client}, nil
}

func (b *redisBackend) RPush(ctx context.Context, list string, value []byte) error {
	return b.client.RPush(ctx, list, value).Err()
}

func (b *redisBackend) BLPop(ctx context.Context, list string, timeout time.Duration) ([]byte, error) {
	res, err := b.client.BLPop(ctx, timeout, list).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: blpop %s: %w", list, err)
	}
	// res is [list, value]; BLPop across a single key always returns that shape.
	if len(res) != 2 {
		return nil, fmt.Errorf("queue: unexpected blpop reply shape")
	}
	return []byte(res[1]), nil
}

func (b *redisBackend) LPop(ctx context.Context, list string) ([]byte, error) {
	res, err := b.client.LPop(ctx, list).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: lpop %s: %w", list, err)
	}
	return []byte(res), nil
}

func (b *redisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue: ping: %w", err)
	}
	return nil
}

func (b *redisBackend) Close() error {
	return b.client.Close()
}
