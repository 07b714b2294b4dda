package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisCounter backs sequence numbering with INCR so several API instances
// share one daily counter.
type RedisCounter struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// Client exposes the connection so pub/sub can share it.
func (c *RedisCounter) Client() *redis.Client {
	return c.client
}

func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCounter) Close() error {
	return c.client.Close()
}

// IncrementCounter bumps key and pins its expiry in the same round trip.
func (c *RedisCounter) IncrementCounter(ctx context.Context, key string, expireAt time.Time) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// AdvanceCounter moves key forward by n, used when the key was lost and
// numbers for the day already exist.
func (c *RedisCounter) AdvanceCounter(ctx context.Context, key string, by int64, expireAt time.Time) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, by)
	pipe.ExpireAt(ctx, key, expireAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
