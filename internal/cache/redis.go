package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a TTLCache backed by a Redis server, for gateway deployments that
// run more than one process and need the pricing/catalog cache to be
// shared rather than reloaded independently per process.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// RedisOptions configures the Redis-backed cache.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	DialTimeout time.Duration
}

// NewRedis dials Redis and verifies connectivity before returning.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "llm-gateway"
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opts.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	return &Redis{client: client, prefix: opts.KeyPrefix}, nil
}

func (c *Redis) makeKey(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.makeKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.makeKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
