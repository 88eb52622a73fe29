package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const healthKey = "gasoracle:health"

// RedisClient owns the shared Redis connection used by sessions, the reconcile
// queue, the gas price cache and the creation throttle.
type RedisClient struct {
	client *redis.Client
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address  string // host:port
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Command level retries inside go-redis; -1 disables them.
	MaxRetries int

	// ConnectAttempts bounds the initial PING loop. Zero means a single attempt.
	ConnectAttempts uint64
	ConnectDelay    time.Duration
}

// DefaultRedisConfig returns defaults for a local Redis
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Address:         "localhost:6379",
		PoolSize:        10,
		MinIdleConns:    2,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
		ConnectAttempts: 3,
		ConnectDelay:    time.Second,
	}
}

// NewRedisClient connects and pings, retrying the ping while Redis is still coming up.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   cfg.MaxRetries,
	})

	delay := cfg.ConnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	backoff := retry.WithMaxRetries(cfg.ConnectAttempts, retry.NewConstant(delay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &RedisClient{client: client}, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Health checks that Redis accepts writes, not just pings.
func (r *RedisClient) Health(ctx context.Context) error {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, healthKey)
	pipe.Expire(ctx, healthKey, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write failed: %w", err)
	}
	if incr.Val() < 1 {
		return fmt.Errorf("redis health counter is %d", incr.Val())
	}
	return nil
}

// Client returns the underlying go-redis client
func (r *RedisClient) Client() *redis.Client {
	return r.client
}
